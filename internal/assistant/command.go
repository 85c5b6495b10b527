package assistant

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

type CommandName string

const (
	AudioVolumeSetAbsolute     CommandName = "AUDIO_VOLUME_SET_ABSOLUTE"
	HVACTemperatureSetRelative CommandName = "HVAC_TEMPERATURE_SET_RELATIVE"
	VehicleLockWindow          CommandName = "VEHICLE_LOCK_WINDOW"
)

var (
	ErrUnknownCommand    = errors.New("unknown command")
	ErrValueTypeMismatch = errors.New("value type does not match command")
	ErrMissingField      = errors.New("missing field")
)

// Command is one of SetAudioVolume, SetHVACTemperature or SetWindowLock.
type Command interface {
	Name() CommandName
	// ValueType is the argument type named in the wire format.
	ValueType() string
	Value() any
	String() string
}

// SetAudioVolume sets the absolute volume, 0 < Level < 100.
type SetAudioVolume struct{ Level int }

func (SetAudioVolume) Name() CommandName { return AudioVolumeSetAbsolute }
func (SetAudioVolume) ValueType() string { return "number" }
func (c SetAudioVolume) Value() any      { return c.Level }
func (c SetAudioVolume) String() string  { return fmt.Sprintf("%s[%d]", c.Name(), c.Level) }

// SetHVACTemperature changes the cabin temperature; positive is warmer.
type SetHVACTemperature struct{ Delta float64 }

func (SetHVACTemperature) Name() CommandName { return HVACTemperatureSetRelative }
func (SetHVACTemperature) ValueType() string { return "float" }
func (c SetHVACTemperature) Value() any      { return c.Delta }
func (c SetHVACTemperature) String() string {
	return fmt.Sprintf("%s[%s]", c.Name(), formatFloat(c.Delta))
}

// SetWindowLock locks (true) or unlocks the windows.
type SetWindowLock struct{ Locked bool }

func (SetWindowLock) Name() CommandName { return VehicleLockWindow }
func (SetWindowLock) ValueType() string { return "bool" }
func (c SetWindowLock) Value() any      { return c.Locked }
func (c SetWindowLock) String() string  { return fmt.Sprintf("%s[%t]", c.Name(), c.Locked) }

// formatFloat always keeps a fractional part, so -2 prints as -2.0.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	return s
}

type wireCommand struct {
	CommandName *string         `json:"commandName"`
	Value       json.RawMessage `json:"value"`
	ValueType   *string         `json:"valueType"`
}

// decodeCommand dispatches on commandName and checks valueType against the
// argument type of that command before decoding the value.
func decodeCommand(data []byte) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	switch {
	case w.CommandName == nil:
		return nil, fmt.Errorf("%w: commandName", ErrMissingField)
	case w.ValueType == nil:
		return nil, fmt.Errorf("%w: valueType", ErrMissingField)
	case len(w.Value) == 0:
		return nil, fmt.Errorf("%w: value", ErrMissingField)
	}

	var cmd Command
	var err error
	switch CommandName(*w.CommandName) {
	case AudioVolumeSetAbsolute:
		var c SetAudioVolume
		err = decodeValue(w, c.ValueType(), &c.Level)
		cmd = c
	case HVACTemperatureSetRelative:
		var c SetHVACTemperature
		err = decodeValue(w, c.ValueType(), &c.Delta)
		cmd = c
	case VehicleLockWindow:
		var c SetWindowLock
		err = decodeValue(w, c.ValueType(), &c.Locked)
		cmd = c
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, *w.CommandName)
	}
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func decodeValue(w wireCommand, want string, dst any) error {
	if *w.ValueType != want {
		return fmt.Errorf("%w: %s takes %q, got %q", ErrValueTypeMismatch, *w.CommandName, want, *w.ValueType)
	}
	if err := json.Unmarshal(w.Value, dst); err != nil {
		return fmt.Errorf("%s value: %w", *w.CommandName, err)
	}
	return nil
}

// VehicleResponse is the assistant's reply: a message for the user and the
// command to execute.
type VehicleResponse struct {
	Message string
	Command Command
}

// DecodeVehicleResponse parses
// {"message": ..., "command": {"commandName", "value", "valueType"}}.
func DecodeVehicleResponse(data []byte) (VehicleResponse, error) {
	var raw struct {
		Message *string         `json:"message"`
		Command json.RawMessage `json:"command"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return VehicleResponse{}, err
	}
	if raw.Message == nil {
		return VehicleResponse{}, fmt.Errorf("%w: message", ErrMissingField)
	}
	if len(raw.Command) == 0 || string(raw.Command) == "null" {
		return VehicleResponse{}, fmt.Errorf("%w: command", ErrMissingField)
	}
	cmd, err := decodeCommand(raw.Command)
	if err != nil {
		return VehicleResponse{}, fmt.Errorf("command: %w", err)
	}
	return VehicleResponse{Message: *raw.Message, Command: cmd}, nil
}

// MarshalJSON writes the same shape DecodeVehicleResponse reads, plus the
// rendered command under "summary".
func (r VehicleResponse) MarshalJSON() ([]byte, error) {
	type command struct {
		CommandName CommandName `json:"commandName"`
		Value       any         `json:"value"`
		ValueType   string      `json:"valueType"`
	}
	out := struct {
		Message string   `json:"message"`
		Command *command `json:"command"`
		Summary string   `json:"summary,omitempty"`
	}{Message: r.Message}
	if r.Command != nil {
		out.Command = &command{r.Command.Name(), r.Command.Value(), r.Command.ValueType()}
		out.Summary = r.Command.String()
	}
	return json.Marshal(out)
}
