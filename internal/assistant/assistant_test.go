package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	json "github.com/goccy/go-json"

	"github.com/samcharles93/hearth/internal/backend"
	"github.com/samcharles93/hearth/internal/backend/backendtest"
	"github.com/samcharles93/hearth/internal/chat"
	"github.com/samcharles93/hearth/internal/grammar"
	"github.com/samcharles93/hearth/internal/inference"
	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/session"
)

func TestDecodeVehicleResponse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		want    Command
		summary string
		wantErr error
	}{
		{
			name:    "lock",
			in:      `{"message": "sure", "command": {"commandName": "VEHICLE_LOCK_WINDOW", "value": true, "valueType": "bool"}}`,
			want:    SetWindowLock{Locked: true},
			summary: "VEHICLE_LOCK_WINDOW[true]",
		},
		{
			name:    "hvac",
			in:      `{"message": "cooling", "command": {"commandName": "HVAC_TEMPERATURE_SET_RELATIVE", "value": -2.0, "valueType": "float"}}`,
			want:    SetHVACTemperature{Delta: -2},
			summary: "HVAC_TEMPERATURE_SET_RELATIVE[-2.0]",
		},
		{
			name:    "volume",
			in:      `{"message": "ok", "command": {"valueType": "number", "value": 30, "commandName": "AUDIO_VOLUME_SET_ABSOLUTE"}}`,
			want:    SetAudioVolume{Level: 30},
			summary: "AUDIO_VOLUME_SET_ABSOLUTE[30]",
		},
		{
			name:    "type mismatch",
			in:      `{"message": "ok", "command": {"commandName": "VEHICLE_LOCK_WINDOW", "value": 1, "valueType": "number"}}`,
			wantErr: ErrValueTypeMismatch,
		},
		{
			name:    "unknown command",
			in:      `{"message": "ok", "command": {"commandName": "SEAT_HEAT", "value": 1, "valueType": "number"}}`,
			wantErr: ErrUnknownCommand,
		},
		{
			name:    "missing message",
			in:      `{"command": {"commandName": "VEHICLE_LOCK_WINDOW", "value": true, "valueType": "bool"}}`,
			wantErr: ErrMissingField,
		},
		{
			name:    "missing command",
			in:      `{"message": "ok"}`,
			wantErr: ErrMissingField,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeVehicleResponse([]byte(tc.in))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.want, got.Command); diff != "" {
				t.Fatalf("command (-want +got):\n%s", diff)
			}
			if got.Command.String() != tc.summary {
				t.Fatalf("summary %q", got.Command.String())
			}
		})
	}
}

func TestVehicleResponseJSONRoundTrip(t *testing.T) {
	t.Parallel()

	in := VehicleResponse{Message: "warmer", Command: SetHVACTemperature{Delta: 1.5}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeVehicleResponse(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
	if !strings.Contains(string(data), `"summary":"HVAC_TEMPERATURE_SET_RELATIVE[1.5]"`) {
		t.Fatalf("summary missing: %s", data)
	}
}

func TestDecodeEmotion(t *testing.T) {
	t.Parallel()

	got, err := DecodeEmotion([]byte(`{"joy": 5, "anger": 0, "sadness": 1}`))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Emotion{Joy: 5, Sadness: 1}, got); diff != "" {
		t.Fatalf("emotion (-want +got):\n%s", diff)
	}
	if _, err := DecodeEmotion([]byte(`{"joy": 6, "anger": 0, "sadness": 0}`)); !errors.Is(err, ErrStrengthRange) {
		t.Fatalf("expected range error, got %v", err)
	}
	if _, err := DecodeEmotion([]byte(`{"joy": 1, "anger": 0}`)); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected missing field, got %v", err)
	}
}

type cannedGen struct {
	out     string
	prompts []string
}

func (g *cannedGen) GenerateConstrained(_ context.Context, prompt string, gr *grammar.Grammar) (string, error) {
	if gr == nil {
		return "", errors.New("no grammar")
	}
	g.prompts = append(g.prompts, prompt)
	return g.out, nil
}

func TestVehiclePromptEndsWithRequest(t *testing.T) {
	t.Parallel()

	g := &cannedGen{out: `{"message": "done", "command": {"commandName": "AUDIO_VOLUME_SET_ABSOLUTE", "value": 20, "valueType": "number"}}` + "\n"}
	resp, err := New(g, logger.Nop()).Vehicle(context.Background(), `Turn it "down"`)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message != "done" || resp.Command != (SetAudioVolume{Level: 20}) {
		t.Fatalf("response %+v", resp)
	}
	if !strings.HasSuffix(g.prompts[0], "req: \"Turn it \\\"down\\\"\"\nres:") {
		t.Fatalf("prompt tail %q", g.prompts[0][len(g.prompts[0])-40:])
	}
}

func TestEmotionReportsUndecodableOutput(t *testing.T) {
	t.Parallel()

	g := &cannedGen{out: `{"joy": 1, "anger": `}
	_, err := New(g, nil).Emotion(context.Background(), "meh")
	var respErr *ResponseError
	if !errors.As(err, &respErr) || respErr.Raw != g.out {
		t.Fatalf("expected ResponseError, got %v", err)
	}
	if !strings.HasSuffix(g.prompts[0], `Review: "meh"`) {
		t.Fatalf("prompt tail %q", g.prompts[0])
	}
}

func TestEmotionThroughGrammarConstrainedChat(t *testing.T) {
	t.Parallel()

	out := `{"joy": 1, "anger": 0, "sadness": 2}` + "\n"
	m := backendtest.NewModel(strings.Split(out, "")...)
	sess, err := session.New(m, backend.ContextParams{ContextSize: 1024}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	o := chat.New(inference.NewGenerator(sess, logger.Nop()))

	got, err := New(o, logger.Nop()).Emotion(context.Background(), "not bad")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Emotion{Joy: 1, Sadness: 2}, got); diff != "" {
		t.Fatalf("emotion (-want +got):\n%s", diff)
	}
}
