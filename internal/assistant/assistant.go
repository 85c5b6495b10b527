// Package assistant turns grammar-constrained JSON output into typed results:
// an in-vehicle command assistant and a review emotion estimator.
package assistant

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/samcharles93/hearth/internal/grammar"
	"github.com/samcharles93/hearth/internal/logger"
)

// Generator produces text constrained by a grammar. *chat.Orchestrator
// implements it.
type Generator interface {
	GenerateConstrained(ctx context.Context, prompt string, gr *grammar.Grammar) (string, error)
}

// ResponseError reports model output that could not be decoded.
type ResponseError struct {
	Raw string
	Err error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("decode model output %q: %v", e.Raw, e.Err)
}

func (e *ResponseError) Unwrap() error { return e.Err }

const vehicleInstruction = `The data is request by user and response of in-vehicle infortainment AI assitant. AI assistant can use following commands; "AUDIO_VOLUME_SET_ABSOLUTE" (arg: 0<number<100) / "HVAC_TEMPERATURE_SET_RELATIVE" (arg: float, positive is warmer) / "VEHICLE_LOCK_WINDOW" (arg: bool, true is locked).
There must be message and command. command includes commandName, value, and valueType.

req: "Please lock the windows"
res: {"message": "sure, windows are now locked.", "command": {"commandName": "VEHICLE_LOCK_WINDOW", "value": true, "valueType": "bool"}}

req: "It's too hot!"
res: {"message": "I'm sorry, I'll lower the temperature soon.", "command": {"commandName": "HVAC_TEMPERATURE_SET_RELATIVE", "value": -2.0, "valueType": "float"}}

`

const emotionInstruction = `The following data is emotion estimation data of user review. There are three metris including "sadness", "joy", and "anger". For each key, strength value of 0-5 is applied.

Review: "This is a great app!"
{"joy": 5, "anger": 0, "sadness": 0}

`

// VehiclePrompt is the few-shot prompt for a single user request.
func VehiclePrompt(request string) string {
	return vehicleInstruction + "req: " + strconv.Quote(request) + "\nres:"
}

// EmotionPrompt is the few-shot prompt for a single review.
func EmotionPrompt(review string) string {
	return emotionInstruction + "Review: " + strconv.Quote(review)
}

type Assistant struct {
	gen    Generator
	logger logger.Logger
}

func New(gen Generator, log logger.Logger) *Assistant {
	return &Assistant{gen: gen, logger: logger.Component(log, "assistant")}
}

// Vehicle asks the model for a reply and a command for request.
func (a *Assistant) Vehicle(ctx context.Context, request string) (VehicleResponse, error) {
	out, err := a.gen.GenerateConstrained(ctx, VehiclePrompt(request), grammar.JSON())
	if err != nil {
		return VehicleResponse{}, err
	}
	a.logger.Debug("vehicle output", "raw", out)
	resp, err := DecodeVehicleResponse([]byte(strings.TrimSpace(out)))
	if err != nil {
		return VehicleResponse{}, &ResponseError{Raw: out, Err: err}
	}
	a.logger.Info("vehicle command", "command", resp.Command.String())
	return resp, nil
}

// Emotion estimates joy, anger and sadness in review.
func (a *Assistant) Emotion(ctx context.Context, review string) (Emotion, error) {
	out, err := a.gen.GenerateConstrained(ctx, EmotionPrompt(review), grammar.JSON())
	if err != nil {
		return Emotion{}, err
	}
	a.logger.Debug("emotion output", "raw", out)
	e, err := DecodeEmotion([]byte(strings.TrimSpace(out)))
	if err != nil {
		return Emotion{}, &ResponseError{Raw: out, Err: err}
	}
	return e, nil
}
