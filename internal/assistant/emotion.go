package assistant

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

const maxStrength = 5

var ErrStrengthRange = errors.New("emotion strength out of range")

// Emotion scores a review on three axes, each 0-5.
type Emotion struct {
	Joy     int `json:"joy"`
	Anger   int `json:"anger"`
	Sadness int `json:"sadness"`
}

func DecodeEmotion(data []byte) (Emotion, error) {
	var raw struct {
		Joy     *int `json:"joy"`
		Anger   *int `json:"anger"`
		Sadness *int `json:"sadness"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Emotion{}, err
	}
	fields := []struct {
		name string
		v    *int
	}{{"joy", raw.Joy}, {"anger", raw.Anger}, {"sadness", raw.Sadness}}
	for _, f := range fields {
		if f.v == nil {
			return Emotion{}, fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
		if *f.v < 0 || *f.v > maxStrength {
			return Emotion{}, fmt.Errorf("%w: %s=%d", ErrStrengthRange, f.name, *f.v)
		}
	}
	return Emotion{Joy: *raw.Joy, Anger: *raw.Anger, Sadness: *raw.Sadness}, nil
}
