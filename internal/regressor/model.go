// Package regressor holds the forecasting models: a capability interface,
// its serialized envelope and the feed-forward network variant.
package regressor

import (
	"encoding/json"
	"fmt"
)

// Model predicts the next smoothed salary from the previous WindowSize ones
type Model interface {
	Kind() string
	WindowSize() int
	Predict(window []float64) (float64, error)
}

type envelope struct {
	Kind  string          `json:"kind"`
	Model json.RawMessage `json:"model"`
}

// Marshal serializes a model together with its kind
func Marshal(m Model) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s model: %w", m.Kind(), err)
	}
	return json.Marshal(envelope{Kind: m.Kind(), Model: body})
}

// Unmarshal restores a model serialized by Marshal
func Unmarshal(data []byte) (Model, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode model envelope: %w", err)
	}

	switch env.Kind {
	case KindMLP:
		m := &MLP{}
		if err := json.Unmarshal(env.Model, m); err != nil {
			return nil, fmt.Errorf("failed to decode mlp model: %w", err)
		}
		if err := m.validate(); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", env.Kind)
	}
}
