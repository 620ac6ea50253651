package regressor

import (
	"fmt"
	"math"

	"github.com/Dan9191/incast-service/internal/models"
)

// KindMLP identifies the single-hidden-layer network
const KindMLP = "mlp"

// MLP is a feed-forward network with one ReLU hidden layer and a linear
// output. Inputs and output are expressed in units of Scale.
type MLP struct {
	Inputs int     `json:"inputs"`
	Hidden int     `json:"hidden"`
	Scale  float64 `json:"scale"`
	// W1 is Hidden x Inputs, row major
	W1 []float64 `json:"w1"`
	B1 []float64 `json:"b1"`
	W2 []float64 `json:"w2"`
	B2 float64   `json:"b2"`
}

func newMLP(inputs, hidden int, scale float64) *MLP {
	return &MLP{
		Inputs: inputs,
		Hidden: hidden,
		Scale:  scale,
		W1:     make([]float64, hidden*inputs),
		B1:     make([]float64, hidden),
		W2:     make([]float64, hidden),
	}
}

func (m *MLP) Kind() string {
	return KindMLP
}

func (m *MLP) WindowSize() int {
	return m.Inputs
}

// Predict returns the predicted next value for window
func (m *MLP) Predict(window []float64) (float64, error) {
	if len(window) != m.Inputs {
		return 0, &models.ShapeMismatchError{Expected: m.Inputs, Actual: len(window)}
	}
	x := make([]float64, m.Inputs)
	for i, v := range window {
		x[i] = v / m.Scale
	}
	hidden := make([]float64, m.Hidden)
	return m.forward(x, hidden) * m.Scale, nil
}

// forward computes the normalized output and stores the hidden
// pre-activations in pre
func (m *MLP) forward(x, pre []float64) float64 {
	out := m.B2
	for j := 0; j < m.Hidden; j++ {
		z := m.B1[j]
		row := m.W1[j*m.Inputs : (j+1)*m.Inputs]
		for k, xk := range x {
			z += row[k] * xk
		}
		pre[j] = z
		if z > 0 {
			out += m.W2[j] * z
		}
	}
	return out
}

func (m *MLP) validate() error {
	switch {
	case m.Inputs < 1 || m.Hidden < 1:
		return fmt.Errorf("invalid mlp shape %dx%d", m.Inputs, m.Hidden)
	case len(m.W1) != m.Inputs*m.Hidden, len(m.B1) != m.Hidden, len(m.W2) != m.Hidden:
		return fmt.Errorf("mlp weights do not match shape %dx%d", m.Inputs, m.Hidden)
	case m.Scale == 0 || math.IsNaN(m.Scale) || math.IsInf(m.Scale, 0):
		return fmt.Errorf("invalid mlp scale %v", m.Scale)
	}
	return nil
}
