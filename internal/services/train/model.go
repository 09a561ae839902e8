package train

import (
	"fmt"

	"FinTrain/internal/domain/models"
)

// Model wraps a deployed weights blob for inference.
type Model struct {
	net *network
}

// LoadModel restores a model from serialized weights.
func LoadModel(weights []byte) (*Model, error) {
	net, err := loadNetwork(weights)
	if err != nil {
		return nil, err
	}
	return &Model{net: net}, nil
}

// Mode reports which label mode the model was trained in.
func (m *Model) Mode() models.LabelMode { return models.LabelMode(m.net.Mode) }

// InputSize reports the feature count each window row must have.
func (m *Model) InputSize() int { return m.net.InputSize }

// Predict runs one normalized window through the network. Direction models
// return the up-move probability; regression models return the prediction
// on the scaled label axis.
func (m *Model) Predict(window [][]float64) (float64, error) {
	if len(window) == 0 {
		return 0, fmt.Errorf("empty window")
	}
	for i, row := range window {
		if len(row) != m.net.InputSize {
			return 0, fmt.Errorf("window row %d has %d features, model wants %d", i, len(row), m.net.InputSize)
		}
	}
	return m.net.predict(window), nil
}

// Denormalize maps a regression prediction back to raw label units using
// the scaling fitted at training time.
func (m *Model) Denormalize(v float64) float64 {
	return v*(m.net.LabelMax-m.net.LabelMin) + m.net.LabelMin
}

// Normalize maps a raw label value onto the scaled axis predictions live on.
func (m *Model) Normalize(v float64) float64 {
	return (v - m.net.LabelMin) / (m.net.LabelMax - m.net.LabelMin)
}
