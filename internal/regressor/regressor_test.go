package regressor

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/Dan9191/incast-service/internal/models"
	"github.com/Dan9191/incast-service/internal/timeseries"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() TrainerConfig {
	return TrainerConfig{
		HiddenUnits:    40,
		Epochs:         300,
		LearningRate:   0.001,
		BatchSize:      32,
		ValidationSize: 20,
		Seed:           42,
	}
}

// salarySeries is a smoothed salary series of n months with a yearly bonus
func salarySeries(n int) []float64 {
	raw := make([]float64, n)
	for i := range raw {
		raw[i] = 3000 + float64(i)*10
		if i%12 == 11 {
			raw[i] += 2500
		}
	}
	return timeseries.Smooth(raw, 0.05)
}

func TestTrain_Deterministic(t *testing.T) {
	examples := timeseries.Window(salarySeries(40), 5)

	m1, r1, err := NewTrainer(testConfig()).Train(examples)
	require.NoError(t, err)
	m2, r2, err := NewTrainer(testConfig()).Train(examples)
	require.NoError(t, err)

	assert.Equal(t, m1, m2)
	assert.Equal(t, r1, r2)
	assert.Equal(t, 15, r1.TrainSize)
	assert.Equal(t, 20, r1.ValidationSize)
	assert.False(t, math.IsNaN(r1.R2))
}

func TestTrain_R2MatchesValidationPredictions(t *testing.T) {
	examples := timeseries.Window(salarySeries(40), 5)
	m, report, err := NewTrainer(testConfig()).Train(examples)
	require.NoError(t, err)

	val := examples[len(examples)-20:]
	yVal := make([]float64, len(val))
	pVal := make([]float64, len(val))
	for i, ex := range val {
		yVal[i] = ex.Label
		pVal[i], err = m.Predict(ex.Window)
		require.NoError(t, err)
	}
	assert.Equal(t, R2Score(yVal, pVal), report.R2)
}

func TestTrain_ReducesLoss(t *testing.T) {
	examples := timeseries.Window(salarySeries(40), 5)

	short := testConfig()
	short.Epochs = 1
	short.LearningRate = 0.01
	_, before, err := NewTrainer(short).Train(examples)
	require.NoError(t, err)

	long := short
	long.Epochs = 300
	_, after, err := NewTrainer(long).Train(examples)
	require.NoError(t, err)

	assert.Less(t, after.Loss, before.Loss)
}

func TestTrain_InsufficientExamples(t *testing.T) {
	// 6 salaries give a single example, the split needs 21
	examples := timeseries.Window([]float64{100, 100, 100, 100, 100, 100}, 5)
	require.Len(t, examples, 1)

	_, _, err := NewTrainer(testConfig()).Train(examples)
	var insufficient *models.InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 21, insufficient.Required)
	assert.Equal(t, 1, insufficient.Actual)
}

func TestTrain_InconsistentWindows(t *testing.T) {
	examples := timeseries.Window(salarySeries(30), 5)
	examples[3].Window = examples[3].Window[:4]

	_, _, err := NewTrainer(testConfig()).Train(examples)
	assert.Error(t, err)
}

func TestPredict_ShapeMismatch(t *testing.T) {
	m := newMLP(5, 3, 1)

	_, err := m.Predict([]float64{1, 2, 3})
	var shape *models.ShapeMismatchError
	require.True(t, errors.As(err, &shape))
	assert.Equal(t, 5, shape.Expected)
	assert.Equal(t, 3, shape.Actual)
}

func TestPredict_KnownWeights(t *testing.T) {
	m := newMLP(2, 2, 10)
	m.W1 = []float64{1, 0, 0, -1}
	m.B1 = []float64{0, 0}
	m.W2 = []float64{2, 5}
	m.B2 = 0.5

	// x = [1, 2] after scaling; hidden = [relu(1), relu(-2)] = [1, 0]
	p, err := m.Predict([]float64{10, 20})
	require.NoError(t, err)
	assert.InDelta(t, (2*1+0.5)*10, p, 1e-9)
}

func TestMarshal_RoundTrip(t *testing.T) {
	examples := timeseries.Window(salarySeries(30), 5)
	m, _, err := NewTrainer(testConfig()).Train(examples)
	require.NoError(t, err)

	data, err := Marshal(m)
	require.NoError(t, err)
	restored, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, KindMLP, restored.Kind())
	assert.Equal(t, 5, restored.WindowSize())

	window := []float64{3000, 3010, 3020, 3030, 3040}
	want, err := m.Predict(window)
	require.NoError(t, err)
	got, err := restored.Predict(window)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-9)
}

func TestUnmarshal_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "keras"},
		{name: "unknown kind", data: `{"kind":"lstm","model":{}}`},
		{name: "weights do not match shape", data: `{"kind":"mlp","model":{"inputs":5,"hidden":2,"scale":1,"w1":[1],"b1":[0,0],"w2":[1,1],"b2":0}}`},
		{name: "zero scale", data: `{"kind":"mlp","model":{"inputs":1,"hidden":1,"scale":0,"w1":[1],"b1":[0],"w2":[1],"b2":0}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestGradients_MatchNumerical(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	m := newMLP(3, 4, 1)
	glorotUniform(rng, m.W1, 3, 4)
	glorotUniform(rng, m.W2, 4, 1)
	for j := range m.B1 {
		m.B1[j] = 0.5
	}

	xs := [][]float64{{0.9, 1.0, 1.1}, {1.2, 0.8, 1.0}}
	ys := []float64{3, 4}
	batch := []int{0, 1}

	loss := func() float64 {
		pre := make([]float64, m.Hidden)
		pred := make([]float64, len(xs))
		for i, x := range xs {
			pred[i] = m.forward(x, pre)
		}
		return MAPE(ys, pred)
	}

	grads := m.gradients(xs, ys, batch)
	params := make([]*float64, 0, len(grads))
	for k := range m.W1 {
		params = append(params, &m.W1[k])
	}
	for k := range m.B1 {
		params = append(params, &m.B1[k])
	}
	for k := range m.W2 {
		params = append(params, &m.W2[k])
	}
	params = append(params, &m.B2)
	require.Len(t, params, len(grads))

	const h = 1e-6
	for i, p := range params {
		orig := *p
		*p = orig + h
		up := loss()
		*p = orig - h
		down := loss()
		*p = orig
		assert.InDelta(t, (up-down)/(2*h), grads[i], 1e-4, "param %d", i)
	}
}

func TestR2Score(t *testing.T) {
	tests := []struct {
		name   string
		actual []float64
		pred   []float64
		want   float64
	}{
		{name: "perfect", actual: []float64{1, 2, 3}, pred: []float64{1, 2, 3}, want: 1},
		{name: "mean prediction", actual: []float64{1, 2, 3}, pred: []float64{2, 2, 2}, want: 0},
		{name: "worse than mean", actual: []float64{1, 2, 3}, pred: []float64{3, 2, 1}, want: -3},
		{name: "constant exact", actual: []float64{5, 5}, pred: []float64{5, 5}, want: 1},
		{name: "constant missed", actual: []float64{5, 5}, pred: []float64{4, 6}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, R2Score(tt.actual, tt.pred), 1e-12)
		})
	}
}

func TestMAPE(t *testing.T) {
	assert.InDelta(t, 10.0, MAPE([]float64{100, 200}, []float64{110, 180}), 1e-9)
	assert.Equal(t, 0.0, MAPE(nil, nil))
}
