package regressor

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/Dan9191/incast-service/internal/timeseries"
)

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
	// mapeEpsilon keeps the percentage error finite for zero labels
	mapeEpsilon = 1e-7
)

// TrainerConfig holds the training hyperparameters
type TrainerConfig struct {
	HiddenUnits    int
	Epochs         int
	LearningRate   float64
	BatchSize      int
	ValidationSize int
	Seed           int64
}

// Trainer fits MLP models minimizing mean absolute percentage error with Adam
type Trainer struct {
	cfg TrainerConfig
}

// NewTrainer initializes a trainer
func NewTrainer(cfg TrainerConfig) *Trainer {
	return &Trainer{cfg: cfg}
}

// Report describes a finished training run
type Report struct {
	TrainSize      int
	ValidationSize int
	// Loss is the final training MAPE, in percent
	Loss float64
	R2   float64
}

// Train fits a model on all but the last ValidationSize examples and scores
// it with R2 on the held out ones. Every epoch runs; there is no early
// stopping.
func (t *Trainer) Train(examples []timeseries.Example) (*MLP, Report, error) {
	train, val, err := timeseries.Split(examples, t.cfg.ValidationSize)
	if err != nil {
		return nil, Report{}, err
	}

	inputs := len(examples[0].Window)
	for i, ex := range examples {
		if len(ex.Window) != inputs {
			return nil, Report{}, fmt.Errorf("example %d has window of %d values, expected %d", i, len(ex.Window), inputs)
		}
	}

	rng := rand.New(rand.NewSource(t.cfg.Seed))
	m := newMLP(inputs, t.cfg.HiddenUnits, labelScale(train))
	glorotUniform(rng, m.W1, inputs, m.Hidden)
	glorotUniform(rng, m.W2, m.Hidden, 1)

	xs := make([][]float64, len(train))
	ys := make([]float64, len(train))
	for i, ex := range train {
		xs[i] = make([]float64, inputs)
		for k, v := range ex.Window {
			xs[i][k] = v / m.Scale
		}
		ys[i] = ex.Label / m.Scale
	}

	opt := newAdam(m, t.cfg.LearningRate)
	batch := t.cfg.BatchSize
	if batch < 1 || batch > len(train) {
		batch = len(train)
	}

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		order := rng.Perm(len(train))
		for start := 0; start < len(order); start += batch {
			end := start + batch
			if end > len(order) {
				end = len(order)
			}
			grads := m.gradients(xs, ys, order[start:end])
			opt.step(m, grads)
		}
	}

	report := Report{TrainSize: len(train), ValidationSize: len(val)}

	pred := make([]float64, len(train))
	labels := make([]float64, len(train))
	for i, ex := range train {
		pred[i], _ = m.Predict(ex.Window)
		labels[i] = ex.Label
	}
	report.Loss = MAPE(labels, pred)

	yVal := make([]float64, len(val))
	pVal := make([]float64, len(val))
	for i, ex := range val {
		yVal[i] = ex.Label
		pVal[i], _ = m.Predict(ex.Window)
	}
	report.R2 = R2Score(yVal, pVal)

	return m, report, nil
}

// gradients of the batch MAPE with respect to every weight, laid out as
// W1, B1, W2, B2
func (m *MLP) gradients(xs [][]float64, ys []float64, batch []int) []float64 {
	nW1 := len(m.W1)
	grads := make([]float64, nW1+2*m.Hidden+1)
	gW1 := grads[:nW1]
	gB1 := grads[nW1 : nW1+m.Hidden]
	gW2 := grads[nW1+m.Hidden : nW1+2*m.Hidden]

	pre := make([]float64, m.Hidden)
	n := float64(len(batch))
	for _, i := range batch {
		x, y := xs[i], ys[i]
		p := m.forward(x, pre)

		diff := p - y
		if diff == 0 {
			continue
		}
		g := 100 / (n * math.Max(math.Abs(y), mapeEpsilon))
		if diff < 0 {
			g = -g
		}

		grads[len(grads)-1] += g
		for j := 0; j < m.Hidden; j++ {
			if pre[j] <= 0 {
				continue
			}
			gW2[j] += g * pre[j]
			d := g * m.W2[j]
			gB1[j] += d
			row := gW1[j*m.Inputs : (j+1)*m.Inputs]
			for k, xk := range x {
				row[k] += d * xk
			}
		}
	}
	return grads
}

type adam struct {
	lr   float64
	t    int
	m, v []float64
}

func newAdam(m *MLP, lr float64) *adam {
	n := len(m.W1) + 2*m.Hidden + 1
	return &adam{lr: lr, m: make([]float64, n), v: make([]float64, n)}
}

func (a *adam) step(model *MLP, grads []float64) {
	a.t++
	c1 := 1 - math.Pow(adamBeta1, float64(a.t))
	c2 := 1 - math.Pow(adamBeta2, float64(a.t))

	update := func(i int, w *float64) {
		g := grads[i]
		a.m[i] = adamBeta1*a.m[i] + (1-adamBeta1)*g
		a.v[i] = adamBeta2*a.v[i] + (1-adamBeta2)*g*g
		*w -= a.lr * (a.m[i] / c1) / (math.Sqrt(a.v[i]/c2) + adamEpsilon)
	}

	i := 0
	for k := range model.W1 {
		update(i, &model.W1[k])
		i++
	}
	for k := range model.B1 {
		update(i, &model.B1[k])
		i++
	}
	for k := range model.W2 {
		update(i, &model.W2[k])
		i++
	}
	update(i, &model.B2)
}

func glorotUniform(rng *rand.Rand, w []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
}

// labelScale is the mean absolute training label, 1 when all labels are 0
func labelScale(train []timeseries.Example) float64 {
	var sum float64
	for _, ex := range train {
		sum += math.Abs(ex.Label)
	}
	if sum == 0 {
		return 1
	}
	return sum / float64(len(train))
}

// MAPE returns the mean absolute percentage error of pred against actual
func MAPE(actual, pred []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	var sum float64
	for i, y := range actual {
		sum += math.Abs(y-pred[i]) / math.Max(math.Abs(y), mapeEpsilon)
	}
	return 100 * sum / float64(len(actual))
}

// R2Score returns the coefficient of determination of pred against actual.
// A constant actual series scores 1 when predicted exactly and 0 otherwise.
func R2Score(actual, pred []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	var mean float64
	for _, y := range actual {
		mean += y
	}
	mean /= float64(len(actual))

	var ssRes, ssTot float64
	for i, y := range actual {
		ssRes += (y - pred[i]) * (y - pred[i])
		ssTot += (y - mean) * (y - mean)
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}
