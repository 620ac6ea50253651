// Package timeseries turns raw income records into the smoothed salary series
// and the supervised windows the forecasting model trains on.
package timeseries

import (
	"fmt"
	"sort"
	"time"

	"github.com/Dan9191/incast-service/internal/models"
)

// Point is one salary of the series
type Point struct {
	Date   time.Time
	Raw    float64
	Smooth float64
}

// Series is a chronologically sorted smoothed salary series
type Series []Point

// Values returns the smoothed values of the series
func (s Series) Values() []float64 {
	values := make([]float64, len(s))
	for i, p := range s {
		values[i] = p.Smooth
	}
	return values
}

// Last returns the most recent point of the series
func (s Series) Last() (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	return s[len(s)-1], true
}

// Example is a supervised training pair: Window holds T consecutive smoothed
// salaries and Label the one right after them
type Example struct {
	Window []float64
	Label  float64
}

// Preparer builds smoothed series from income records. It holds no state
// across calls.
type Preparer struct {
	window int
	alpha  float64
	cutoff time.Time
}

// NewPreparer initializes a preparer. cutoff is a YYYYMMDD date; only
// salaries strictly after it are eligible.
func NewPreparer(window int, alpha float64, cutoff string) (*Preparer, error) {
	if window < 1 {
		return nil, fmt.Errorf("window must be positive, got %d", window)
	}
	if alpha <= 0 || alpha >= 1 {
		return nil, fmt.Errorf("smoothing level must be in (0,1), got %v", alpha)
	}
	c, err := time.Parse(models.DateLayout, cutoff)
	if err != nil {
		return nil, fmt.Errorf("invalid cutoff date %q: %w", cutoff, err)
	}
	return &Preparer{window: window, alpha: alpha, cutoff: c}, nil
}

// WindowSize returns T
func (p *Preparer) WindowSize() int {
	return p.window
}

// Prepare filters, sorts and smooths records for training. It needs T+1
// eligible salaries, the last one being the first label.
func (p *Preparer) Prepare(records []models.IncomeRecord) (Series, error) {
	eligible, err := p.Filter(records)
	if err != nil {
		return nil, err
	}
	return p.smoothRecords(eligible, p.window+1)
}

// LatestWindow returns the last T smoothed salaries, the input for predicting
// the next one, along with the most recent eligible record.
func (p *Preparer) LatestWindow(records []models.IncomeRecord) ([]float64, models.IncomeRecord, error) {
	eligible, err := p.Filter(records)
	if err != nil {
		return nil, models.IncomeRecord{}, err
	}
	series, err := p.smoothRecords(eligible, p.window)
	if err != nil {
		return nil, models.IncomeRecord{}, err
	}
	values := series.Values()
	return values[len(values)-p.window:], eligible[len(eligible)-1], nil
}

func (p *Preparer) smoothRecords(eligible []models.IncomeRecord, required int) (Series, error) {
	if len(eligible) < required {
		return nil, &models.InsufficientDataError{Required: required, Actual: len(eligible)}
	}

	raw := make([]float64, len(eligible))
	for i, r := range eligible {
		raw[i] = r.Amount.InexactFloat64()
	}
	smoothed := Smooth(raw, p.alpha)

	series := make(Series, len(eligible))
	for i, r := range eligible {
		d, _ := r.ParsedDate()
		series[i] = Point{Date: d, Raw: raw[i], Smooth: smoothed[i]}
	}
	return series, nil
}

// Filter keeps salaries dated after the cutoff, sorted ascending by date.
// Records with the same date keep their original order.
func (p *Preparer) Filter(records []models.IncomeRecord) ([]models.IncomeRecord, error) {
	type dated struct {
		record models.IncomeRecord
		date   time.Time
	}

	eligible := make([]dated, 0, len(records))
	for _, r := range records {
		if r.Category != models.SalaryCategory {
			continue
		}
		d, err := r.ParsedDate()
		if err != nil {
			return nil, fmt.Errorf("invalid income date %q: %w", r.Date, err)
		}
		if !d.After(p.cutoff) {
			continue
		}
		eligible = append(eligible, dated{record: r, date: d})
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].date.Before(eligible[j].date)
	})

	out := make([]models.IncomeRecord, len(eligible))
	for i, e := range eligible {
		out[i] = e.record
	}
	return out, nil
}

// Smooth applies single exponential smoothing with a fixed level:
// s[0] = x[0], s[t] = alpha*x[t] + (1-alpha)*s[t-1]
func Smooth(values []float64, alpha float64) []float64 {
	smoothed := make([]float64, len(values))
	for t, x := range values {
		if t == 0 {
			smoothed[t] = x
			continue
		}
		smoothed[t] = alpha*x + (1-alpha)*smoothed[t-1]
	}
	return smoothed
}

// Window produces one example per index t in [0, len(values)-T)
func Window(values []float64, t int) []Example {
	if t < 1 || len(values) <= t {
		return []Example{}
	}
	examples := make([]Example, 0, len(values)-t)
	for i := 0; i+t < len(values); i++ {
		window := make([]float64, t)
		copy(window, values[i:i+t])
		examples = append(examples, Example{Window: window, Label: values[i+t]})
	}
	return examples
}

// Split holds out the last nVal examples for validation. It refuses when the
// training part would be empty.
func Split(examples []Example, nVal int) (train, val []Example, err error) {
	if len(examples)-nVal < 1 {
		return nil, nil, &models.InsufficientDataError{
			Required: nVal + 1,
			Actual:   len(examples),
			What:     "training examples",
		}
	}
	cut := len(examples) - nVal
	return examples[:cut], examples[cut:], nil
}
