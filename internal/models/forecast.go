package models

// ForecastResult is the predicted next income. An empty result (all zero
// values) is serialized as {} and means nothing could be forecast.
type ForecastResult struct {
	Category string   `json:"category,omitempty"`
	Amount   *float64 `json:"amount,omitempty"`
	Currency string   `json:"currency,omitempty"`
	// Source tells whether the amount came from a model or the last salary
	Source string `json:"-"`
}

// Empty reports whether the result carries no forecast
func (f ForecastResult) Empty() bool {
	return f.Amount == nil
}

// TrainResult represents the outcome of a training request
type TrainResult struct {
	Trained bool     `json:"trained"`
	R2Score *float64 `json:"r2Score,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Key     string   `json:"-"`
}
