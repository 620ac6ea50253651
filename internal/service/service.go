package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Dan9191/incast-service/internal/integrations/expenses"
	"github.com/Dan9191/incast-service/internal/models"
	"github.com/Dan9191/incast-service/internal/regressor"
	"github.com/Dan9191/incast-service/internal/store"
	"github.com/Dan9191/incast-service/internal/timeseries"
	"github.com/sirupsen/logrus"
)

// Forecast sources
const (
	SourceModel      = "model"
	SourceLastSalary = "last_salary"
	SourceEmpty      = "empty"
)

// Training outcomes
const (
	OutcomeTrained      = "trained"
	OutcomeInsufficient = "insufficient_data"
	OutcomeFailed       = "failed"
)

// IncomeSource fetches a user's incomes
type IncomeSource interface {
	FetchIncomes(ctx context.Context, creds expenses.Credentials, category string, depth int) ([]models.IncomeRecord, error)
}

// ModelRepository persists and loads trained models
type ModelRepository interface {
	Save(ctx context.Context, user string, model regressor.Model) (string, error)
	Load(ctx context.Context, user string) (regressor.Model, store.LoadTimes, error)
}

// ModelCache is the in-memory model lookup used for inference
type ModelCache interface {
	Lookup(user string) (regressor.Model, bool)
	Reload(ctx context.Context, user string) error
}

// Notifier is told when a user's model was trained
type Notifier interface {
	SendTrainingReport(to string, r2 float64) error
}

// Observer records training and forecast outcomes
type Observer interface {
	ObserveTraining(outcome string, d time.Duration)
	ObserveForecast(source string)
}

// Service handles business logic
type Service struct {
	incomes  IncomeSource
	models   ModelRepository
	cache    ModelCache
	preparer *timeseries.Preparer
	trainer  *regressor.Trainer
	log      *logrus.Logger

	defaultCurrency string
	notifier        Notifier
	observer        Observer
}

// NewService initializes a new service
func NewService(incomes IncomeSource, repo ModelRepository, cache ModelCache, preparer *timeseries.Preparer, trainer *regressor.Trainer, log *logrus.Logger, defaultCurrency string) *Service {
	return &Service{
		incomes:         incomes,
		models:          repo,
		cache:           cache,
		preparer:        preparer,
		trainer:         trainer,
		log:             log,
		defaultCurrency: defaultCurrency,
	}
}

// WithNotifier sets the training notifier
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithObserver sets the metrics observer
func (s *Service) WithObserver(o Observer) *Service {
	s.observer = o
	return s
}

// Train fits and persists the Incast model of user. Not having enough
// salaries is reported in the result, not as an error.
func (s *Service) Train(ctx context.Context, user string, creds expenses.Credentials) (models.TrainResult, error) {
	log := s.log.WithFields(logrus.Fields{"cid": creds.CorrelationID, "user": user})
	log.Info("Training process started for model Incast")

	records, err := s.incomes.FetchIncomes(ctx, creds, models.SalaryCategory, 0)
	if err != nil {
		s.observeTraining(OutcomeFailed, 0)
		return models.TrainResult{}, fmt.Errorf("failed to fetch incomes: %w", err)
	}
	if len(records) == 0 {
		log.Info("No salaries found, nothing to train")
		s.observeTraining(OutcomeInsufficient, 0)
		return models.TrainResult{Trained: false, Reason: "No salaries found"}, nil
	}

	series, err := s.preparer.Prepare(records)
	if err != nil {
		return s.refuse(log, err)
	}

	examples := timeseries.Window(series.Values(), s.preparer.WindowSize())
	log.Infof("Prepared %d training examples of %d salaries", len(examples), len(series))

	start := time.Now()
	model, report, err := s.trainer.Train(examples)
	if err != nil {
		return s.refuse(log, err)
	}
	elapsed := time.Since(start)
	if math.IsNaN(report.R2) || math.IsInf(report.R2, 0) {
		s.observeTraining(OutcomeFailed, elapsed)
		return models.TrainResult{}, fmt.Errorf("training produced a non finite R2 score")
	}
	log.WithFields(logrus.Fields{
		"train":    report.TrainSize,
		"val":      report.ValidationSize,
		"loss":     report.Loss,
		"duration": elapsed.Seconds(),
	}).Infof("Model Trained. R2 Score: %v", report.R2)

	key, err := s.models.Save(ctx, user, model)
	if err != nil {
		s.observeTraining(OutcomeFailed, elapsed)
		return models.TrainResult{}, fmt.Errorf("failed to save model: %w", err)
	}
	s.observeTraining(OutcomeTrained, elapsed)

	if err := s.cache.Reload(ctx, user); err != nil {
		log.WithError(err).Warn("Model saved but the cache entry could not be reloaded")
	}
	if s.notifier != nil {
		if err := s.notifier.SendTrainingReport(user, report.R2); err != nil {
			log.WithError(err).Warn("Failed to notify user about the trained model")
		}
	}

	r2 := report.R2
	return models.TrainResult{Trained: true, R2Score: &r2, Key: key}, nil
}

func (s *Service) refuse(log *logrus.Entry, err error) (models.TrainResult, error) {
	var insufficient *models.InsufficientDataError
	if errors.As(err, &insufficient) {
		reason := fmt.Sprintf("Not enough %s to be able to train the model. Required [%d], got [%d]",
			whatOrSalaries(insufficient.What), insufficient.Required, insufficient.Actual)
		log.Info(reason)
		s.observeTraining(OutcomeInsufficient, 0)
		return models.TrainResult{Trained: false, Reason: reason}, nil
	}
	s.observeTraining(OutcomeFailed, 0)
	return models.TrainResult{}, err
}

// Forecast predicts the next salary of user. Without a model it returns the
// last salary; without salaries it returns an empty result.
func (s *Service) Forecast(ctx context.Context, user string, creds expenses.Credentials) (models.ForecastResult, error) {
	log := s.log.WithFields(logrus.Fields{"cid": creds.CorrelationID, "user": user})

	records, err := s.incomes.FetchIncomes(ctx, creds, models.SalaryCategory, 0)
	if err != nil {
		return models.ForecastResult{}, fmt.Errorf("failed to fetch incomes: %w", err)
	}
	salaries, err := s.preparer.Filter(records)
	if err != nil {
		return models.ForecastResult{}, err
	}
	if len(salaries) == 0 {
		s.observeForecast(SourceEmpty)
		return models.ForecastResult{}, nil
	}
	last := salaries[len(salaries)-1]

	model, err := s.model(ctx, user)
	if err != nil {
		return models.ForecastResult{}, err
	}
	if model == nil {
		log.Debug("No trained model, forecasting the last salary")
		return s.lastSalary(last), nil
	}

	window, _, err := s.preparer.LatestWindow(salaries)
	var insufficient *models.InsufficientDataError
	if errors.As(err, &insufficient) {
		log.Debugf("Only %d salaries, forecasting the last salary", insufficient.Actual)
		return s.lastSalary(last), nil
	}
	if err != nil {
		return models.ForecastResult{}, err
	}

	amount, err := model.Predict(window)
	if err != nil {
		return models.ForecastResult{}, err
	}
	s.observeForecast(SourceModel)
	return models.ForecastResult{
		Category: models.SalaryCategory,
		Amount:   &amount,
		Currency: s.currency(last),
		Source:   SourceModel,
	}, nil
}

// model returns the cached model of user, falling back to the store without
// caching the result. A nil model means the user is untrained.
func (s *Service) model(ctx context.Context, user string) (regressor.Model, error) {
	if m, ok := s.cache.Lookup(user); ok {
		return m, nil
	}
	m, _, err := s.models.Load(ctx, user)
	var notFound *models.NotFoundError
	if errors.As(err, &notFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	return m, nil
}

func (s *Service) lastSalary(last models.IncomeRecord) models.ForecastResult {
	amount := last.Amount.InexactFloat64()
	s.observeForecast(SourceLastSalary)
	return models.ForecastResult{
		Category: models.SalaryCategory,
		Amount:   &amount,
		Currency: s.currency(last),
		Source:   SourceLastSalary,
	}
}

func (s *Service) currency(last models.IncomeRecord) string {
	if last.Currency != "" {
		return last.Currency
	}
	return s.defaultCurrency
}

func (s *Service) observeTraining(outcome string, d time.Duration) {
	if s.observer != nil {
		s.observer.ObserveTraining(outcome, d)
	}
}

func (s *Service) observeForecast(source string) {
	if s.observer != nil {
		s.observer.ObserveForecast(source)
	}
}

func whatOrSalaries(what string) string {
	if what == "" {
		return "salaries"
	}
	return what
}
