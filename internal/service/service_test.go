package service

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/Dan9191/incast-service/internal/cache"
	"github.com/Dan9191/incast-service/internal/integrations/expenses"
	"github.com/Dan9191/incast-service/internal/models"
	"github.com/Dan9191/incast-service/internal/regressor"
	"github.com/Dan9191/incast-service/internal/repository"
	"github.com/Dan9191/incast-service/internal/store"
	"github.com/Dan9191/incast-service/internal/timeseries"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const user = "jane@example.com"

type fakeIncomes struct {
	records []models.IncomeRecord
	err     error
	creds   expenses.Credentials
}

func (f *fakeIncomes) FetchIncomes(_ context.Context, creds expenses.Credentials, _ string, _ int) ([]models.IncomeRecord, error) {
	f.creds = creds
	return f.records, f.err
}

type fakeNotifier struct {
	to []string
}

func (f *fakeNotifier) SendTrainingReport(to string, _ float64) error {
	f.to = append(f.to, to)
	return nil
}

type countingObserver struct {
	trainings map[string]int
	forecasts map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{trainings: map[string]int{}, forecasts: map[string]int{}}
}

func (o *countingObserver) ObserveTraining(outcome string, _ time.Duration) {
	o.trainings[outcome]++
}

func (o *countingObserver) ObserveForecast(source string) {
	o.forecasts[source]++
}

type fixture struct {
	svc      *Service
	incomes  *fakeIncomes
	store    *store.ModelStore
	cache    *cache.ModelCache
	notifier *fakeNotifier
	observer *countingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	preparer, err := timeseries.NewPreparer(5, 0.05, "20181208")
	require.NoError(t, err)
	trainer := regressor.NewTrainer(regressor.TrainerConfig{
		HiddenUnits:    40,
		Epochs:         50,
		LearningRate:   0.001,
		BatchSize:      32,
		ValidationSize: 20,
		Seed:           42,
	})

	f := &fixture{
		incomes:  &fakeIncomes{},
		notifier: &fakeNotifier{},
		observer: newCountingObserver(),
	}
	f.store = store.NewModelStore(repository.NewMemoryStore(), "incast", "incast", "json", log)
	f.cache = cache.New(f.store, log)
	f.svc = NewService(f.incomes, f.store, f.cache, preparer, trainer, log, "EUR").
		WithNotifier(f.notifier).
		WithObserver(f.observer)
	return f
}

func salaries(n int) []models.IncomeRecord {
	start := time.Date(2021, time.March, 27, 0, 0, 0, 0, time.UTC)
	records := make([]models.IncomeRecord, 0, n+1)
	for i := 0; i < n; i++ {
		amount := 3200 + 15*i
		if i%12 == 11 {
			amount += 1800
		}
		records = append(records, models.IncomeRecord{
			Amount:   decimal.NewFromInt(int64(amount)),
			Date:     start.AddDate(0, i, 0).Format(models.DateLayout),
			Currency: "CHF",
			Category: models.SalaryCategory,
		})
	}
	return records
}

var creds = expenses.Credentials{AuthHeader: "Bearer t", CorrelationID: "cid-42"}

func TestTrain_NoSalaries(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Train(context.Background(), user, creds)
	require.NoError(t, err)
	assert.False(t, result.Trained)
	assert.Equal(t, "No salaries found", result.Reason)
	assert.Nil(t, result.R2Score)
}

func TestTrain_NotEnoughSalaries(t *testing.T) {
	f := newFixture(t)
	f.incomes.records = salaries(5)

	result, err := f.svc.Train(context.Background(), user, creds)
	require.NoError(t, err)
	assert.False(t, result.Trained)
	assert.Contains(t, result.Reason, "Required [6], got [5]")
	assert.Equal(t, 1, f.observer.trainings[OutcomeInsufficient])
}

func TestTrain_NotEnoughExamplesForValidation(t *testing.T) {
	f := newFixture(t)
	f.incomes.records = salaries(6)

	result, err := f.svc.Train(context.Background(), user, creds)
	require.NoError(t, err)
	assert.False(t, result.Trained)
	assert.Contains(t, result.Reason, "Required [21], got [1]")

	_, _, err = f.store.Load(context.Background(), user)
	var notFound *models.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestTrain_Success(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.incomes.records = salaries(36)

	result, err := f.svc.Train(ctx, user, creds)
	require.NoError(t, err)
	require.True(t, result.Trained)
	require.NotNil(t, result.R2Score)
	assert.False(t, math.IsNaN(*result.R2Score))
	assert.Equal(t, "incast/incast-jane@example.com.json", result.Key)
	assert.Equal(t, creds, f.incomes.creds)

	_, _, err = f.store.Load(ctx, user)
	assert.NoError(t, err)
	_, cached := f.cache.Lookup(user)
	assert.True(t, cached)
	assert.Equal(t, []string{user}, f.notifier.to)
	assert.Equal(t, 1, f.observer.trainings[OutcomeTrained])
}

func TestTrain_UpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.incomes.err = &models.UpstreamError{Source: "expenses api", StatusCode: 500, Err: errors.New("boom")}

	_, err := f.svc.Train(context.Background(), user, creds)
	var upstream *models.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, 1, f.observer.trainings[OutcomeFailed])
}

func TestForecast_NoModelNoIncomes(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Forecast(context.Background(), user, creds)
	require.NoError(t, err)
	assert.True(t, result.Empty())
	assert.Equal(t, 1, f.observer.forecasts[SourceEmpty])
}

func TestForecast_NoModelFallsBackToLastSalary(t *testing.T) {
	f := newFixture(t)
	f.incomes.records = salaries(3)

	result, err := f.svc.Forecast(context.Background(), user, creds)
	require.NoError(t, err)
	require.False(t, result.Empty())
	assert.Equal(t, SourceLastSalary, result.Source)
	assert.Equal(t, models.SalaryCategory, result.Category)
	assert.Equal(t, 3230.0, *result.Amount)
	assert.Equal(t, "CHF", result.Currency)
}

func TestForecast_CachedModel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.incomes.records = salaries(36)
	_, err := f.svc.Train(ctx, user, creds)
	require.NoError(t, err)

	result, err := f.svc.Forecast(ctx, user, creds)
	require.NoError(t, err)
	assert.Equal(t, SourceModel, result.Source)
	require.NotNil(t, result.Amount)
	assert.False(t, math.IsNaN(*result.Amount) || math.IsInf(*result.Amount, 0))
	assert.Equal(t, "CHF", result.Currency)
}

func TestForecast_StoredModelIsNotCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.incomes.records = salaries(36)

	model, _, err := regressor.NewTrainer(regressor.TrainerConfig{
		HiddenUnits: 4, Epochs: 5, LearningRate: 0.001, BatchSize: 32, ValidationSize: 20, Seed: 1,
	}).Train(timeseries.Window(timeseries.Smooth([]float64{
		1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26,
	}, 0.05), 5))
	require.NoError(t, err)
	_, err = f.store.Save(ctx, user, model)
	require.NoError(t, err)

	result, err := f.svc.Forecast(ctx, user, creds)
	require.NoError(t, err)
	assert.Equal(t, SourceModel, result.Source)
	_, cached := f.cache.Lookup(user)
	assert.False(t, cached)
}

func TestForecast_ModelButTooFewSalaries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.incomes.records = salaries(36)
	_, err := f.svc.Train(ctx, user, creds)
	require.NoError(t, err)

	f.incomes.records = salaries(4)
	result, err := f.svc.Forecast(ctx, user, creds)
	require.NoError(t, err)
	assert.Equal(t, SourceLastSalary, result.Source)
}

func TestForecast_DefaultCurrency(t *testing.T) {
	f := newFixture(t)
	records := salaries(2)
	records[1].Currency = ""
	f.incomes.records = records

	result, err := f.svc.Forecast(context.Background(), user, creds)
	require.NoError(t, err)
	assert.Equal(t, "EUR", result.Currency)
}

func TestForecast_UpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.incomes.err = &models.UpstreamError{Source: "expenses api", Err: errors.New("timeout")}

	_, err := f.svc.Forecast(context.Background(), user, creds)
	var upstream *models.UpstreamError
	assert.True(t, errors.As(err, &upstream))
}
