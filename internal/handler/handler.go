package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Dan9191/incast-service/internal/cache"
	"github.com/Dan9191/incast-service/internal/integrations/expenses"
	"github.com/Dan9191/incast-service/internal/middleware"
	"github.com/Dan9191/incast-service/internal/models"
	"github.com/Dan9191/incast-service/internal/service"
	"github.com/sirupsen/logrus"
)

// APIName is reported by the smoke endpoint
const APIName = "toto-ml-incast"

// Forecaster is the service behind the handlers
type Forecaster interface {
	Train(ctx context.Context, user string, creds expenses.Credentials) (models.TrainResult, error)
	Forecast(ctx context.Context, user string, creds expenses.Credentials) (models.ForecastResult, error)
}

// CacheRebuilder rebuilds the model cache
type CacheRebuilder interface {
	Build(ctx context.Context) (cache.BuildStats, error)
}

type Handler struct {
	svc   Forecaster
	cache CacheRebuilder
	log   *logrus.Logger
}

func NewHandler(svc Forecaster, mc CacheRebuilder, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, cache: mc, log: log}
}

var _ Forecaster = (*service.Service)(nil)

// Smoke reports that the API is running
func (h *Handler) Smoke(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"api": APIName, "running": true})
}

// Predict handles the next salary forecast
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	user, creds, ok := h.caller(w, r)
	if !ok {
		return
	}

	result, err := h.svc.Forecast(r.Context(), user, creds)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Train handles training the caller's model
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	user, creds, ok := h.caller(w, r)
	if !ok {
		return
	}

	result, err := h.svc.Train(r.Context(), user, creds)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ReloadCache rebuilds the model cache from storage
func (h *Handler) ReloadCache(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Build(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"loaded": stats.Loaded, "failed": stats.Failed})
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, expenses.Credentials, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", expenses.Credentials{}, false
	}
	return user, expenses.Credentials{
		AuthHeader:    middleware.AuthHeaderFromContext(r.Context()),
		CorrelationID: middleware.CorrelationIDFromContext(r.Context()),
	}, true
}

// fail maps service errors to HTTP statuses
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var (
		shape    *models.ShapeMismatchError
		upstream *models.UpstreamError
	)
	switch {
	case errors.As(err, &shape):
		status = http.StatusBadRequest
	case errors.As(err, &upstream):
		status = http.StatusBadGateway
	}

	h.log.WithError(err).WithFields(logrus.Fields{
		"cid":    middleware.CorrelationIDFromContext(r.Context()),
		"status": status,
	}).Error("Request failed")
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
