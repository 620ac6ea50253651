package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/incast-service/internal/models"
	"github.com/Dan9191/incast-service/internal/regressor"
	"github.com/Dan9191/incast-service/internal/repository"
	"github.com/sirupsen/logrus"
)

// Observer receives model load timings
type Observer interface {
	ObserveModelLoad(download, load time.Duration)
}

// LoadTimes reports how long a model load took
type LoadTimes struct {
	Download time.Duration
	Load     time.Duration
}

// ModelStore persists one trained model per user under
// "<namespace>/<prefix>-<user>.<ext>"
type ModelStore struct {
	blobs     repository.BlobStore
	namespace string
	prefix    string
	ext       string
	log       *logrus.Logger
	observer  Observer
}

// NewModelStore initializes a model store on top of a blob backend
func NewModelStore(blobs repository.BlobStore, namespace, prefix, ext string, log *logrus.Logger) *ModelStore {
	return &ModelStore{
		blobs:     blobs,
		namespace: namespace,
		prefix:    prefix,
		ext:       ext,
		log:       log,
	}
}

// WithObserver sets the receiver of load timings
func (s *ModelStore) WithObserver(o Observer) *ModelStore {
	s.observer = o
	return s
}

func (s *ModelStore) keyPrefix() string {
	return fmt.Sprintf("%s/%s-", s.namespace, s.prefix)
}

func (s *ModelStore) keySuffix() string {
	return "." + s.ext
}

// Key returns the storage key of the user's model
func (s *ModelStore) Key(user string) string {
	return s.keyPrefix() + user + s.keySuffix()
}

// UserFromKey extracts the user from a model key
func (s *ModelStore) UserFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, s.keyPrefix()) || !strings.HasSuffix(key, s.keySuffix()) {
		return "", false
	}
	user := key[len(s.keyPrefix()) : len(key)-len(s.keySuffix())]
	if user == "" {
		return "", false
	}
	return user, true
}

// Save writes the user's model, replacing the previous one, and returns its key
func (s *ModelStore) Save(ctx context.Context, user string, model regressor.Model) (string, error) {
	key := s.Key(user)
	s.log.WithField("user", user).Info("Saving trained Incast model")

	data, err := regressor.Marshal(model)
	if err != nil {
		return "", err
	}
	if err := s.blobs.Put(ctx, key, data); err != nil {
		return "", &models.UpstreamError{Source: "model storage", Err: err}
	}

	s.log.WithFields(logrus.Fields{"user": user, "key": key}).Info("Incast model saved")
	return key, nil
}

// Load downloads and decodes the user's model
func (s *ModelStore) Load(ctx context.Context, user string) (regressor.Model, LoadTimes, error) {
	key := s.Key(user)

	downloadStart := time.Now()
	data, err := s.blobs.Get(ctx, key)
	if errors.Is(err, models.ErrBlobNotFound) {
		return nil, LoadTimes{}, &models.NotFoundError{User: user, Key: key}
	}
	if err != nil {
		return nil, LoadTimes{}, &models.UpstreamError{Source: "model storage", Err: err}
	}
	times := LoadTimes{Download: time.Since(downloadStart)}

	loadStart := time.Now()
	model, err := regressor.Unmarshal(data)
	if err != nil {
		return nil, times, fmt.Errorf("failed to decode model %s: %w", key, err)
	}
	times.Load = time.Since(loadStart)

	s.log.WithFields(logrus.Fields{
		"user":          user,
		"download_time": times.Download.Seconds(),
		"load_time":     times.Load.Seconds(),
	}).Debug("Incast model loaded")
	if s.observer != nil {
		s.observer.ObserveModelLoad(times.Download, times.Load)
	}
	return model, times, nil
}

// ListTrainedUsers returns the users having a stored model, in no particular
// order
func (s *ModelStore) ListTrainedUsers(ctx context.Context) ([]string, error) {
	keys, err := s.blobs.List(ctx, s.keyPrefix())
	if err != nil {
		return nil, &models.UpstreamError{Source: "model storage", Err: err}
	}

	seen := make(map[string]struct{}, len(keys))
	users := make([]string, 0, len(keys))
	for _, key := range keys {
		user, ok := s.UserFromKey(key)
		if !ok {
			continue
		}
		if _, dup := seen[user]; dup {
			continue
		}
		seen[user] = struct{}{}
		users = append(users, user)
	}
	return users, nil
}
