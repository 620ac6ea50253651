package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Dan9191/incast-service/internal/models"
	"github.com/Dan9191/incast-service/internal/regressor"
	"github.com/Dan9191/incast-service/internal/store"
	"github.com/sirupsen/logrus"
)

// ModelLoader is the part of the model store the cache reads from
type ModelLoader interface {
	ListTrainedUsers(ctx context.Context) ([]string, error)
	Load(ctx context.Context, user string) (regressor.Model, store.LoadTimes, error)
}

// SizeObserver is told the number of cached models after every change
type SizeObserver interface {
	SetCacheSize(n int)
}

// ModelCache maps users to their loaded model. Each snapshot is immutable;
// Rebuild and Reload publish a new one.
type ModelCache struct {
	loader   ModelLoader
	log      *logrus.Logger
	observer SizeObserver

	models atomic.Pointer[map[string]regressor.Model]
	// writes serializes Reload and Rebuild
	writes sync.Mutex
}

// BuildStats summarizes a bulk load
type BuildStats struct {
	Loaded int
	Failed []string
}

// New creates an empty cache. Call Build before serving requests.
func New(loader ModelLoader, log *logrus.Logger) *ModelCache {
	c := &ModelCache{loader: loader, log: log}
	empty := map[string]regressor.Model{}
	c.models.Store(&empty)
	return c
}

// WithObserver sets the receiver of cache size updates
func (c *ModelCache) WithObserver(o SizeObserver) *ModelCache {
	c.observer = o
	return c
}

// Build loads every stored model. A user whose model cannot be loaded is
// logged and left out; only a failure to enumerate users aborts the build.
func (c *ModelCache) Build(ctx context.Context) (BuildStats, error) {
	c.writes.Lock()
	defer c.writes.Unlock()

	users, err := c.loader.ListTrainedUsers(ctx)
	if err != nil {
		return BuildStats{}, fmt.Errorf("failed to list trained users: %w", err)
	}

	loaded := make(map[string]regressor.Model, len(users))
	var stats BuildStats
	for _, user := range users {
		model, times, err := c.loader.Load(ctx, user)
		if err != nil {
			c.log.WithError(err).WithField("user", user).Error("Failed to load Incast model, skipping")
			stats.Failed = append(stats.Failed, user)
			continue
		}
		c.log.WithFields(logrus.Fields{
			"user":          user,
			"download_time": times.Download.Seconds(),
			"load_time":     times.Load.Seconds(),
		}).Info("Incast model cached")
		loaded[user] = model
	}
	stats.Loaded = len(loaded)

	c.publish(loaded)
	c.log.WithFields(logrus.Fields{"loaded": stats.Loaded, "failed": len(stats.Failed)}).Info("Model cache built")
	return stats, nil
}

// Lookup returns the cached model of user. A miss is not an error.
func (c *ModelCache) Lookup(user string) (regressor.Model, bool) {
	m, ok := (*c.models.Load())[user]
	return m, ok
}

// Reload refreshes a single user's entry from the store. When the store no
// longer holds a model for the user the entry is dropped.
func (c *ModelCache) Reload(ctx context.Context, user string) error {
	c.writes.Lock()
	defer c.writes.Unlock()

	model, _, err := c.loader.Load(ctx, user)
	var notFound *models.NotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("failed to reload model for %s: %w", user, err)
	}

	current := *c.models.Load()
	next := make(map[string]regressor.Model, len(current)+1)
	for u, m := range current {
		next[u] = m
	}
	if notFound != nil {
		delete(next, user)
	} else {
		next[user] = model
	}
	c.publish(next)
	return nil
}

// Size returns the number of cached models
func (c *ModelCache) Size() int {
	return len(*c.models.Load())
}

// Users returns the cached users in no particular order
func (c *ModelCache) Users() []string {
	current := *c.models.Load()
	users := make([]string, 0, len(current))
	for u := range current {
		users = append(users, u)
	}
	return users
}

func (c *ModelCache) publish(next map[string]regressor.Model) {
	c.models.Store(&next)
	if c.observer != nil {
		c.observer.SetCacheSize(len(next))
	}
}
