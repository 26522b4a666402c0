package tier

import (
	"context"
	"time"

	"github.com/lazypower/foresight/internal/models"
)

// FastStore is an ephemeral key-value cache. Get returns nil, nil on a miss.
type FastStore interface {
	Get(ctx context.Context, id string) (*models.Content, error)
	SetWithTTL(ctx context.Context, c *models.Content, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// DurableStore holds the authoritative copy of every item. GetContent
// returns nil, nil on a miss.
type DurableStore interface {
	GetContent(ctx context.Context, id string) (*models.Content, error)
	PutContent(ctx context.Context, c *models.Content) error
	DeleteContent(ctx context.Context, id string) error
	QueryByLastAccess(ctx context.Context, before time.Time, limit int) ([]models.Content, error)
}

// StateStore persists placement records.
type StateStore interface {
	GetState(ctx context.Context, id string) (*models.TierState, error)
	PutState(ctx context.Context, st models.TierState) error
	DeleteState(ctx context.Context, id string) error
	CountByTier(ctx context.Context) (map[models.Tier]int, error)
}

// ArchivalStore is a blob store for cold items. Get returns nil, nil on a
// miss.
type ArchivalStore interface {
	Get(ctx context.Context, id string) (*models.Content, error)
	Put(ctx context.Context, c *models.Content) error
	Delete(ctx context.Context, id string) error
}

// FrequencySource reports recent access counts.
type FrequencySource interface {
	Frequency(id string, window time.Duration) int64
}
