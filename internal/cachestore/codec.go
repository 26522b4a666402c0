// Package cachestore implements the fast tier: an embedded Badger cache for
// single-node deployments and Redis for shared ones. Both expire entries by
// TTL and report a miss as nil, nil.
package cachestore

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/lazypower/foresight/internal/models"
)

// DefaultKeyPrefix namespaces cache keys.
const DefaultKeyPrefix = "foresight:fast:"

func encode(c *models.Content) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode content %s: %w", c.ID, err)
	}
	return data, nil
}

func decode(data []byte) (*models.Content, error) {
	var c models.Content
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return &c, nil
}
