package botconfig

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/leadline-ai/lead-concierge/pkg/logging"
)

const globalKey = "botconfig:global"

func clientKey(accountID, clientID string) string {
	return fmt.Sprintf("botconfig:client:%s:%s", accountID, clientID)
}

// Store reads and writes raw configuration blobs in Redis.
type Store struct {
	redis  *redis.Client
	logger *logging.Logger
}

// NewStore creates a Redis-backed settings store.
func NewStore(client *redis.Client, logger *logging.Logger) *Store {
	if client == nil {
		panic("botconfig: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{redis: client, logger: logger}
}

// Global loads the global settings blob. Missing or corrupt configuration
// is reported as absent, never as an error: absence degrades to defaults.
func (s *Store) Global(ctx context.Context) (*Settings, error) {
	return s.load(ctx, globalKey)
}

// Client loads the client-specific override blob, if any.
func (s *Store) Client(ctx context.Context, accountID, clientID string) (*Settings, error) {
	if accountID == "" || clientID == "" {
		return nil, nil
	}
	return s.load(ctx, clientKey(accountID, clientID))
}

func (s *Store) load(ctx context.Context, key string) (*Settings, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("botconfig: failed to load %s: %w", key, err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		s.logger.Warn("ignoring corrupt bot configuration", "key", key, "error", err.Error())
		return nil, nil
	}
	return &settings, nil
}

// SaveGlobal stores the global settings blob.
func (s *Store) SaveGlobal(ctx context.Context, settings *Settings) error {
	return s.save(ctx, globalKey, settings)
}

// SaveClient stores a client-specific override blob.
func (s *Store) SaveClient(ctx context.Context, accountID, clientID string, settings *Settings) error {
	return s.save(ctx, clientKey(accountID, clientID), settings)
}

func (s *Store) save(ctx context.Context, key string, settings *Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("botconfig: failed to marshal settings: %w", err)
	}
	if err := s.redis.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("botconfig: failed to persist settings: %w", err)
	}
	return nil
}
