package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/leadline-ai/lead-concierge/internal/llm"
)

// HistoryStore keeps a bounded rolling transcript per conversation in a
// Redis list. Oldest entries are dropped once the limit is exceeded and
// the whole transcript expires after the TTL.
type HistoryStore struct {
	redis  *redis.Client
	limit  int
	ttl    time.Duration
	tracer trace.Tracer
}

// NewHistoryStore creates a Redis-backed transcript store.
func NewHistoryStore(client *redis.Client, limit int, ttl time.Duration) *HistoryStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if limit <= 0 {
		limit = 40
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &HistoryStore{
		redis:  client,
		limit:  limit,
		ttl:    ttl,
		tracer: otel.Tracer("leadline.internal.conversation.history"),
	}
}

// Append adds messages to the transcript, trimming to the configured limit.
func (s *HistoryStore) Append(ctx context.Context, accountID, counterpartyID string, msgs ...llm.ChatMessage) error {
	if s == nil || len(msgs) == 0 {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "conversation.append_history")
	defer span.End()

	key := historyKey(accountID, counterpartyID)
	values := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("conversation: failed to marshal history entry: %w", err)
		}
		values = append(values, data)
	}

	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-s.limit), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to append history: %w", err)
	}
	return nil
}

// Load returns the transcript oldest-first. An unknown conversation
// yields an empty transcript.
func (s *HistoryStore) Load(ctx context.Context, accountID, counterpartyID string) ([]llm.ChatMessage, error) {
	if s == nil {
		return nil, nil
	}
	ctx, span := s.tracer.Start(ctx, "conversation.load_history")
	defer span.End()

	entries, err := s.redis.LRange(ctx, historyKey(accountID, counterpartyID), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to load history: %w", err)
	}

	history := make([]llm.ChatMessage, 0, len(entries))
	for _, entry := range entries {
		var msg llm.ChatMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: failed to decode history entry: %w", err)
		}
		history = append(history, msg)
	}
	return history, nil
}

func historyKey(accountID, counterpartyID string) string {
	return fmt.Sprintf("history:%s:%s", accountID, counterpartyID)
}
