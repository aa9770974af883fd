package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Store persists conversation state keyed by (account, counterparty).
type Store interface {
	// LoadActive returns the active conversation state, or (nil, nil)
	// when no active conversation exists for the pair.
	LoadActive(ctx context.Context, accountID, counterpartyID string) (*State, error)
	// Save upserts the state. Saving the same state twice is a no-op.
	Save(ctx context.Context, accountID, counterpartyID string, state *State) error
}

// PostgresStore keeps one row per conversation pair with the state blob
// alongside phase and status columns for operational queries.
type PostgresStore struct {
	db     *sql.DB
	tracer trace.Tracer
	now    func() time.Time
}

// NewPostgresStore creates a Postgres-backed state store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	if db == nil {
		return nil
	}
	return &PostgresStore{
		db:     db,
		tracer: otel.Tracer("leadline.internal.conversation.store"),
		now:    time.Now,
	}
}

// LoadActive fetches the active state for the pair.
func (s *PostgresStore) LoadActive(ctx context.Context, accountID, counterpartyID string) (*State, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	ctx, span := s.tracer.Start(ctx, "conversation.load_state")
	defer span.End()

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM conversation_states
		 WHERE account_id = $1 AND counterparty_id = $2 AND status = 'active'`,
		accountID, counterpartyID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to load state: %w", err)
	}

	state, err := DecodeState(data)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return state, nil
}

// Save upserts the state row for the pair.
func (s *PostgresStore) Save(ctx context.Context, accountID, counterpartyID string, state *State) error {
	if s == nil || s.db == nil {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "conversation.save_state")
	defer span.End()

	data, err := EncodeState(state)
	if err != nil {
		span.RecordError(err)
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_states (
			account_id, counterparty_id, phase, status, state, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, counterparty_id)
		DO UPDATE SET
			phase = EXCLUDED.phase,
			status = EXCLUDED.status,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`,
		accountID, counterpartyID, string(state.Phase), string(state.Status), data, s.now(),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to save state: %w", err)
	}
	return nil
}
