package botconfig

import (
	"context"

	"github.com/leadline-ai/lead-concierge/pkg/logging"
)

// SettingsSource supplies raw configuration blobs.
type SettingsSource interface {
	Global(ctx context.Context) (*Settings, error)
	Client(ctx context.Context, accountID, clientID string) (*Settings, error)
}

// Resolver merges built-in defaults, the global blob, and the client
// override into one EffectiveConfig. Resolution never fails a
// conversation: storage errors are logged and the affected layer skipped.
type Resolver struct {
	source SettingsSource
	logger *logging.Logger
}

// NewResolver creates a configuration resolver.
func NewResolver(source SettingsSource, logger *logging.Logger) *Resolver {
	if source == nil {
		panic("botconfig: settings source cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{source: source, logger: logger}
}

// Resolve returns the effective configuration for one conversation.
// Precedence: client override > global > built-in defaults, field by field.
func (r *Resolver) Resolve(ctx context.Context, accountID, clientID string) EffectiveConfig {
	cfg := Defaults()

	global, err := r.source.Global(ctx)
	if err != nil {
		r.logger.Warn("failed to load global bot configuration, using defaults", "error", err.Error())
	} else {
		cfg = cfg.apply(global)
	}

	client, err := r.source.Client(ctx, accountID, clientID)
	if err != nil {
		r.logger.Warn("failed to load client bot configuration, using global",
			"account_id", accountID, "client_id", clientID, "error", err.Error())
		return cfg
	}
	return cfg.apply(client)
}
