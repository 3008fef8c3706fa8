// Package quest is the embedding facade: one constructor that assembles the
// unlock engine with sensible defaults for host applications.
package quest

import (
	"context"
	"log/slog"
	"time"

	mem "taskquest/adapters/memory"
	"taskquest/catalog"
	"taskquest/core"
	"taskquest/engine"
	"taskquest/realtime"
)

// Store is the persistence surface the facade needs: the engine's ledger
// operations plus user provisioning. All bundled adapters satisfy it.
type Store interface {
	engine.LedgerStore
	CreateUser(ctx context.Context, user core.UserID) error
}

// Option configures the Quest service builder.
type Option func(*config)

type config struct {
	store   Store
	catalog engine.Catalog
	mode    engine.DispatchMode
	hub     *realtime.Hub
	svcOpts []engine.ServiceOption
}

// WithStore sets the persistence adapter.
func WithStore(s Store) Option { return func(c *config) { c.store = s } }

// WithCatalog sets the achievement catalog.
func WithCatalog(cat engine.Catalog) Option { return func(c *config) { c.catalog = cat } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.svcOpts = append(c.svcOpts, engine.WithClock(now)) }
}

// WithLogger sets the structured logger used by the engine.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.svcOpts = append(c.svcOpts, engine.WithLogger(l)) }
}

// Quest bundles the unlock service with user provisioning.
type Quest struct {
	*engine.UnlockService
	store Store
}

// New builds a configured Quest. If not provided, defaults are used:
//   - store: in-memory
//   - catalog: the built-in demo catalog
//   - dispatch: async
func New(opts ...Option) *Quest {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.store == nil {
		cfg.store = mem.New()
	}
	if cfg.catalog == nil {
		cfg.catalog = catalog.Default()
	}
	bus := engine.NewEventBus(cfg.mode)
	svc := engine.NewUnlockService(cfg.store, cfg.catalog, bus, cfg.svcOpts...)
	if cfg.hub != nil {
		// Bridge all primary events to realtime
		bus.Subscribe(core.EventUserLogin, func(ctx context.Context, e core.Event) { cfg.hub.Broadcast(ctx, e) })
		bus.Subscribe(core.EventTaskCompleted, func(ctx context.Context, e core.Event) { cfg.hub.Broadcast(ctx, e) })
		bus.Subscribe(core.EventPointsCredited, func(ctx context.Context, e core.Event) { cfg.hub.Broadcast(ctx, e) })
		bus.Subscribe(core.EventAchievementUnlocked, func(ctx context.Context, e core.Event) { cfg.hub.Broadcast(ctx, e) })
	}
	return &Quest{UnlockService: svc, store: cfg.store}
}

// CreateUser provisions an empty ledger for the user. Existing users are
// left untouched.
func (q *Quest) CreateUser(ctx context.Context, user core.UserID) error {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return err
	}
	return q.store.CreateUser(ctx, normalized)
}
