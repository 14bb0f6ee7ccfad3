package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/orderdeck/orderdeck/gateway"
	"github.com/orderdeck/orderdeck/order"
	"github.com/orderdeck/orderdeck/scheduler"
)

// Lister is the slice of the order gateway the client needs for fallback
// polling.
type Lister interface {
	ListOrders(ctx context.Context, params gateway.ListParams) (*gateway.OrderPage, error)
}

// TokenProvider supplies the current session token. An empty return means
// "no session"; the client skips the poll tick rather than guessing about
// authentication state.
type TokenProvider func() string

// Client keeps a local order collection consistent with the authoritative
// remote source. It consumes inbound envelopes one at a time, applies deltas
// and snapshots to the sink, and falls back to polling when deltas keep
// arriving without a confirming snapshot.
//
// Envelope handling is serialized by the internal mutex: the timer
// arm/disarm logic reads then writes the two timer handles and must never
// interleave.
type Client struct {
	sink    Sink
	gateway Lister
	sched   scheduler.Scheduler
	health  *HeartbeatRegistry
	tokens  TokenProvider
	logger  *slog.Logger

	refreshDebounce time.Duration
	pollInterval    time.Duration
	listParams      gateway.ListParams
	onAuthFailure   func(error)

	mu             sync.Mutex
	started        bool
	ctx            context.Context
	refreshTimer   scheduler.Timer
	pollTimer      scheduler.Timer
	lastSnapshotAt time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithScheduler overrides the timer implementation. Tests inject a
// scheduler.Fake here.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(c *Client) {
		if s != nil {
			c.sched = s
		}
	}
}

// WithTokenProvider attaches the session token source used by fallback
// polling.
func WithTokenProvider(p TokenProvider) Option {
	return func(c *Client) {
		if p != nil {
			c.tokens = p
		}
	}
}

// WithHeartbeats attaches a shared registry so other subsystems observe the
// same channel liveness the client records.
func WithHeartbeats(h *HeartbeatRegistry) Option {
	return func(c *Client) {
		if h != nil {
			c.health = h
		}
	}
}

// WithRefreshDebounce sets how long after an unconfirmed delta the
// confirmatory refresh fires.
func WithRefreshDebounce(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.refreshDebounce = d
		}
	}
}

// WithPollInterval sets the cadence of fallback polling.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithListParams sets the filter applied to fallback list fetches.
func WithListParams(p gateway.ListParams) Option {
	return func(c *Client) {
		c.listParams = p
	}
}

// WithAuthFailureHandler installs the hook invoked when a poll fetch fails
// with HTTP 401. Auth failures are the one poll error that must not be
// swallowed; the session layer reacts here (typically by forcing re-login).
func WithAuthFailureHandler(fn func(error)) Option {
	return func(c *Client) {
		if fn != nil {
			c.onAuthFailure = fn
		}
	}
}

// WithLogger overrides the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a stopped client dispatching to sink and recovering
// through gw.
func NewClient(sink Sink, gw Lister, opts ...Option) *Client {
	c := &Client{
		sink:            sink,
		gateway:         gw,
		sched:           scheduler.New(),
		health:          NewHeartbeatRegistry(),
		tokens:          func() string { return "" },
		logger:          slog.Default().WithGroup("reconcile"),
		refreshDebounce: 5 * time.Second,
		pollInterval:    15 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.onAuthFailureDefault()
	return c
}

func (c *Client) onAuthFailureDefault() {
	if c.onAuthFailure == nil {
		c.onAuthFailure = func(err error) {
			c.logger.Error("authentication failure during fallback poll",
				slog.String("error", err.Error()))
		}
	}
}

// Heartbeats exposes the shared channel-liveness registry.
func (c *Client) Heartbeats() *HeartbeatRegistry {
	return c.health
}

// Start transitions the client to started. Idempotent. The context bounds
// the lifetime of fallback poll fetches.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.ctx = ctx
}

// Stop transitions to stopped and cancels both timers so no orphaned
// polling outlives the client. Idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.started = false
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	if c.pollTimer != nil {
		c.pollTimer.Stop()
		c.pollTimer = nil
	}
}

// HandleEvent consumes one inbound envelope. Within a single call the store
// dispatch always happens before the timer bookkeeping for that event.
func (c *Client) HandleEvent(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}

	// Some traffic was received, whatever it was.
	c.health.Beat(ChannelOrders, beatTime(env.Timestamp))

	switch env.Event {
	case EventOrdersStatus:
		c.handleDelta(env)
	case EventOrdersSnapshot:
		c.handleSnapshot(env)
	default:
		c.logger.Debug("ignoring unrecognized event", slog.String("event", env.Event))
	}
}

// handleDelta applies one partial update. Caller holds c.mu.
func (c *Client) handleDelta(env Envelope) {
	var raw map[string]any
	if err := json.Unmarshal(env.Payload, &raw); err != nil {
		c.logger.Debug("dropping malformed delta payload", slog.String("error", err.Error()))
		return
	}

	delta := order.NormalizeOrderEvent(raw)
	if delta == nil {
		c.logger.Debug("dropping delta without identifier")
		return
	}
	c.sink.Apply(UpsertOrder{ID: delta.ID, Changes: delta.Changes})

	// One delta is not proof the channel is unhealthy, but deltas without an
	// intervening snapshot for too long mean updates may be going missing.
	// Arm once and let it fire; re-arming on every delta would starve the
	// timer under steady traffic.
	if c.refreshTimer == nil {
		c.refreshTimer = c.sched.AfterFunc(c.refreshDebounce, c.refreshDue)
	}
}

// handleSnapshot applies a pushed full snapshot. Caller holds c.mu.
func (c *Client) handleSnapshot(env Envelope) {
	var payload snapshotPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		c.logger.Warn("dropping malformed snapshot payload", slog.String("error", err.Error()))
		return
	}

	receivedAt := payload.ReceivedAt
	if receivedAt == "" {
		receivedAt = env.Timestamp
	}
	c.sink.Apply(replaceFromItems(payload, receivedAt))
	c.lastSnapshotAt = time.Now()

	// The snapshot is the refresh, and a pushed snapshot proves the channel
	// healthy again: stop paying for polling.
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	if c.pollTimer != nil {
		c.pollTimer.Stop()
		c.pollTimer = nil
		c.logger.Info("live snapshot received; fallback polling stopped")
	}
}

// refreshDue fires when deltas went unconfirmed for the whole debounce
// window. It does not fetch once; it starts recurring polling that runs
// until a real snapshot arrives or the client stops.
func (c *Client) refreshDue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshTimer = nil
	if !c.started || c.pollTimer != nil {
		return
	}
	c.logger.Info("push channel unconfirmed; starting fallback polling",
		slog.Duration("interval", c.pollInterval))
	c.pollTimer = c.sched.Every(c.pollInterval, c.pollTick)
}

// pollTick performs one fallback fetch. Failures are logged and swallowed;
// the interval retries on its own cadence. Only a 401 escapes, through the
// auth-failure hook.
func (c *Client) pollTick() {
	c.mu.Lock()
	if !c.started || c.pollTimer == nil {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	params := c.listParams
	c.mu.Unlock()

	if strings.TrimSpace(c.tokens()) == "" {
		c.logger.Debug("no session token; skipping poll tick")
		return
	}

	page, err := c.gateway.ListOrders(ctx, params)
	if err != nil {
		if gateway.IsAuthError(err) {
			c.onAuthFailure(err)
			return
		}
		c.logger.Warn("fallback poll failed; will retry next tick",
			slog.String("error", err.Error()))
		return
	}

	// Same dispatch path as a pushed snapshot, so whichever resolves last
	// wins at the store. A synthetic snapshot neither proves channel health
	// nor stops the polling that produced it.
	replace := replaceFromItems(snapshotPayload{
		Items:      page.Items,
		Total:      &page.Total,
		Page:       &page.Page,
		PageSize:   &page.PageSize,
		HasNext:    &page.HasNext,
		ReceivedAt: page.ReceivedAt,
	}, page.ReceivedAt)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.sink.Apply(replace)
	c.lastSnapshotAt = time.Now()
}

func replaceFromItems(payload snapshotPayload, receivedAt string) ReplaceOrders {
	orders := make([]order.Order, 0, len(payload.Items))
	for _, item := range payload.Items {
		orders = append(orders, order.NormalizeOrder(item))
	}

	replace := ReplaceOrders{
		Orders:     orders,
		Total:      len(orders),
		Page:       1,
		PageSize:   len(orders),
		ReceivedAt: receivedAt,
	}
	if payload.Total != nil {
		replace.Total = *payload.Total
	}
	if payload.Page != nil {
		replace.Page = *payload.Page
	}
	if payload.PageSize != nil {
		replace.PageSize = *payload.PageSize
	}
	if payload.HasNext != nil {
		replace.HasNext = *payload.HasNext
	}
	return replace
}

// Status is a point-in-time view of the client for the dashboard's health
// surface.
type Status struct {
	Started        bool       `json:"started"`
	RefreshArmed   bool       `json:"refreshArmed"`
	Polling        bool       `json:"polling"`
	LastSnapshotAt *time.Time `json:"lastSnapshotAt,omitempty"`
}

// Status reports lifecycle and timer state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Started:      c.started,
		RefreshArmed: c.refreshTimer != nil,
		Polling:      c.pollTimer != nil,
	}
	if !c.lastSnapshotAt.IsZero() {
		ts := c.lastSnapshotAt
		st.LastSnapshotAt = &ts
	}
	return st
}

// beatTime prefers the envelope's own timestamp, falling back to wall clock
// when it does not parse.
func beatTime(ts string) time.Time {
	if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
		return parsed
	}
	return time.Now()
}
