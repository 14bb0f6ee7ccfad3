package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orderdeck/orderdeck/gateway"
	"github.com/orderdeck/orderdeck/internal/testutil"
	"github.com/orderdeck/orderdeck/order"
	"github.com/orderdeck/orderdeck/scheduler"
)

type capturingSink struct {
	mu      sync.Mutex
	actions []Action
}

func (s *capturingSink) Apply(a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, a)
}

func (s *capturingSink) all() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Action(nil), s.actions...)
}

type fakeLister struct {
	mu    sync.Mutex
	page  *gateway.OrderPage
	err   error
	calls int
}

func (l *fakeLister) ListOrders(_ context.Context, _ gateway.ListParams) (*gateway.OrderPage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.page, nil
}

func (l *fakeLister) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type harness struct {
	client *Client
	sink   *capturingSink
	sched  *scheduler.Fake
	lister *fakeLister
	token  string
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		sink:   &capturingSink{},
		sched:  scheduler.NewFake(),
		lister: &fakeLister{page: &gateway.OrderPage{ReceivedAt: "2024-04-02T09:00:00Z"}},
		token:  "session-token",
	}

	base := []Option{
		WithScheduler(h.sched),
		WithTokenProvider(func() string { return h.token }),
		WithRefreshDebounce(4 * time.Second),
		WithPollInterval(15 * time.Second),
	}
	h.client = NewClient(h.sink, h.lister, append(base, opts...)...)
	h.client.Start(context.Background())
	t.Cleanup(h.client.Stop)
	return h
}

func deltaEnvelope(t *testing.T, payload map[string]any) Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return Envelope{Event: EventOrdersStatus, Payload: raw, Timestamp: "2024-04-02T08:00:00Z"}
}

func snapshotEnvelope(t *testing.T, items ...map[string]any) Envelope {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"items":       items,
		"total":       len(items),
		"page":        1,
		"page_size":   50,
		"has_next":    false,
		"received_at": "2024-04-02T08:30:00Z",
	})
	require.NoError(t, err)
	return Envelope{Event: EventOrdersSnapshot, Payload: raw, Timestamp: "2024-04-02T08:30:00Z"}
}

// fireRefresh drives the armed debounce timer, which must arm the recurring
// poll.
func (h *harness) fireRefresh(t *testing.T) *scheduler.FakeTimer {
	t.Helper()
	pending := h.sched.Pending()
	require.Len(t, pending, 1)
	require.False(t, pending[0].Recurring)
	pending[0].Fire()

	pending = h.sched.Pending()
	require.Len(t, pending, 1)
	require.True(t, pending[0].Recurring)
	return pending[0]
}

func TestHandleEvent_DeltaDispatchesUpsert(t *testing.T) {
	h := newHarness(t)

	h.client.HandleEvent(deltaEnvelope(t, map[string]any{
		"order_id": "A1",
		"status":   "executed",
		"side":     "S",
	}))

	actions := h.sink.all()
	require.Len(t, actions, 1)
	upsert, ok := actions[0].(UpsertOrder)
	require.True(t, ok)
	require.Equal(t, "A1", upsert.ID)
	require.Equal(t, order.StatusFilled, upsert.Changes.Status.MustGet())
	require.Equal(t, order.SideSell, upsert.Changes.Side.MustGet())

	// Delta handling arms the confirmatory refresh.
	require.Equal(t, 1, h.sched.Armed())
}

func TestHandleEvent_DeltaWithoutIdentifierIsDropped(t *testing.T) {
	h := newHarness(t)

	h.client.HandleEvent(deltaEnvelope(t, map[string]any{"status": "pending"}))

	require.Empty(t, h.sink.all())
	// No dispatch, no timer: a dropped event must not schedule recovery.
	require.Zero(t, h.sched.Armed())
	// But the heartbeat still moved: traffic was received.
	_, ok := h.client.Heartbeats().Last(ChannelOrders)
	require.True(t, ok)
}

func TestHandleEvent_DebounceCollapses(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 3; i++ {
		h.client.HandleEvent(deltaEnvelope(t, map[string]any{"order_id": "A1", "filled": i}))
	}

	// Three deltas inside the window arm exactly one refresh timer.
	require.Equal(t, 1, h.sched.Armed())
	require.Len(t, h.sink.all(), 3)
}

func TestHandleEvent_SnapshotReplacesAndClearsTimers(t *testing.T) {
	h := newHarness(t)

	h.client.HandleEvent(deltaEnvelope(t, map[string]any{"order_id": "order-1", "status": "working"}))
	h.fireRefresh(t) // poll interval is now armed

	h.client.HandleEvent(snapshotEnvelope(t, map[string]any{"id": "order-99", "symbol": "ESZ4"}))

	actions := h.sink.all()
	require.Len(t, actions, 2)
	replace, ok := actions[1].(ReplaceOrders)
	require.True(t, ok)
	require.Len(t, replace.Orders, 1)
	require.Equal(t, "order-99", replace.Orders[0].ID)
	require.Equal(t, "2024-04-02T08:30:00Z", replace.ReceivedAt)

	// The snapshot is the refresh and proof of channel health: both timers
	// must be gone.
	require.Zero(t, h.sched.Armed())
	require.False(t, h.client.Status().Polling)
	require.False(t, h.client.Status().RefreshArmed)
}

func TestHandleEvent_UnknownEventOnlyBeatsHeartbeat(t *testing.T) {
	h := newHarness(t)

	h.client.HandleEvent(Envelope{Event: "positions.update", Timestamp: "2024-04-02T08:00:00Z"})

	require.Empty(t, h.sink.all())
	require.Zero(t, h.sched.Armed())

	ts, ok := h.client.Heartbeats().Last(ChannelOrders)
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC), ts.UTC())
}

func TestPollTick_FetchesAndDispatchesSyntheticSnapshot(t *testing.T) {
	h := newHarness(t)
	h.lister.page = &gateway.OrderPage{
		Items:      []map[string]any{testutil.NewOrderPayload(t, "poll-1", testutil.WithField("status", "Submitted"))},
		Total:      1,
		Page:       1,
		PageSize:   50,
		ReceivedAt: "2024-04-02T09:00:00Z",
	}

	h.client.HandleEvent(deltaEnvelope(t, map[string]any{"order_id": "A1"}))
	poll := h.fireRefresh(t)

	poll.Fire()
	require.Equal(t, 1, h.lister.callCount())

	actions := h.sink.all()
	require.Len(t, actions, 2)
	replace, ok := actions[1].(ReplaceOrders)
	require.True(t, ok)
	require.Len(t, replace.Orders, 1)
	require.Equal(t, "poll-1", replace.Orders[0].ID)
	require.Equal(t, order.StatusWorking, replace.Orders[0].Status)

	// A synthetic snapshot does not stop the polling that produced it.
	require.False(t, poll.Stopped())
	require.True(t, h.client.Status().Polling)
}

func TestPollTick_EmptyTokenSkipsFetch(t *testing.T) {
	h := newHarness(t)
	h.token = ""

	h.client.HandleEvent(deltaEnvelope(t, map[string]any{"order_id": "A1"}))
	poll := h.fireRefresh(t)

	poll.Fire()
	require.Zero(t, h.lister.callCount())
	require.Len(t, h.sink.all(), 1) // only the delta upsert
}

func TestPollTick_ErrorIsSwallowedAndRetried(t *testing.T) {
	h := newHarness(t)
	h.lister.err = errors.New("connection refused")

	h.client.HandleEvent(deltaEnvelope(t, map[string]any{"order_id": "A1"}))
	poll := h.fireRefresh(t)

	poll.Fire()
	poll.Fire()

	require.Equal(t, 2, h.lister.callCount())
	require.Len(t, h.sink.all(), 1)
	require.False(t, poll.Stopped())
}

func TestPollTick_AuthFailureReachesHook(t *testing.T) {
	var authErr error
	h := newHarness(t, WithAuthFailureHandler(func(err error) { authErr = err }))
	h.lister.err = &gateway.APIError{Status: 401, Body: "token expired"}

	h.client.HandleEvent(deltaEnvelope(t, map[string]any{"order_id": "A1"}))
	poll := h.fireRefresh(t)
	poll.Fire()

	require.Error(t, authErr)
	require.True(t, gateway.IsAuthError(authErr))
	// Polling itself keeps running; reacting is the session layer's job.
	require.False(t, poll.Stopped())
}

func TestStop_CancelsTimersAndSilencesCallbacks(t *testing.T) {
	h := newHarness(t)

	h.client.HandleEvent(deltaEnvelope(t, map[string]any{"order_id": "A1"}))
	poll := h.fireRefresh(t)

	h.client.Stop()
	require.True(t, poll.Stopped())
	require.Zero(t, h.sched.Armed())

	// A racing fire after stop must not dispatch or fetch.
	poll.Fire()
	require.Zero(t, h.lister.callCount())
	require.Len(t, h.sink.all(), 1)

	// Events after stop are ignored.
	h.client.HandleEvent(deltaEnvelope(t, map[string]any{"order_id": "A2"}))
	require.Len(t, h.sink.all(), 1)

	// Stop is idempotent.
	h.client.Stop()
}

func TestStartStop_Idempotent(t *testing.T) {
	h := newHarness(t)

	h.client.Start(context.Background())
	h.client.HandleEvent(deltaEnvelope(t, map[string]any{"order_id": "A1"}))
	require.Len(t, h.sink.all(), 1)

	h.client.Stop()
	h.client.Stop()

	h.client.Start(context.Background())
	h.client.HandleEvent(deltaEnvelope(t, map[string]any{"order_id": "A2"}))
	require.Len(t, h.sink.all(), 2)
}

func TestEndToEnd_ReconciliationScenario(t *testing.T) {
	h := newHarness(t)

	// Delta for order-1 arms the refresh.
	h.client.HandleEvent(deltaEnvelope(t, map[string]any{"order_id": "order-1", "status": "working"}))
	require.Equal(t, 1, h.sched.Armed())

	// Snapshot containing only order-99 replaces everything and clears the
	// timers.
	h.client.HandleEvent(snapshotEnvelope(t, map[string]any{"id": "order-99"}))
	require.Zero(t, h.sched.Armed())

	actions := h.sink.all()
	replace, ok := actions[len(actions)-1].(ReplaceOrders)
	require.True(t, ok)
	require.Len(t, replace.Orders, 1)
	require.Equal(t, "order-99", replace.Orders[0].ID)

	_, beatSeen := h.client.Heartbeats().Last(ChannelOrders)
	require.True(t, beatSeen)

	// A subsequent delta arms a fresh refresh timer: the earlier clear was
	// not a one-time disable.
	h.client.HandleEvent(deltaEnvelope(t, map[string]any{"order_id": "order-99", "filled": 1}))
	require.Equal(t, 1, h.sched.Armed())
}

func TestRefreshDue_DoesNotDoubleArmPolling(t *testing.T) {
	h := newHarness(t)

	h.client.HandleEvent(deltaEnvelope(t, map[string]any{"order_id": "A1"}))
	h.fireRefresh(t)

	// Another delta while polling arms a new refresh; its fire must not arm
	// a second interval.
	h.client.HandleEvent(deltaEnvelope(t, map[string]any{"order_id": "A2"}))
	pending := h.sched.Pending()
	require.Len(t, pending, 2)
	for _, timer := range pending {
		if !timer.Recurring {
			timer.Fire()
		}
	}

	recurring := 0
	for _, timer := range h.sched.Pending() {
		if timer.Recurring {
			recurring++
		}
	}
	require.Equal(t, 1, recurring)
}
