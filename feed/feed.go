// Package feed maintains the realtime websocket connection to the order
// gateway and turns incoming frames into envelopes for the reconciliation
// client. It owns reconnection; consumers just range over Events.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orderdeck/orderdeck/reconcile"
)

// TokenProvider supplies the session token appended to the dial request.
type TokenProvider func() string

// Feed dials the websocket endpoint and decodes frames into envelopes.
type Feed struct {
	url    string
	tokens TokenProvider
	logger *slog.Logger

	dialTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration
	minBackoff   time.Duration
	maxBackoff   time.Duration

	events chan reconcile.Envelope
}

type Option func(*Feed)

// WithTokenProvider attaches the session token source. The token rides along
// as a query parameter on the dial URL.
func WithTokenProvider(p TokenProvider) Option {
	return func(f *Feed) {
		if p != nil {
			f.tokens = p
		}
	}
}

// WithLogger overrides the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithBackoff bounds the reconnect backoff window.
func WithBackoff(min, max time.Duration) Option {
	return func(f *Feed) {
		if min > 0 {
			f.minBackoff = min
		}
		if max >= f.minBackoff {
			f.maxBackoff = max
		}
	}
}

// WithBuffer sets the event channel capacity.
func WithBuffer(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.events = make(chan reconcile.Envelope, n)
		}
	}
}

// New constructs a feed for url. Call Run to start it.
func New(url string, opts ...Option) *Feed {
	f := &Feed{
		url:          url,
		tokens:       func() string { return "" },
		logger:       slog.Default().WithGroup("feed"),
		dialTimeout:  10 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		pingInterval: 20 * time.Second,
		minBackoff:   time.Second,
		maxBackoff:   30 * time.Second,
		events:       make(chan reconcile.Envelope, 256),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Events is the stream of decoded envelopes. It closes when Run returns.
func (f *Feed) Events() <-chan reconcile.Envelope {
	return f.events
}

// Run connects and keeps reconnecting until ctx is cancelled. Frames that
// fail to decode are logged and skipped; the connection stays up.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.events)

	backoff := f.minBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := f.dial(ctx)
		if err != nil {
			f.logger.Warn("dial failed, backing off",
				slog.String("url", f.url),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = min(backoff*2, f.maxBackoff)
			continue
		}
		backoff = f.minBackoff

		err = f.pump(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("connection lost, reconnecting", slog.String("error", err.Error()))
	}
}

func (f *Feed) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, f.dialTimeout)
	defer cancel()

	target := f.url
	if token := f.tokens(); token != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + "token=" + url.QueryEscape(token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, target, nil)
	if err != nil {
		return nil, err
	}
	f.logger.Info("connected", slog.String("url", f.url))
	return conn, nil
}

// pump reads frames until the connection breaks. A side goroutine sends
// pings; pongs push the read deadline forward.
func (f *Feed) pump(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(5 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(f.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.readTimeout))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(f.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(f.readTimeout))

		var env reconcile.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			f.logger.Warn("skipping undecodable frame", slog.String("error", err.Error()))
			continue
		}
		if env.Event == "" {
			continue
		}

		select {
		case f.events <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
