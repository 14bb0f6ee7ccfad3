package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGroupFilterHandler_EmptyAllowListPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, nil)

	require.Same(t, slog.Handler(base), NewGroupFilterHandler(base, nil))
}

func TestGroupFilterHandler_FiltersByGroup(t *testing.T) {
	var buf bytes.Buffer
	handler := NewGroupFilterHandler(slog.NewTextHandler(&buf, nil), []string{"reconcile"})

	slog.New(handler).WithGroup("gateway").Info("hidden")
	require.Empty(t, buf.String())

	slog.New(handler).WithGroup("reconcile").Info("visible")
	require.Contains(t, buf.String(), "visible")
}

func TestGroupFilterHandler_NestedGroupStillMatches(t *testing.T) {
	var buf bytes.Buffer
	handler := NewGroupFilterHandler(slog.NewTextHandler(&buf, nil), []string{"Reconcile"})

	slog.New(handler).WithGroup("reconcile").WithGroup("poll").Info("visible")
	require.Contains(t, buf.String(), "visible")
}

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	handler := NewMultiHandler(
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
		nil,
	)

	logger := slog.New(handler)
	logger.Info("info line")
	logger.Warn("warn line")

	require.Contains(t, a.String(), "info line")
	require.Contains(t, a.String(), "warn line")
	require.NotContains(t, b.String(), "info line")
	require.Contains(t, b.String(), "warn line")
}
