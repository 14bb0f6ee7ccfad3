package log

import (
	"context"
	"log/slog"
	"strings"
)

// GroupFilterHandler drops records unless the logger that emitted them was
// built with WithGroup using one of the allowed names. Used to narrow noisy
// debug output to one subsystem.
type GroupFilterHandler struct {
	next    slog.Handler
	allowed map[string]struct{}
	path    []string
}

// NewGroupFilterHandler wraps next with group filtering. An empty allow list
// means no filtering, so next is returned as-is.
func NewGroupFilterHandler(next slog.Handler, allowedGroups []string) slog.Handler {
	if next == nil || len(allowedGroups) == 0 {
		return next
	}
	allowed := make(map[string]struct{}, len(allowedGroups))
	for _, name := range allowedGroups {
		if key := strings.ToLower(strings.TrimSpace(name)); key != "" {
			allowed[key] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return next
	}
	return &GroupFilterHandler{next: next, allowed: allowed}
}

func (h *GroupFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h == nil || h.next == nil {
		return false
	}
	return h.next.Enabled(ctx, level)
}

func (h *GroupFilterHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, name := range h.path {
		if _, ok := h.allowed[name]; ok {
			return h.next.Handle(ctx, record)
		}
	}
	return nil
}

func (h *GroupFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &GroupFilterHandler{
		next:    h.next.WithAttrs(attrs),
		allowed: h.allowed,
		path:    h.path,
	}
}

func (h *GroupFilterHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	path := make([]string, 0, len(h.path)+1)
	path = append(path, h.path...)
	path = append(path, strings.ToLower(name))
	return &GroupFilterHandler{
		next:    h.next.WithGroup(name),
		allowed: h.allowed,
		path:    path,
	}
}
