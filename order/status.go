package order

import (
	"regexp"
	"strings"
)

// Status is the canonical order status. The upstream system spells statuses
// inconsistently ("cancelled - partial", "ApiCancelled", "PendingSubmit");
// everything funnels into this six-value set.
type Status string

const (
	StatusPending   Status = "pending"
	StatusWorking   Status = "working"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
	StatusInactive  Status = "inactive"
)

// statusTable exact-matches known broker spellings after foldKey folding
// (lowercase, whitespace/underscore/hyphen stripped).
var statusTable = map[string]Status{
	"pendingsubmit":    StatusPending,
	"presubmitted":     StatusPending,
	"pendingnew":       StatusPending,
	"queued":           StatusPending,
	"accepted":         StatusPending,
	"submitted":        StatusWorking,
	"working":          StatusWorking,
	"open":             StatusWorking,
	"live":             StatusWorking,
	"active":           StatusWorking,
	"partiallyfilled":  StatusWorking,
	"filled":           StatusFilled,
	"executed":         StatusFilled,
	"done":             StatusFilled,
	"complete":         StatusFilled,
	"completed":        StatusFilled,
	"cancelled":        StatusCancelled,
	"canceled":         StatusCancelled,
	"apicancelled":     StatusCancelled,
	"apicanceled":      StatusCancelled,
	"pendingcancel":    StatusCancelled,
	"cancelledpartial": StatusCancelled,
	"canceledpartial":  StatusCancelled,
	"rejected":         StatusRejected,
	"apirejected":      StatusRejected,
	"inactive":         StatusInactive,
}

// statusPattern pairs a canonical status with the regex that claims it.
// Order matters: overlapping spellings ("PendingCancel" is both pending-ish
// and cancel-ish) resolve to the first pattern that matches.
type statusPattern struct {
	status  Status
	pattern *regexp.Regexp
}

var statusPatterns = []statusPattern{
	{StatusInactive, regexp.MustCompile(`inactive`)},
	{StatusCancelled, regexp.MustCompile(`pendingcancel|cancelsubmit|apicancel|cancel|cxl`)},
	{StatusRejected, regexp.MustCompile(`reject|deni|refus`)},
	{StatusFilled, regexp.MustCompile(`filled|execut|done|complete`)},
	{StatusPending, regexp.MustCompile(`pend|presubmit|queue|new`)},
	{StatusWorking, regexp.MustCompile(`submit|work|live|open|active`)},
}

// CanonicalStatus normalizes raw status text into the canonical set. It
// never fails: text that matches neither the lookup table nor any pattern
// comes back as working.
func CanonicalStatus(raw string) Status {
	key := foldKey(raw)
	if key == "" {
		return StatusWorking
	}
	if status, ok := statusTable[key]; ok {
		return status
	}
	for _, sp := range statusPatterns {
		if sp.pattern.MatchString(key) {
			return sp.status
		}
	}
	return StatusWorking
}

// foldKey lowercases and strips whitespace, underscores, and hyphens so
// spelling variants collapse onto one table key.
func foldKey(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		switch r {
		case ' ', '\t', '\n', '\r', '_', '-':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
