package order

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalStatus_KnownSpellings(t *testing.T) {
	cases := []struct {
		raw  string
		want Status
	}{
		{"cancelled - partial", StatusCancelled},
		{"ApiCancelled", StatusCancelled},
		{"PendingSubmit", StatusPending},
		{"Inactive", StatusInactive},
		{"executed", StatusFilled},
		{"PreSubmitted", StatusPending},
		{"Submitted", StatusWorking},
		{"partially_filled", StatusWorking},
		{"Filled", StatusFilled},
		{"canceled", StatusCancelled},
		{"Rejected", StatusRejected},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			require.Equal(t, tc.want, CanonicalStatus(tc.raw))
		})
	}
}

func TestCanonicalStatus_PatternPrecedence(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Status
	}{
		// pendingcancel is both pending-ish and cancel-ish; cancel wins.
		{"pending cancel", "PENDING CANCEL REQ", StatusCancelled},
		{"cxl shorthand", "cxl-by-user", StatusCancelled},
		{"executing", "executing", StatusFilled},
		{"partially executed", "partially executed", StatusFilled},
		{"inactive beats cancel", "inactive-cancelled", StatusInactive},
		{"submit live", "order submit ok", StatusWorking},
		{"rejection", "broker denied request", StatusRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, CanonicalStatus(tc.raw))
		})
	}
}

func TestCanonicalStatus_UnmatchedDefaultsToWorking(t *testing.T) {
	require.Equal(t, StatusWorking, CanonicalStatus("definitely not a status"))
	require.Equal(t, StatusWorking, CanonicalStatus(""))
	require.Equal(t, StatusWorking, CanonicalStatus("   "))
}

func TestCanonicalSide(t *testing.T) {
	require.Equal(t, SideSell, CanonicalSide("S"))
	require.Equal(t, SideSell, CanonicalSide("SELL"))
	require.Equal(t, SideSell, CanonicalSide("short"))
	require.Equal(t, SideBuy, CanonicalSide("B"))
	require.Equal(t, SideBuy, CanonicalSide("BOT"))
	// Unknown or ambiguous input defaults to buy.
	require.Equal(t, SideBuy, CanonicalSide("hold"))
	require.Equal(t, SideBuy, CanonicalSide(""))
}

func TestCanonicalType(t *testing.T) {
	require.Equal(t, TypeMarket, CanonicalType("MKT"))
	require.Equal(t, TypeMarket, CanonicalType("market"))
	require.Equal(t, TypeStop, CanonicalType("STP"))
	require.Equal(t, TypeLimit, CanonicalType("LMT"))
	require.Equal(t, TypeLimit, CanonicalType(""))
	require.Equal(t, TypeLimit, CanonicalType("iceberg"))
}
