package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func at(hour int) time.Time {
	return time.Date(2025, 6, 15, hour, 30, 0, 0, time.UTC)
}

func TestInWindow(t *testing.T) {
	cases := []struct {
		name       string
		hour       int
		start, end int
		want       bool
	}{
		{"inside plain window", 5, 4, 7, true},
		{"start is inclusive", 4, 4, 7, true},
		{"end is exclusive", 7, 4, 7, false},
		{"after plain window", 8, 4, 7, false},
		{"wrap: before midnight", 23, 23, 5, true},
		{"wrap: after midnight", 0, 23, 5, true},
		{"wrap: end exclusive", 5, 23, 5, false},
		{"wrap: midday outside", 12, 23, 5, false},
		{"equal bounds means always", 0, 4, 4, true},
		{"equal bounds means always (midday)", 12, 4, 4, true},
		{"equal bounds means always (same hour)", 4, 4, 4, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, InWindow(at(tc.hour), tc.start, tc.end))
		})
	}
}

func TestWindowDisabled(t *testing.T) {
	w := Window{Enabled: false, StartHour: 4, EndHour: 7}
	require.False(t, w.Active(at(5)))

	w.Enabled = true
	require.True(t, w.Active(at(5)))
	require.False(t, w.Active(at(8)))
}
