package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartOfWeek(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			"wednesday",
			time.Date(2025, 3, 5, 12, 30, 0, 0, time.UTC),
			time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			"monday itself",
			time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			"sunday belongs to the week started six days earlier",
			time.Date(2025, 3, 9, 23, 59, 59, 0, time.UTC),
			time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			"non-UTC input is normalized",
			time.Date(2025, 3, 3, 1, 0, 0, 0, time.FixedZone("UTC+2", 2*3600)),
			time.Date(2025, 2, 24, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StartOfWeek(tt.in))
		})
	}
}

func TestStartOfMonth(t *testing.T) {
	got := StartOfMonth(time.Date(2025, 3, 31, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), got)
}
