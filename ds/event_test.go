package ds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartFrom(t *testing.T) {
	now := time.Now()
	ev := Event{Channel: "orders", Pos: 5, Timestamp: now}

	tests := []struct {
		name     string
		from     StartFrom
		newOnly  bool
		includes bool
	}{
		{"zero value", StartFrom{}, true, true},
		{"position before", FromPosition(3), false, true},
		{"position equal", FromPosition(5), false, true},
		{"position after", FromPosition(6), false, false},
		{"time before", FromTime(now.Add(-time.Second)), false, true},
		{"time equal", FromTime(now), false, true},
		{"time after", FromTime(now.Add(time.Second)), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.newOnly, tt.from.NewOnly())
			assert.Equal(t, tt.includes, tt.from.Includes(ev))
		})
	}
}
