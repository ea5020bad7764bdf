package transfer

import (
	"testing"
	"time"

	"shovel/internal/types"
)

func TestClassify(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name         string
		scheduledFor *time.Time
		want         Classification
	}{
		{"future delivery is eligible", &future, Eligible},
		{"past delivery is active", &past, ActiveSkip},
		{"exactly now is active", &now, ActiveSkip},
		{"no delivery time is active", nil, ActiveSkip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := types.QueueRecord{SequenceNumber: 1, OrderID: "ORD-1", ScheduledFor: tt.scheduledFor}
			if got := Classify(rec, now); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassify_OneSecondBoundary(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	justAfter := now.Add(time.Second)
	rec := types.QueueRecord{ScheduledFor: &justAfter}
	if Classify(rec, now) != Eligible {
		t.Error("delivery one second in the future should be eligible")
	}

	justBefore := now.Add(-time.Second)
	rec = types.QueueRecord{ScheduledFor: &justBefore}
	if Classify(rec, now) != ActiveSkip {
		t.Error("delivery one second in the past should be active")
	}
}
