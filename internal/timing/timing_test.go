package timing

import (
	"testing"
	"time"
)

func TestTrackerAverageRollsOver(t *testing.T) {
	tr := NewTracker(3)
	if _, ok := tr.Average("embeddings"); ok {
		t.Fatalf("expected no average before samples")
	}
	for _, ms := range []int{10, 20, 30, 40} {
		tr.Add("embeddings", time.Duration(ms)*time.Millisecond)
	}
	avg, ok := tr.Average("embeddings")
	if !ok || avg != 30*time.Millisecond {
		t.Fatalf("Average() = %v, %v; want 30ms", avg, ok)
	}
}

func TestTrackerPredict(t *testing.T) {
	tr := NewTracker(0)
	tr.Add("a", 100*time.Millisecond)
	tr.Add("b", 50*time.Millisecond)

	tests := []struct {
		name     string
		amount   int
		parallel int
		want     time.Duration
	}{
		{"nothing queued", 0, 4, 0},
		{"fits one round", 3, 4, 150 * time.Millisecond},
		{"two rounds", 5, 4, 300 * time.Millisecond},
		{"serial fallback", 2, 0, 300 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tr.Predict([]string{"a", "b", "unknown"}, tt.amount, tt.parallel); got != tt.want {
				t.Fatalf("Predict() = %v, want %v", got, tt.want)
			}
		})
	}
}
