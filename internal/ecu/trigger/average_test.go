package trigger

import "testing"

func TestMovingAverageFillsThenAverages(t *testing.T) {
	var m movingAverage
	for i := 0; i < avgSize; i++ {
		m.add(1000)
	}
	if got := m.average(); got != 1000 {
		t.Fatalf("average() = %d, want 1000 once the ring is full of 1000s", got)
	}
}

func TestMovingAverageEvictsOldest(t *testing.T) {
	var m movingAverage
	for i := 0; i < avgSize; i++ {
		m.add(1000)
	}
	// Overwrite every slot with 2000; average should converge there.
	for i := 0; i < avgSize; i++ {
		m.add(2000)
	}
	if got := m.average(); got != 2000 {
		t.Fatalf("average() = %d, want 2000 after the ring fully cycles", got)
	}
}

func TestMovingAverageReset(t *testing.T) {
	var m movingAverage
	for i := 0; i < avgSize; i++ {
		m.add(5000)
	}
	m.reset()
	if got := m.average(); got != 0 {
		t.Fatalf("average() = %d, want 0 after reset", got)
	}
}
