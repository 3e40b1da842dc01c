package memmon

import "testing"

func TestChunkSizePolicyHalvesOnHighWatermark(t *testing.T) {
	p := NewChunkSizePolicy(100_000, 5_000, 200_000, 75, 40)
	p.Observe(80)
	if p.Current() != 50_000 {
		t.Fatalf("want halved to 50000, got %d", p.Current())
	}
}

func TestChunkSizePolicyFloorsAtMin(t *testing.T) {
	p := NewChunkSizePolicy(6_000, 5_000, 200_000, 75, 40)
	p.Observe(90)
	if p.Current() != 5_000 {
		t.Fatalf("want floored to min 5000, got %d", p.Current())
	}
}

func TestChunkSizePolicyDoublesAfterThreeLowObservations(t *testing.T) {
	p := NewChunkSizePolicy(10_000, 5_000, 200_000, 75, 40)
	p.Observe(20)
	p.Observe(20)
	if p.Current() != 10_000 {
		t.Fatalf("should not double before 3 consecutive low observations, got %d", p.Current())
	}
	p.Observe(20)
	if p.Current() != 20_000 {
		t.Fatalf("want doubled to 20000 after 3 low observations, got %d", p.Current())
	}
}

func TestChunkSizePolicyCeilsAtMax(t *testing.T) {
	p := NewChunkSizePolicy(180_000, 5_000, 200_000, 75, 40)
	p.Observe(10)
	p.Observe(10)
	p.Observe(10)
	if p.Current() != 200_000 {
		t.Fatalf("want ceiled to max 200000, got %d", p.Current())
	}
}

func TestChunkSizePolicyMidRangeResetsStreak(t *testing.T) {
	p := NewChunkSizePolicy(10_000, 5_000, 200_000, 75, 40)
	p.Observe(20)
	p.Observe(20)
	p.Observe(50) // mid-range, should reset the low streak
	p.Observe(20)
	if p.Current() != 10_000 {
		t.Fatalf("streak should have reset, got %d", p.Current())
	}
}

func TestHardCapExceeded(t *testing.T) {
	if !HardCapExceeded(91, 90) {
		t.Fatalf("91 should exceed hard cap 90")
	}
	if HardCapExceeded(89, 90) {
		t.Fatalf("89 should not exceed hard cap 90")
	}
	if !HardCapExceeded(90, 90) {
		t.Fatalf("90 should exceed (>=) hard cap 90")
	}
}

func TestMonitorDisabledWithZeroBudget(t *testing.T) {
	m := NewMonitor(0)
	m.Start()
	defer m.Stop()
	if m.Utilization() != 0 {
		t.Fatalf("disabled monitor should report 0 utilization")
	}
}
