package risk

import "testing"

func testTrackerConfig() TrackerConfig {
	return TrackerConfig{Threshold: 70, ConsecutiveLow: 3}
}

func TestLatchFiresOnThirdConsecutiveLow(t *testing.T) {
	tr := NewTracker(testTrackerConfig())
	if tr.Observe("s1", 60).JustLatched {
		t.Fatalf("should not latch after 1 low reading")
	}
	if tr.Observe("s1", 65).JustLatched {
		t.Fatalf("should not latch after 2 low readings")
	}
	obs := tr.Observe("s1", 50)
	if !obs.JustLatched || !obs.IsAtRisk {
		t.Fatalf("expected latch on the 3rd consecutive low reading")
	}
}

func TestLatchIsOneShot(t *testing.T) {
	tr := NewTracker(testTrackerConfig())
	tr.Observe("s1", 60)
	tr.Observe("s1", 60)
	first := tr.Observe("s1", 60)
	if !first.JustLatched {
		t.Fatalf("expected latch on 3rd reading")
	}
	second := tr.Observe("s1", 10)
	if second.JustLatched {
		t.Fatalf("latch must not re-fire on subsequent low readings")
	}
	if !second.IsAtRisk {
		t.Fatalf("latch should remain true")
	}
}

func TestLatchIsMonotonicUntilReset(t *testing.T) {
	tr := NewTracker(testTrackerConfig())
	tr.Observe("s1", 60)
	tr.Observe("s1", 60)
	tr.Observe("s1", 60)

	// A healthy reading resets low_reading_count but must not clear the latch.
	obs := tr.Observe("s1", 90)
	if !obs.IsAtRisk {
		t.Fatalf("a single healthy reading must not clear the latch")
	}
	if obs.LowReadingCount != 0 {
		t.Fatalf("expected low_reading_count to reset to 0, got %d", obs.LowReadingCount)
	}

	tr.Reset("s1")
	if tr.IsAtRisk("s1") {
		t.Fatalf("expected explicit reset to clear the latch")
	}
}

func TestWindowCapsAtFive(t *testing.T) {
	tr := NewTracker(testTrackerConfig())
	var last Observation
	for i := 0; i < 8; i++ {
		last = tr.Observe("s1", 90)
	}
	if len(last.Window) != 5 {
		t.Fatalf("expected window capped at 5, got %d", len(last.Window))
	}
}
