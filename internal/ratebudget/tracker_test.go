package ratebudget_test

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/guildpulse/guildsync/internal/domain"
	"github.com/guildpulse/guildsync/internal/ratebudget"
)

func newTracker(pointsMax int) *ratebudget.Tracker {
	return ratebudget.New(pointsMax, time.Hour, domain.RateLimitConfig{
		LiveOperationsReserve: 20,
		WarningThreshold:      60,
		PauseThreshold:        80,
	}, zap.NewNop())
}

func TestTracker_ReserveBackgroundLeavesLiveReserve(t *testing.T) {
	tr := newTracker(100)

	// Background callers may use at most 80 of 100 points (20% reserved).
	if !tr.Reserve(80, false) {
		t.Fatal("expected reserve up to the background cap to succeed")
	}
	if tr.Reserve(1, false) {
		t.Fatal("expected background reserve past the cap to fail")
	}

	// The reserved headroom remains available to interactive callers.
	if !tr.Reserve(20, true) {
		t.Fatal("expected interactive reserve into the live reserve to succeed")
	}
	if tr.Reserve(1, true) {
		t.Fatal("expected interactive reserve past points max to fail")
	}
}

func TestTracker_ReserveFailureDoesNotConsume(t *testing.T) {
	tr := newTracker(100)

	if tr.Reserve(101, true) {
		t.Fatal("expected oversized reserve to fail")
	}
	if used := tr.Status().PointsUsed; used != 0 {
		t.Fatalf("failed reserve must not consume points, got %d used", used)
	}
}

func TestTracker_PausedAtThreshold(t *testing.T) {
	tr := newTracker(100)

	tr.Reserve(79, true)
	if tr.Paused() {
		t.Fatal("expected not paused below the pause threshold")
	}

	tr.Reserve(1, true)
	if !tr.Paused() {
		t.Fatal("expected paused at 80% usage")
	}
	if !tr.Status().IsPaused {
		t.Fatal("expected status to report paused")
	}
}

func TestTracker_ResetWindowClearsUsageAndPause(t *testing.T) {
	tr := newTracker(100)
	tr.Reserve(90, true)
	if !tr.Paused() {
		t.Fatal("expected paused before reset")
	}

	tr.ResetWindow()

	if tr.Paused() {
		t.Fatal("expected reset to clear the computed pause")
	}
	st := tr.Status()
	if st.PointsUsed != 0 || st.PointsRemaining != 100 {
		t.Fatalf("expected empty window after reset, got used=%d remaining=%d",
			st.PointsUsed, st.PointsRemaining)
	}
}

func TestTracker_OverrideWinsOverComputedState(t *testing.T) {
	t.Run("forced pause with empty budget", func(t *testing.T) {
		tr := newTracker(100)
		tr.SetPauseOverride(true)
		if !tr.Paused() {
			t.Fatal("expected forced pause to win with zero usage")
		}
	})

	t.Run("forced resume past the pause threshold", func(t *testing.T) {
		tr := newTracker(100)
		tr.Reserve(85, true)
		if !tr.Paused() {
			t.Fatal("expected computed pause at 85%")
		}

		tr.SetPauseOverride(false)
		if tr.Paused() {
			t.Fatal("expected forced resume to win over computed pause")
		}
		// Forced resume also lets background work consume into the reserve,
		// but never past the hard maximum.
		if !tr.Reserve(15, false) {
			t.Fatal("expected forced-resumed background reserve to reach points max")
		}
		if tr.Reserve(1, false) {
			t.Fatal("expected reserve past points max to fail even when forced resumed")
		}
	})

	t.Run("clearing the override restores computed state", func(t *testing.T) {
		tr := newTracker(100)
		tr.Reserve(85, true)
		tr.SetPauseOverride(false)
		tr.ClearPauseOverride()
		if !tr.Paused() {
			t.Fatal("expected computed pause after override cleared")
		}
	})

	t.Run("override survives a window reset", func(t *testing.T) {
		tr := newTracker(100)
		tr.SetPauseOverride(true)
		tr.ResetWindow()
		if !tr.Paused() {
			t.Fatal("expected operator pause to survive the window reset")
		}
	})
}

func TestTracker_WarningFiresOncePerWindow(t *testing.T) {
	tr := newTracker(100)
	var warnings []domain.RateLimitStatus
	tr.OnWarning(func(st domain.RateLimitStatus) { warnings = append(warnings, st) })

	tr.Reserve(50, true)
	if len(warnings) != 0 {
		t.Fatal("expected no warning below the threshold")
	}

	tr.Reserve(15, true)
	tr.Reserve(10, true)
	if len(warnings) != 1 {
		t.Fatalf("expected exactly one warning, got %d", len(warnings))
	}
	if warnings[0].PercentUsed < 60 {
		t.Fatalf("expected warning at or above 60%%, got %.1f", warnings[0].PercentUsed)
	}

	// A new window re-arms the warning.
	tr.ResetWindow()
	tr.Reserve(70, true)
	if len(warnings) != 2 {
		t.Fatalf("expected warning to re-fire after reset, got %d", len(warnings))
	}
}

func TestTracker_StatusSnapshot(t *testing.T) {
	tr := newTracker(18000)
	tr.Reserve(12, false)
	tr.Reserve(6, false)

	st := tr.Status()
	if st.PointsUsed != 18 {
		t.Fatalf("expected 18 points used, got %d", st.PointsUsed)
	}
	if st.PointsRemaining != 17982 {
		t.Fatalf("expected 17982 points remaining, got %d", st.PointsRemaining)
	}
	if st.PointsMax != 18000 {
		t.Fatalf("expected points max 18000, got %d", st.PointsMax)
	}
	if st.ResetInSeconds <= 0 || st.ResetInSeconds > 3600 {
		t.Fatalf("expected reset within the hour, got %d seconds", st.ResetInSeconds)
	}
}

func TestTracker_ReleaseReturnsUnusedReservation(t *testing.T) {
	tr := newTracker(100)

	if !tr.Reserve(30, false) {
		t.Fatal("expected reserve to succeed")
	}
	tr.Release(30)

	if used := tr.Status().PointsUsed; used != 0 {
		t.Fatalf("expected released points back in the budget, got %d used", used)
	}

	// A release after the window reset must not drive usage negative.
	tr.Reserve(10, false)
	tr.ResetWindow()
	tr.Release(10)
	if used := tr.Status().PointsUsed; used != 0 {
		t.Fatalf("expected usage clamped at zero, got %d", used)
	}
}
