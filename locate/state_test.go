package locate

import (
	"sync"
	"testing"
	"time"
)

func TestStateTracker_Readings(t *testing.T) {
	st := NewStateTracker()
	now := time.Now().Unix()

	st.UpdateReading(Reading{TargetID: "tag1", StationID: "b", Range: floatPtr(3), Timestamp: now})
	st.UpdateReading(Reading{TargetID: "tag1", StationID: "a", Range: floatPtr(5), Timestamp: now})
	st.UpdateReading(Reading{TargetID: "tag2", StationID: "a", Range: floatPtr(7), Timestamp: now})

	t.Run("sorted by station", func(t *testing.T) {
		readings := st.FreshReadings("tag1", 0)
		if len(readings) != 2 {
			t.Fatalf("expected 2 readings, got %d", len(readings))
		}
		if readings[0].StationID != "a" || readings[1].StationID != "b" {
			t.Errorf("readings not sorted by station: %v, %v", readings[0].StationID, readings[1].StationID)
		}
	})

	t.Run("newer reading replaces older", func(t *testing.T) {
		st.UpdateReading(Reading{TargetID: "tag1", StationID: "a", Range: floatPtr(6), Timestamp: now})
		readings := st.FreshReadings("tag1", 0)
		if len(readings) != 2 {
			t.Fatalf("expected 2 readings, got %d", len(readings))
		}
		if *readings[0].Range != 6 {
			t.Errorf("expected replaced range 6, got %v", *readings[0].Range)
		}
	})

	t.Run("age filter drops stale readings", func(t *testing.T) {
		st.UpdateReading(Reading{TargetID: "tag1", StationID: "c", Range: floatPtr(9), Timestamp: now - 3600})
		all := st.FreshReadings("tag1", 0)
		if len(all) != 3 {
			t.Fatalf("expected 3 readings without age filter, got %d", len(all))
		}
		fresh := st.FreshReadings("tag1", time.Minute)
		if len(fresh) != 2 {
			t.Errorf("expected stale reading dropped, got %d readings", len(fresh))
		}
	})

	t.Run("zero timestamp survives the age filter", func(t *testing.T) {
		st.UpdateReading(Reading{TargetID: "tag3", StationID: "a", Range: floatPtr(1)})
		fresh := st.FreshReadings("tag3", time.Minute)
		if len(fresh) != 1 {
			t.Errorf("expected untimestamped reading kept, got %d", len(fresh))
		}
	})

	t.Run("unknown target", func(t *testing.T) {
		if got := st.FreshReadings("nope", 0); got != nil {
			t.Errorf("expected nil for unknown target, got %v", got)
		}
	})

	t.Run("incomplete readings ignored", func(t *testing.T) {
		st.UpdateReading(Reading{TargetID: "", StationID: "a"})
		st.UpdateReading(Reading{TargetID: "tag4", StationID: ""})
		if got := st.FreshReadings("tag4", 0); got != nil {
			t.Errorf("expected no readings for tag4, got %v", got)
		}
	})
}

func TestStateTracker_Targets(t *testing.T) {
	st := NewStateTracker()
	st.UpdateReading(Reading{TargetID: "zulu", StationID: "a", Range: floatPtr(1)})
	st.UpdateReading(Reading{TargetID: "alpha", StationID: "a", Range: floatPtr(1)})

	targets := st.Targets()
	if len(targets) != 2 || targets[0] != "alpha" || targets[1] != "zulu" {
		t.Errorf("expected sorted targets [alpha zulu], got %v", targets)
	}
}

func TestStateTracker_Estimates(t *testing.T) {
	st := NewStateTracker()
	if st.HasEstimates() {
		t.Error("fresh tracker should have no estimates")
	}
	if st.GetEstimate("tag1") != nil {
		t.Error("expected nil estimate for unknown target")
	}

	st.UpdateEstimate(&TargetEstimate{TargetID: "tag1", Position: Point{1, 2}})
	st.UpdateEstimate(&TargetEstimate{TargetID: "tag0", Position: Point{3, 4}})
	st.UpdateEstimate(nil)
	st.UpdateEstimate(&TargetEstimate{TargetID: ""}) // ignored: no target ID

	if !st.HasEstimates() {
		t.Error("expected HasEstimates after updates")
	}
	if est := st.GetEstimate("tag1"); est == nil || est.Position[0] != 1 {
		t.Errorf("unexpected estimate for tag1: %+v", est)
	}

	all := st.GetEstimates()
	if len(all) != 2 || all[0].TargetID != "tag0" || all[1].TargetID != "tag1" {
		t.Errorf("expected estimates sorted by target, got %+v", all)
	}

	// Replacement keeps exactly one estimate per target.
	st.UpdateEstimate(&TargetEstimate{TargetID: "tag1", Position: Point{9, 9}})
	if est := st.GetEstimate("tag1"); est.Position[0] != 9 {
		t.Errorf("expected replaced estimate, got %+v", est)
	}
	if len(st.GetEstimates()) != 2 {
		t.Error("replacement must not grow the estimate set")
	}
}

func TestStateTracker_ConcurrentAccess(t *testing.T) {
	st := NewStateTracker()
	now := time.Now().Unix()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				st.UpdateReading(Reading{TargetID: "tag1", StationID: "a", Range: floatPtr(float64(j)), Timestamp: now})
				st.FreshReadings("tag1", time.Minute)
				st.UpdateEstimate(&TargetEstimate{TargetID: "tag1", Position: Point{float64(n), 0}})
				st.GetEstimates()
			}
		}(i)
	}
	wg.Wait()

	if got := len(st.FreshReadings("tag1", 0)); got != 1 {
		t.Errorf("expected 1 reading, got %d", got)
	}
}
