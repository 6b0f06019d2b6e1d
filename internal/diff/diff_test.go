package diff

import (
	"testing"

	"github.com/avikstrom/finishline/internal/upstream"
)

func snapshot(runners ...upstream.RunnerRecord) *upstream.ClassSnapshot {
	return &upstream.ClassSnapshot{
		CompetitionID: 10278,
		ClassName:     "H21",
		SplitControls: []upstream.SplitControl{
			{Code: 101, Name: "2,1 km"},
			{Code: 1065, Name: "4,5 km"},
		},
		Runners: runners,
	}
}

func TestDiff_SnapshotAgainstItselfIsEmpty(t *testing.T) {
	s := snapshot(
		upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 100, Result: "17:02",
			Splits: map[int]upstream.Split{101: {Time: 12000}, 1065: {Time: 26900}}},
		upstream.RunnerRecord{Name: "B", Status: upstream.StatusDisqualified, Progress: 50},
		upstream.RunnerRecord{Name: "C", Status: upstream.StatusNotStarted},
	)

	if events := Changes(s, s); len(events) != 0 {
		t.Errorf("expected no events diffing a snapshot against itself, got %+v", events)
	}
}

func TestDiff_EmptyBaselineNeverNotifies(t *testing.T) {
	fresh := snapshot(
		upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 100, Result: "17:02",
			Splits: map[int]upstream.Split{1065: {Time: 26900}}},
	)

	if events := Changes(snapshot(), fresh); len(events) != 0 {
		t.Errorf("expected first sighting to stay silent, got %+v", events)
	}
	if events := Changes(nil, fresh); len(events) != 0 {
		t.Errorf("expected nil baseline to stay silent, got %+v", events)
	}
}

func TestDiff_NewRunnerEstablishesBaselineOnly(t *testing.T) {
	old := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 30})
	updated := snapshot(
		upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 30},
		upstream.RunnerRecord{Name: "B", Status: upstream.StatusOK, Progress: 100, Result: "20:00",
			Splits: map[int]upstream.Split{1065: {Time: 30000}}},
	)

	if events := Changes(old, updated); len(events) != 0 {
		t.Errorf("expected no events for newly sighted runner, got %+v", events)
	}
}

func TestDiff_SplitFiresExactlyOnce(t *testing.T) {
	old := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 40})
	updated := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 60,
		Splits: map[int]upstream.Split{101: {Time: 12000, Place: 1, HasPlace: true}}})

	events := Changes(old, updated)
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %+v", events)
	}
	if events[0].Kind != KindSplitArrived || events[0].ControlCode != 101 {
		t.Errorf("unexpected event: %+v", events[0])
	}
	if events[0].ControlName != "2,1 km" {
		t.Errorf("expected control name from metadata, got %q", events[0].ControlName)
	}

	if again := Changes(updated, updated); len(again) != 0 {
		t.Errorf("expected no events on repeat diff, got %+v", again)
	}
}

func TestDiff_MultipleSplitsFollowControlOrder(t *testing.T) {
	old := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 10})
	updated := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 80,
		Splits: map[int]upstream.Split{
			1065: {Time: 26900},
			101:  {Time: 12000},
		}})

	events := Changes(old, updated)
	if len(events) != 2 {
		t.Fatalf("expected two split events, got %+v", events)
	}
	if events[0].ControlCode != 101 || events[1].ControlCode != 1065 {
		t.Errorf("expected control metadata order 101,1065; got %d,%d", events[0].ControlCode, events[1].ControlCode)
	}
}

func TestDiff_FinishExclusivity(t *testing.T) {
	old := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 80})
	updated := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 100,
		Result: "17:02", Place: "1"})

	events := Changes(old, updated)
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %+v", events)
	}
	if events[0].Kind != KindFinished {
		t.Errorf("expected Finished, got %v", events[0].Kind)
	}
	if events[0].Result != "17:02" || events[0].Place != "1" {
		t.Errorf("unexpected finish event: %+v", events[0])
	}
}

func TestDiff_StatusProblemExclusivityAtFinish(t *testing.T) {
	old := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 80})
	updated := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusDisqualified, Progress: 100})

	events := Changes(old, updated)
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %+v", events)
	}
	if events[0].Kind != KindStatusProblem {
		t.Errorf("expected StatusProblem, got %v", events[0].Kind)
	}
	if events[0].Status != upstream.StatusDisqualified {
		t.Errorf("unexpected status: %v", events[0].Status)
	}
}

func TestDiff_MidRaceStatusProblem(t *testing.T) {
	old := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 60})
	updated := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusDNF, Progress: 60})

	events := Changes(old, updated)
	if len(events) != 1 || events[0].Kind != KindStatusProblem {
		t.Fatalf("expected one mid-race status problem, got %+v", events)
	}
}

func TestDiff_NotStartedTransitionIsSilent(t *testing.T) {
	old := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusNotStarted, Progress: 0})
	updated := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusNotStarted2, Progress: 0})

	if events := Changes(old, updated); len(events) != 0 {
		t.Errorf("expected no events for not-started variant flip, got %+v", events)
	}
}

// Scenario: runner goes from not-started to a finished OK record in one poll.
func TestDiff_NotStartedToFinished(t *testing.T) {
	old := snapshot(upstream.RunnerRecord{Name: "Anton Mörkfors", Status: upstream.StatusNotStarted, Progress: 0})
	updated := snapshot(upstream.RunnerRecord{Name: "Anton Mörkfors", Status: upstream.StatusOK,
		Progress: 100, Result: "17:02", Place: "1"})

	events := Changes(old, updated)
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %+v", events)
	}
	e := events[0]
	if e.Kind != KindFinished || e.Result != "17:02" || e.Place != "1" || e.Runner != "Anton Mörkfors" {
		t.Errorf("unexpected event: %+v", e)
	}
}

// Scenario: a radio split arrives with place and a non-zero time behind.
func TestDiff_SplitWithPlaceAndTimeBehind(t *testing.T) {
	old := snapshot(upstream.RunnerRecord{Name: "Anton Mörkfors", Status: upstream.StatusOK, Progress: 40})
	updated := snapshot(upstream.RunnerRecord{Name: "Anton Mörkfors", Status: upstream.StatusOK, Progress: 70,
		Splits: map[int]upstream.Split{1065: {Time: 26900, Place: 2, HasPlace: true, TimePlus: 1100, HasTimePlus: true}}})

	events := Changes(old, updated)
	if len(events) != 1 {
		t.Fatalf("expected one split event, got %+v", events)
	}
	e := events[0]
	if e.ControlCode != 1065 || e.Split.Place != 2 || e.Split.TimePlus != 1100 {
		t.Errorf("unexpected split event: %+v", e)
	}
	if e.Leading() {
		t.Error("non-zero time behind must not flag the runner as leading")
	}
}

func TestDiff_ZeroTimeBehindMeansLeading(t *testing.T) {
	old := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 40})
	updated := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 70,
		Splits: map[int]upstream.Split{1065: {Time: 26900, Place: 1, HasPlace: true, TimePlus: 0, HasTimePlus: true}}})

	events := Changes(old, updated)
	if len(events) != 1 {
		t.Fatalf("expected one split event, got %+v", events)
	}
	if !events[0].Leading() {
		t.Error("zero time behind at a control must flag the runner as leading")
	}
}

func TestDiff_EventsFollowNewSnapshotRunnerOrder(t *testing.T) {
	old := snapshot(
		upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 80},
		upstream.RunnerRecord{Name: "B", Status: upstream.StatusOK, Progress: 80},
	)
	updated := snapshot(
		upstream.RunnerRecord{Name: "B", Status: upstream.StatusOK, Progress: 100, Result: "18:00"},
		upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 100, Result: "17:02"},
	)

	events := Changes(old, updated)
	if len(events) != 2 {
		t.Fatalf("expected two events, got %+v", events)
	}
	if events[0].Runner != "B" || events[1].Runner != "A" {
		t.Errorf("expected new snapshot order B,A; got %s,%s", events[0].Runner, events[1].Runner)
	}
}

func TestDiff_ToleratesProgressRegression(t *testing.T) {
	// Upstream occasionally violates monotonic progress; a regression must
	// not fire anything.
	old := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 100, Result: "17:02"})
	updated := snapshot(upstream.RunnerRecord{Name: "A", Status: upstream.StatusOK, Progress: 80})

	if events := Changes(old, updated); len(events) != 0 {
		t.Errorf("expected no events on progress regression, got %+v", events)
	}
}
