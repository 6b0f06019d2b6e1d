// Package diff computes notable events between two snapshots of a class
// result list. It performs no I/O and holds no state.
package diff

import (
	"github.com/avikstrom/finishline/internal/upstream"
)

// Kind discriminates the notable event variants.
type Kind int

const (
	// KindSplitArrived fires when a radio-control split transitions from
	// absent to present for a runner.
	KindSplitArrived Kind = iota
	// KindFinished fires when a runner crosses the finish with status OK.
	KindFinished
	// KindStatusProblem fires when a runner's status becomes a non-OK
	// outcome, either at the finish or mid-race.
	KindStatusProblem
)

func (k Kind) String() string {
	switch k {
	case KindSplitArrived:
		return "split"
	case KindFinished:
		return "finish"
	case KindStatusProblem:
		return "status"
	default:
		return "unknown"
	}
}

// Event is one diff-derived fact worth notifying about. Which fields are
// populated depends on Kind.
type Event struct {
	Kind          Kind
	CompetitionID int
	ClassName     string
	Runner        string

	// KindSplitArrived
	ControlCode int
	ControlName string
	Split       upstream.Split

	// KindFinished
	Result   string
	Place    string
	TimePlus string

	// KindStatusProblem
	Status upstream.Status
}

// Leading reports whether a split event's runner leads at that control.
// A time-behind of exactly zero is the leader, which is distinct from an
// absent time-behind.
func (e Event) Leading() bool {
	return e.Kind == KindSplitArrived && e.Split.HasTimePlus && e.Split.TimePlus == 0
}

// Changes diffs two snapshots of the same class and returns the notable
// events, in the iteration order of the new snapshot's runner list. Runners
// absent from the old snapshot establish a baseline only and never produce
// events, so the first observation of a class stays silent. Split events for
// one runner follow the new snapshot's split-control metadata order.
func Changes(oldSnapshot, newSnapshot *upstream.ClassSnapshot) []Event {
	if oldSnapshot == nil || newSnapshot == nil || len(oldSnapshot.Runners) == 0 {
		return nil
	}

	oldByName := make(map[string]upstream.RunnerRecord, len(oldSnapshot.Runners))
	for _, r := range oldSnapshot.Runners {
		oldByName[r.Name] = r
	}

	var events []Event
	for _, runner := range newSnapshot.Runners {
		prev, seen := oldByName[runner.Name]
		if !seen {
			continue
		}

		events = append(events, splitEvents(newSnapshot, prev, runner)...)

		finishedNow := prev.Progress < 100 && runner.Progress >= 100
		switch {
		case finishedNow && runner.Status == upstream.StatusOK:
			events = append(events, Event{
				Kind:          KindFinished,
				CompetitionID: newSnapshot.CompetitionID,
				ClassName:     newSnapshot.ClassName,
				Runner:        runner.Name,
				Result:        runner.Result,
				Place:         runner.Place,
				TimePlus:      runner.TimePlus,
			})
		case finishedNow && runner.Status.Problem():
			events = append(events, statusEvent(newSnapshot, runner))
		case !finishedNow && runner.Status != prev.Status && runner.Status.Problem():
			events = append(events, statusEvent(newSnapshot, runner))
		}
	}
	return events
}

func splitEvents(snapshot *upstream.ClassSnapshot, prev, runner upstream.RunnerRecord) []Event {
	if len(runner.Splits) == 0 {
		return nil
	}

	var events []Event
	for _, control := range snapshot.SplitControls {
		split, present := runner.Splits[control.Code]
		if !present {
			continue
		}
		if _, had := prev.Splits[control.Code]; had {
			continue
		}
		events = append(events, Event{
			Kind:          KindSplitArrived,
			CompetitionID: snapshot.CompetitionID,
			ClassName:     snapshot.ClassName,
			Runner:        runner.Name,
			ControlCode:   control.Code,
			ControlName:   control.Name,
			Split:         split,
		})
	}
	return events
}

func statusEvent(snapshot *upstream.ClassSnapshot, runner upstream.RunnerRecord) Event {
	return Event{
		Kind:          KindStatusProblem,
		CompetitionID: snapshot.CompetitionID,
		ClassName:     snapshot.ClassName,
		Runner:        runner.Name,
		Status:        runner.Status,
	}
}
