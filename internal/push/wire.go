package push

import (
	"fmt"

	"github.com/avikstrom/finishline/internal/diff"
)

// liveEvent is the JSON frame broadcast to live (websocket) consumers.
type liveEvent struct {
	Type          string `json:"type"`
	CompetitionID int    `json:"competitionId"`
	ClassName     string `json:"className"`
	Runner        string `json:"runner"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	ControlCode   int    `json:"controlCode,omitempty"`
}

func wireEvent(ev diff.Event) liveEvent {
	title, body := formatEvent(ev)
	return liveEvent{
		Type:          ev.Kind.String(),
		CompetitionID: ev.CompetitionID,
		ClassName:     ev.ClassName,
		Runner:        ev.Runner,
		Title:         title,
		Body:          body,
		ControlCode:   ev.ControlCode,
	}
}

// eventGroup names the hub group for an event's (competition, class) pair.
func eventGroup(ev diff.Event) string {
	return fmt.Sprintf("%d/%s", ev.CompetitionID, ev.ClassName)
}
