package push

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/avikstrom/finishline/internal/diff"
)

// BuildDelivery renders a notable event into the notification payload sent
// to one token. The data map carries what the client needs to deep-link
// back to the competition/class/runner.
func BuildDelivery(token string, ev diff.Event) Delivery {
	title, body := formatEvent(ev)

	data := map[string]string{
		"type":   ev.Kind.String(),
		"comp":   strconv.Itoa(ev.CompetitionID),
		"class":  ev.ClassName,
		"runner": ev.Runner,
	}
	if ev.Kind == diff.KindSplitArrived {
		data["control"] = strconv.Itoa(ev.ControlCode)
	}

	return Delivery{Token: token, Title: title, Body: body, Data: data}
}

func formatEvent(ev diff.Event) (title, body string) {
	switch ev.Kind {
	case diff.KindSplitArrived:
		control := ev.ControlName
		if control == "" {
			control = fmt.Sprintf("control %d", ev.ControlCode)
		}
		title = fmt.Sprintf("%s passed %s", ev.Runner, control)
		body = formatCentiseconds(ev.Split.Time)
		switch {
		case ev.Leading():
			body += " · leading"
		case ev.Split.HasTimePlus:
			body += " · +" + formatCentiseconds(ev.Split.TimePlus)
		}
		if ev.Split.HasPlace {
			body += fmt.Sprintf(" (place %d)", ev.Split.Place)
		}

	case diff.KindFinished:
		title = fmt.Sprintf("%s finished", ev.Runner)
		body = ev.Result
		if ev.Place != "" {
			body += " · place " + ev.Place
		}
		if ev.TimePlus != "" {
			body += " · +" + strings.TrimPrefix(ev.TimePlus, "+")
		}

	case diff.KindStatusProblem:
		text, known := ev.Status.Text()
		if !known {
			text = fmt.Sprintf("status %d", int(ev.Status))
		}
		title = fmt.Sprintf("%s: %s", ev.Runner, text)
		body = ev.ClassName
	}
	return title, body
}

// formatCentiseconds renders a centisecond duration as m:ss or h:mm:ss.
func formatCentiseconds(cs int64) string {
	if cs < 0 {
		cs = 0
	}
	total := cs / 100
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
