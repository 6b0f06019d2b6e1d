package upstream

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Method names understood by the provider's api.php endpoint.
type Method string

const (
	MethodCompetitions Method = "getcompetitions"
	MethodClasses      Method = "getclasses"
	MethodClassResults Method = "getclassresults"
	MethodLastPassings Method = "getlastpassings"
)

// Status is the provider's numeric runner status code.
type Status int

const (
	StatusOK           Status = 0
	StatusDNS          Status = 1
	StatusDNF          Status = 2
	StatusMispunch     Status = 3
	StatusDisqualified Status = 4
	StatusOverTime     Status = 5
	StatusNotStarted   Status = 9
	StatusNotStarted2  Status = 10 // second provider variant of "not started yet"
	StatusWalkover     Status = 11
	StatusMovedUp      Status = 12
)

var statusText = map[Status]string{
	StatusOK:           "OK",
	StatusDNS:          "Did not start",
	StatusDNF:          "Did not finish",
	StatusMispunch:     "Mispunch",
	StatusDisqualified: "Disqualified",
	StatusOverTime:     "Over max time",
	StatusNotStarted:   "Not started yet",
	StatusNotStarted2:  "Not started yet",
	StatusWalkover:     "Walkover",
	StatusMovedUp:      "Moved up",
}

// Text returns the display text for a status code. The second return is
// false for codes outside the known enumeration, so protocol drift upstream
// surfaces instead of falling back to a generic label.
func (s Status) Text() (string, bool) {
	text, ok := statusText[s]
	return text, ok
}

// NotStartedYet reports whether the code is one of the provider's two
// "runner has not started" variants.
func (s Status) NotStartedYet() bool {
	return s == StatusNotStarted || s == StatusNotStarted2
}

// Problem reports whether the code describes a non-OK outcome worth
// notifying about. Not-started codes are excluded: they are the normal
// pre-race state, not a problem.
func (s Status) Problem() bool {
	return s != StatusOK && !s.NotStartedYet()
}

// Split is one radio-control passing for a runner. Time is in centiseconds.
// A TimePlus of exactly zero means the runner leads at that control, which
// is why presence is tracked separately from the value.
type Split struct {
	Time        int64
	Place       int
	TimePlus    int64
	HasPlace    bool
	HasTimePlus bool
}

// RunnerRecord is one runner's race state within a class at one poll
// instant. Name is the identity key within the class (exact string match,
// not globally unique).
type RunnerRecord struct {
	Name     string
	Club     string
	Place    string
	Result   string
	TimePlus string
	Status   Status
	Progress int
	Start    int64
	Splits   map[int]Split
}

// SplitControl is the metadata for one radio control on the course.
type SplitControl struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

// ClassSnapshot is the full result list for one (competition, class) pair
// at one poll instant, plus the provider's change hash for the payload.
type ClassSnapshot struct {
	CompetitionID int
	ClassName     string
	Hash          string
	SplitControls []SplitControl
	Runners       []RunnerRecord
	Raw           json.RawMessage
}

// Competition is one entry from the competitions listing.
type Competition struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Organizer string `json:"organizer"`
	Date      string `json:"date"`
	TimeDiff  int    `json:"timediff"`
}

// ClassList is the set of class names for a competition.
type ClassList struct {
	Classes []string
	Hash    string
	Raw     json.RawMessage
}

// Passing is one entry from the recent-passings feed.
type Passing struct {
	Time        string `json:"passtime"`
	Runner      string `json:"runnerName"`
	Class       string `json:"class"`
	Control     int    `json:"control"`
	ControlName string `json:"controlName"`
}

// PassingList is the recent-passings feed for a competition.
type PassingList struct {
	Passings []Passing
	Hash     string
	Raw      json.RawMessage
}

// Raw provider shapes. Free-text fields arrive with lenient typing (numbers
// or strings, empty strings for absent values), so the boundary decodes via
// json.RawMessage and normalizes here.

type rawRunner struct {
	Place    json.RawMessage            `json:"place"`
	Name     string                     `json:"name"`
	Club     string                     `json:"club"`
	Result   string                     `json:"result"`
	Status   int                        `json:"status"`
	TimePlus json.RawMessage            `json:"timeplus"`
	Progress int                        `json:"progress"`
	Start    json.RawMessage            `json:"start"`
	Splits   map[string]json.RawMessage `json:"splits"`
}

func (r rawRunner) normalize() RunnerRecord {
	start, _ := flexInt64(r.Start)
	return RunnerRecord{
		Name:     r.Name,
		Club:     r.Club,
		Place:    flexString(r.Place),
		Result:   r.Result,
		TimePlus: flexString(r.TimePlus),
		Status:   Status(r.Status),
		Progress: r.Progress,
		Start:    start,
		Splits:   parseSplits(r.Splits),
	}
}

// parseSplits folds the provider's flat split map (keys "1065",
// "1065_place", "1065_timeplus") into per-control Split values. Entries
// with an empty or non-numeric time are treated as absent.
func parseSplits(raw map[string]json.RawMessage) map[int]Split {
	if len(raw) == 0 {
		return nil
	}
	splits := make(map[int]Split)
	for key, value := range raw {
		base := key
		kind := ""
		if i := strings.LastIndexByte(key, '_'); i >= 0 {
			base, kind = key[:i], key[i+1:]
		}
		code, err := strconv.Atoi(base)
		if err != nil {
			continue
		}
		n, ok := flexInt64(value)
		if !ok {
			continue
		}
		s := splits[code]
		switch kind {
		case "":
			s.Time = n
		case "place":
			s.Place = int(n)
			s.HasPlace = true
		case "timeplus":
			s.TimePlus = n
			s.HasTimePlus = true
		default:
			continue
		}
		splits[code] = s
	}
	// Drop controls that only carried place/timeplus fragments without a
	// passing time.
	for code, s := range splits {
		if s.Time == 0 && !hasTimeKey(raw, code) {
			delete(splits, code)
		}
	}
	if len(splits) == 0 {
		return nil
	}
	return splits
}

func hasTimeKey(raw map[string]json.RawMessage, code int) bool {
	value, ok := raw[strconv.Itoa(code)]
	if !ok {
		return false
	}
	_, numeric := flexInt64(value)
	return numeric
}

// flexInt64 decodes a JSON value that may be a number or a numeric string.
// Empty strings and nulls report false.
func flexInt64(raw json.RawMessage) (int64, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// flexString decodes a JSON value that may be a string or a bare number.
func flexString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var out string
	if err := json.Unmarshal(raw, &out); err == nil {
		return out
	}
	return s
}
