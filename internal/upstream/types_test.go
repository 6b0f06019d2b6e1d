package upstream

import (
	"encoding/json"
	"testing"
)

func TestStatusText_KnownCodes(t *testing.T) {
	cases := map[Status]string{
		StatusOK:           "OK",
		StatusDNS:          "Did not start",
		StatusDisqualified: "Disqualified",
		StatusNotStarted:   "Not started yet",
		StatusNotStarted2:  "Not started yet",
		StatusMovedUp:      "Moved up",
	}
	for status, want := range cases {
		got, ok := status.Text()
		if !ok {
			t.Errorf("status %d: expected known code", status)
		}
		if got != want {
			t.Errorf("status %d: expected %q, got %q", status, want, got)
		}
	}
}

func TestStatusText_UnknownCodeFlagged(t *testing.T) {
	if _, ok := Status(42).Text(); ok {
		t.Error("expected unknown status code to be flagged")
	}
}

func TestStatusProblem(t *testing.T) {
	problems := []Status{StatusDNS, StatusDNF, StatusMispunch, StatusDisqualified, StatusOverTime, StatusWalkover, StatusMovedUp}
	for _, s := range problems {
		if !s.Problem() {
			t.Errorf("status %d: expected problem", s)
		}
	}
	for _, s := range []Status{StatusOK, StatusNotStarted, StatusNotStarted2} {
		if s.Problem() {
			t.Errorf("status %d: expected not a problem", s)
		}
	}
}

func TestParseSplits(t *testing.T) {
	raw := map[string]json.RawMessage{
		"1065":          json.RawMessage(`26900`),
		"1065_place":    json.RawMessage(`2`),
		"1065_timeplus": json.RawMessage(`1100`),
		"1070":          json.RawMessage(`""`),
		"1080":          json.RawMessage(`41000`),
		"1080_timeplus": json.RawMessage(`0`),
	}

	splits := parseSplits(raw)

	s, ok := splits[1065]
	if !ok {
		t.Fatal("expected split for 1065")
	}
	if s.Time != 26900 || s.Place != 2 || s.TimePlus != 1100 || !s.HasPlace || !s.HasTimePlus {
		t.Errorf("unexpected split 1065: %+v", s)
	}

	if _, ok := splits[1070]; ok {
		t.Error("empty split value should be absent")
	}

	// A timeplus of zero marks the leader at the control and must survive
	// normalization as a present value.
	s, ok = splits[1080]
	if !ok {
		t.Fatal("expected split for 1080")
	}
	if !s.HasTimePlus || s.TimePlus != 0 {
		t.Errorf("expected present zero timeplus, got %+v", s)
	}
}

func TestRawRunnerNormalize_FlexibleTyping(t *testing.T) {
	// place as number, timeplus as string — both observed upstream.
	var r rawRunner
	if err := json.Unmarshal([]byte(`{"place":3,"name":"B","club":"C","result":"18:00","status":0,"timeplus":"+0:58","progress":100,"start":"41400000","splits":{}}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	record := r.normalize()
	if record.Place != "3" {
		t.Errorf("expected place \"3\", got %q", record.Place)
	}
	if record.TimePlus != "+0:58" {
		t.Errorf("expected timeplus +0:58, got %q", record.TimePlus)
	}
	if record.Start != 41400000 {
		t.Errorf("expected start 41400000, got %d", record.Start)
	}
}
