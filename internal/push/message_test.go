package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/avikstrom/finishline/internal/diff"
	"github.com/avikstrom/finishline/internal/upstream"
)

func TestBuildDelivery_Finish(t *testing.T) {
	d := BuildDelivery("tok", diff.Event{
		Kind:          diff.KindFinished,
		CompetitionID: 10278,
		ClassName:     "H21",
		Runner:        "Anton Mörkfors",
		Result:        "17:02",
		Place:         "1",
	})

	if d.Token != "tok" {
		t.Errorf("unexpected token: %s", d.Token)
	}
	if d.Title != "Anton Mörkfors finished" {
		t.Errorf("unexpected title: %q", d.Title)
	}
	if d.Body != "17:02 · place 1" {
		t.Errorf("unexpected body: %q", d.Body)
	}
	if d.Data["comp"] != "10278" || d.Data["class"] != "H21" || d.Data["runner"] != "Anton Mörkfors" {
		t.Errorf("unexpected deep-link data: %v", d.Data)
	}
}

func TestBuildDelivery_SplitWithDeficit(t *testing.T) {
	d := BuildDelivery("tok", diff.Event{
		Kind:        diff.KindSplitArrived,
		Runner:      "Anton Mörkfors",
		ControlCode: 1065,
		ControlName: "4,5 km",
		Split:       upstream.Split{Time: 26900, Place: 2, HasPlace: true, TimePlus: 1100, HasTimePlus: true},
	})

	if d.Title != "Anton Mörkfors passed 4,5 km" {
		t.Errorf("unexpected title: %q", d.Title)
	}
	if d.Body != "4:29 · +0:11 (place 2)" {
		t.Errorf("unexpected body: %q", d.Body)
	}
	if d.Data["control"] != "1065" {
		t.Errorf("expected control in data, got %v", d.Data)
	}
}

func TestBuildDelivery_SplitLeaderRenderedDistinctly(t *testing.T) {
	d := BuildDelivery("tok", diff.Event{
		Kind:        diff.KindSplitArrived,
		Runner:      "A",
		ControlCode: 1065,
		ControlName: "4,5 km",
		Split:       upstream.Split{Time: 26900, Place: 1, HasPlace: true, TimePlus: 0, HasTimePlus: true},
	})

	if !strings.Contains(d.Body, "leading") {
		t.Errorf("zero time-behind must render as leading, got %q", d.Body)
	}
	if strings.Contains(d.Body, "+0:00") {
		t.Errorf("leader must not render a zero deficit, got %q", d.Body)
	}
}

func TestBuildDelivery_StatusProblem(t *testing.T) {
	d := BuildDelivery("tok", diff.Event{
		Kind:      diff.KindStatusProblem,
		ClassName: "H21",
		Runner:    "A",
		Status:    upstream.StatusDisqualified,
	})
	if d.Title != "A: Disqualified" {
		t.Errorf("unexpected title: %q", d.Title)
	}
}

func TestBuildDelivery_UnknownStatusFlagged(t *testing.T) {
	d := BuildDelivery("tok", diff.Event{
		Kind:   diff.KindStatusProblem,
		Runner: "A",
		Status: upstream.Status(42),
	})
	if !strings.Contains(d.Title, "status 42") {
		t.Errorf("unknown code must surface numerically, got %q", d.Title)
	}
}

func TestFormatCentiseconds(t *testing.T) {
	cases := map[int64]string{
		26900:  "4:29",
		0:      "0:00",
		6000:   "1:00",
		372100: "1:02:01",
	}
	for cs, want := range cases {
		if got := formatCentiseconds(cs); got != want {
			t.Errorf("formatCentiseconds(%d) = %q, want %q", cs, got, want)
		}
	}
}

func TestGatewayClient_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewGatewayClient(server.URL, "key", 5*time.Second, logger)

	if err := client.Send(context.Background(), Delivery{Token: "t", Title: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGatewayClient_InvalidToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewGatewayClient(server.URL, "", 5*time.Second, logger)

	err := client.Send(context.Background(), Delivery{Token: "dead"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "invalid or expired") {
		t.Errorf("expected invalid-token error, got %v", err)
	}
}
