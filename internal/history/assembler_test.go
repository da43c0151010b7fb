package history

import (
	"testing"

	"lethe/internal/model"
)

func makeEvents(times ...float64) []model.Event {
	events := make([]model.Event, len(times))
	for i, tm := range times {
		events[i] = model.Event{Series: "s1", Time: tm, Values: []float64{float64(i + 1)}}
	}
	return events
}

func TestWindowCausality(t *testing.T) {
	// A future event must never enter the window.
	events := makeEvents(0, 1, 5)
	a := NewAssembler(Config{}, events)

	w := a.Window(0, model.Response{Series: "s1", Time: 2})
	if len(w.Lags) != 2 {
		t.Fatalf("window size = %d, want 2", len(w.Lags))
	}
	for _, lag := range w.Lags {
		if lag < 0 {
			t.Fatalf("negative lag %v leaked into window", lag)
		}
	}
}

func TestWindowSimultaneousEventIncluded(t *testing.T) {
	events := makeEvents(2)
	a := NewAssembler(Config{}, events)
	w := a.Window(0, model.Response{Series: "s1", Time: 2})
	if len(w.Lags) != 1 || w.Lags[0] != 0 {
		t.Fatalf("expected single zero-lag event, got %v", w.Lags)
	}
}

func TestWindowAscendingLagOrder(t *testing.T) {
	events := makeEvents(0, 1, 2, 3)
	a := NewAssembler(Config{}, events)
	w := a.Window(0, model.Response{Series: "s1", Time: 4})
	for j := 1; j < len(w.Lags); j++ {
		if w.Lags[j] < w.Lags[j-1] {
			t.Fatalf("lags out of order: %v", w.Lags)
		}
	}
	if w.Lags[0] != 1 || w.Lags[len(w.Lags)-1] != 4 {
		t.Fatalf("unexpected lags: %v", w.Lags)
	}
}

func TestWindowHorizonTruncation(t *testing.T) {
	events := makeEvents(0, 5, 9)
	a := NewAssembler(Config{Horizon: 3}, events)
	w := a.Window(0, model.Response{Series: "s1", Time: 10})
	if len(w.Lags) != 2 {
		t.Fatalf("window size = %d, want 2 (event at t=0 beyond horizon)", len(w.Lags))
	}
	for _, lag := range w.Lags {
		if lag > 3 {
			t.Fatalf("lag %v beyond horizon", lag)
		}
	}
}

func TestWindowMaxEventsKeepsMostRecent(t *testing.T) {
	events := makeEvents(0, 1, 2, 3, 4)
	a := NewAssembler(Config{MaxEvents: 2}, events)
	w := a.Window(0, model.Response{Series: "s1", Time: 5})
	if len(w.Lags) != 2 {
		t.Fatalf("window size = %d, want 2", len(w.Lags))
	}
	// Most recent events are t=4 and t=3: lags 1 and 2.
	if w.Lags[0] != 1 || w.Lags[1] != 2 {
		t.Fatalf("unexpected retained lags: %v", w.Lags)
	}
}

func TestWindowEmptyHistory(t *testing.T) {
	events := makeEvents(5)
	a := NewAssembler(Config{}, events)
	w := a.Window(0, model.Response{Series: "s1", Time: 2})
	if len(w.Lags) != 0 {
		t.Fatalf("expected empty window, got %v", w.Lags)
	}

	w = a.Window(1, model.Response{Series: "unknown", Time: 2})
	if len(w.Lags) != 0 {
		t.Fatalf("expected empty window for unknown series, got %v", w.Lags)
	}
}

func TestBatchPaddingAndMask(t *testing.T) {
	events := makeEvents(0, 1, 2)
	a := NewAssembler(Config{}, events)
	responses := []model.Response{
		{Series: "s1", Time: 3},
		{Series: "s1", Time: 0.5},
	}
	b := a.Batch(responses, []int{0, 1})
	if b.Width != 3 {
		t.Fatalf("batch width = %d, want 3", b.Width)
	}
	if len(b.Mask[1]) != 3 {
		t.Fatalf("mask not padded: %v", b.Mask[1])
	}
	if !b.Mask[1][0] || b.Mask[1][1] || b.Mask[1][2] {
		t.Fatalf("unexpected mask for short window: %v", b.Mask[1])
	}
	if b.Mask[0][2] != true {
		t.Fatalf("full window mask truncated: %v", b.Mask[0])
	}
}

func TestAssemblerCacheReturnsSameWindow(t *testing.T) {
	events := makeEvents(0, 1, 2)
	a := NewAssembler(Config{CacheSize: 4}, events)
	r := model.Response{Series: "s1", Time: 3}

	first := a.Window(7, r)
	second := a.Window(7, r)
	if len(first.Lags) != len(second.Lags) {
		t.Fatal("cached window differs")
	}
	if a.cache.len() != 1 {
		t.Fatalf("cache holds %d entries, want 1", a.cache.len())
	}
}
