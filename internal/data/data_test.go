package data

import (
	"errors"
	"math"
	"strings"
	"testing"

	"lethe/internal/model"
)

func twoPredictorSpec() model.Spec {
	return model.Spec{
		Predictors: []model.PredictorSpec{
			{Name: "x", Family: "exp"},
			{Name: "y", Family: "exp"},
		},
		GroupingFactors: []string{"subject"},
	}
}

func TestReadEventsSortsBySeriesThenTime(t *testing.T) {
	csv := strings.Join([]string{
		"series,time,x,y",
		"b,1.0,0.5,2.0",
		"a,3.0,1.5,0.0",
		"a,1.0,2.5,1.0",
		"",
		"b,0.5,3.5,4.0",
	}, "\n")

	events, err := ReadEvents(strings.NewReader(csv), twoPredictorSpec())
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	wantOrder := []struct {
		series string
		time   float64
	}{
		{"a", 1.0}, {"a", 3.0}, {"b", 0.5}, {"b", 1.0},
	}
	for i, w := range wantOrder {
		if events[i].Series != w.series || events[i].Time != w.time {
			t.Fatalf("event %d = %s@%v, want %s@%v", i, events[i].Series, events[i].Time, w.series, w.time)
		}
	}
	if events[0].Values[0] != 2.5 || events[0].Values[1] != 1.0 {
		t.Fatalf("event 0 values = %v", events[0].Values)
	}
}

func TestReadEventsRatePredictor(t *testing.T) {
	spec := model.Spec{
		Predictors: []model.PredictorSpec{
			{Name: "x", Family: "exp"},
			{Name: RatePredictor, Family: "exp"},
		},
	}
	csv := "series,time,x\ns,1.0,0.7\ns,2.0,0.3\n"

	events, err := ReadEvents(strings.NewReader(csv), spec)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	for i, e := range events {
		if e.Values[1] != 1 {
			t.Fatalf("event %d rate value = %v, want 1", i, e.Values[1])
		}
	}
}

func TestReadEventsMissingColumn(t *testing.T) {
	csv := "series,time,x\ns,1.0,0.7\n"
	_, err := ReadEvents(strings.NewReader(csv), twoPredictorSpec())
	if !errors.Is(err, ErrColumnMissing) {
		t.Fatalf("ReadEvents = %v, want ErrColumnMissing", err)
	}
}

func TestReadEventsBadCell(t *testing.T) {
	csv := "series,time,x,y\ns,1.0,not-a-number,2\n"
	_, err := ReadEvents(strings.NewReader(csv), twoPredictorSpec())
	if !errors.Is(err, ErrBadValue) {
		t.Fatalf("ReadEvents = %v, want ErrBadValue", err)
	}
}

func TestReadResponses(t *testing.T) {
	csv := strings.Join([]string{
		"series,time,value,subject",
		"s,2.0,1.25,s01",
		"s,1.0,0.75,s02",
	}, "\n")

	responses, err := ReadResponses(strings.NewReader(csv), twoPredictorSpec())
	if err != nil {
		t.Fatalf("ReadResponses: %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(responses))
	}
	if responses[0].Time != 1.0 || responses[0].Value != 0.75 {
		t.Fatalf("responses not sorted by time: %+v", responses[0])
	}
	if len(responses[0].Groups) != 1 || responses[0].Groups[0] != "s02" {
		t.Fatalf("response 0 groups = %v", responses[0].Groups)
	}
}

func TestReadResponsesMissingFactorColumn(t *testing.T) {
	csv := "series,time,value\ns,1.0,0.75\n"
	_, err := ReadResponses(strings.NewReader(csv), twoPredictorSpec())
	if !errors.Is(err, ErrColumnMissing) {
		t.Fatalf("ReadResponses = %v, want ErrColumnMissing", err)
	}
}

func TestValidate(t *testing.T) {
	spec := twoPredictorSpec()
	events := []model.Event{
		{Series: "s", Time: 1, Values: []float64{0.5, 1.0}},
	}
	good := []model.Response{
		{Series: "s", Time: 2, Groups: []string{"s01"}, Value: 1.0},
	}
	if err := Validate(spec, events, good); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		name      string
		events    []model.Event
		responses []model.Response
		want      error
	}{
		{
			name:      "unknown series",
			events:    events,
			responses: []model.Response{{Series: "other", Time: 2, Groups: []string{"s01"}, Value: 1}},
			want:      ErrSeriesUnknown,
		},
		{
			name:      "group count mismatch",
			events:    events,
			responses: []model.Response{{Series: "s", Time: 2, Groups: nil, Value: 1}},
			want:      model.ErrInvalidSpec,
		},
		{
			name:      "event value count mismatch",
			events:    []model.Event{{Series: "s", Time: 1, Values: []float64{0.5}}},
			responses: nil,
			want:      model.ErrInvalidSpec,
		},
		{
			name:      "non-finite response",
			events:    events,
			responses: []model.Response{{Series: "s", Time: 2, Groups: []string{"s01"}, Value: math.NaN()}},
			want:      ErrBadValue,
		},
		{
			name:      "non-finite event value",
			events:    []model.Event{{Series: "s", Time: 1, Values: []float64{math.Inf(1), 0}}},
			responses: nil,
			want:      ErrBadValue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(spec, tt.events, tt.responses); !errors.Is(err, tt.want) {
				t.Fatalf("Validate = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWriteEventsRoundTrip(t *testing.T) {
	spec := model.Spec{
		Predictors: []model.PredictorSpec{
			{Name: RatePredictor, Family: "exp"},
			{Name: "x", Family: "exp"},
		},
	}
	events := []model.Event{
		{Series: "a", Time: 0.5, Values: []float64{1, 2.25}},
		{Series: "a", Time: 1.5, Values: []float64{1, -0.75}},
		{Series: "b", Time: 0.25, Values: []float64{1, 0.125}},
	}

	var buf strings.Builder
	if err := WriteEvents(&buf, spec, events); err != nil {
		t.Fatalf("WriteEvents: %v", err)
	}
	if strings.Contains(strings.SplitN(buf.String(), "\n", 2)[0], RatePredictor) {
		t.Fatalf("rate predictor should have no column: %q", buf.String())
	}

	got, err := ReadEvents(strings.NewReader(buf.String()), spec)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("got %d events, want %d", len(got), len(events))
	}
	for i, e := range events {
		if got[i].Series != e.Series || got[i].Time != e.Time {
			t.Fatalf("event %d = %s@%v, want %s@%v", i, got[i].Series, got[i].Time, e.Series, e.Time)
		}
		if got[i].Values[0] != 1 || got[i].Values[1] != e.Values[1] {
			t.Fatalf("event %d values = %v, want %v", i, got[i].Values, e.Values)
		}
	}
}

func TestWriteResponsesRoundTrip(t *testing.T) {
	spec := twoPredictorSpec()
	responses := []model.Response{
		{Series: "a", Time: 1, Groups: []string{"s1"}, Value: 0.5},
		{Series: "b", Time: 2, Groups: []string{"s2"}, Value: -1.25},
	}

	var buf strings.Builder
	if err := WriteResponses(&buf, spec, responses); err != nil {
		t.Fatalf("WriteResponses: %v", err)
	}
	got, err := ReadResponses(strings.NewReader(buf.String()), spec)
	if err != nil {
		t.Fatalf("ReadResponses: %v", err)
	}
	if len(got) != len(responses) {
		t.Fatalf("got %d responses, want %d", len(got), len(responses))
	}
	for i, r := range responses {
		if got[i].Value != r.Value || got[i].Groups[0] != r.Groups[0] {
			t.Fatalf("response %d = %+v, want %+v", i, got[i], r)
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	responses := make([]model.Response, 20)
	for i := range responses {
		responses[i] = model.Response{Series: "s", Time: float64(i)}
	}

	trainA, valA := Split(responses, 0.25, 5)
	trainB, valB := Split(responses, 0.25, 5)
	if len(valA) != 5 || len(trainA) != 15 {
		t.Fatalf("split sizes = %d/%d, want 15/5", len(trainA), len(valA))
	}
	for i := range valA {
		if valA[i].Time != valB[i].Time {
			t.Fatal("same seed produced different validation sets")
		}
	}
	for i := range trainA {
		if trainA[i].Time != trainB[i].Time {
			t.Fatal("same seed produced different training sets")
		}
	}

	seen := make(map[float64]bool)
	for _, r := range trainA {
		seen[r.Time] = true
	}
	for _, r := range valA {
		if seen[r.Time] {
			t.Fatalf("response %v in both splits", r.Time)
		}
	}
}

func TestSplitZeroFraction(t *testing.T) {
	responses := []model.Response{{Time: 1}, {Time: 2}}
	train, val := Split(responses, 0, 1)
	if len(train) != 2 || len(val) != 0 {
		t.Fatalf("split sizes = %d/%d, want 2/0", len(train), len(val))
	}
}
