// Package data loads and validates event and response tables. Inputs arrive
// as CSV; everything downstream works on the typed in-memory form, sorted by
// series then time.
package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"lethe/internal/model"
)

var (
	// ErrSeriesUnknown reports a response whose series has no event stream.
	ErrSeriesUnknown = errors.New("response series has no event stream")
	// ErrColumnMissing reports a CSV header lacking a required column.
	ErrColumnMissing = errors.New("required column missing")
	// ErrBadValue reports an unparseable or non-finite cell.
	ErrBadValue = errors.New("bad cell value")
)

// RatePredictor is the reserved predictor name whose value is a constant 1
// for every event, turning the kernel into a pure event-density response. It
// never needs a CSV column.
const RatePredictor = "rate"

// ReadEvents parses an event table: series, time, then one column per
// predictor named in the spec (except the reserved rate predictor). Rows
// come back sorted by series then time.
func ReadEvents(in io.Reader, spec model.Spec) ([]model.Event, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read events header: %w", err)
	}
	cols := headerIndex(header)

	seriesCol, ok := cols["series"]
	if !ok {
		return nil, fmt.Errorf("%w: series", ErrColumnMissing)
	}
	timeCol, ok := cols["time"]
	if !ok {
		return nil, fmt.Errorf("%w: time", ErrColumnMissing)
	}
	predCols := make([]int, len(spec.Predictors))
	for i, p := range spec.Predictors {
		if p.Name == RatePredictor {
			predCols[i] = -1
			continue
		}
		col, ok := cols[strings.ToLower(p.Name)]
		if !ok {
			return nil, fmt.Errorf("%w: predictor %s", ErrColumnMissing, p.Name)
		}
		predCols[i] = col
	}

	events := make([]model.Event, 0, 1024)
	rowIndex := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read events row %d: %w", rowIndex, err)
		}
		if blankRecord(record) {
			continue
		}

		t, err := parseCell(record, timeCol, rowIndex, "time")
		if err != nil {
			return nil, err
		}
		values := make([]float64, len(predCols))
		for i, col := range predCols {
			if col < 0 {
				values[i] = 1
				continue
			}
			v, err := parseCell(record, col, rowIndex, spec.Predictors[i].Name)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		events = append(events, model.Event{
			Series: strings.TrimSpace(record[seriesCol]),
			Time:   t,
			Values: values,
		})
		rowIndex++
	}

	sortByTSeries(events, func(e model.Event) (string, float64) { return e.Series, e.Time })
	return events, nil
}

// ReadResponses parses a response table: series, time, value, then one
// column per grouping factor named in the spec. Rows come back sorted by
// series then time.
func ReadResponses(in io.Reader, spec model.Spec) ([]model.Response, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read responses header: %w", err)
	}
	cols := headerIndex(header)

	seriesCol, ok := cols["series"]
	if !ok {
		return nil, fmt.Errorf("%w: series", ErrColumnMissing)
	}
	timeCol, ok := cols["time"]
	if !ok {
		return nil, fmt.Errorf("%w: time", ErrColumnMissing)
	}
	valueCol, ok := cols["value"]
	if !ok {
		return nil, fmt.Errorf("%w: value", ErrColumnMissing)
	}
	factorCols := make([]int, len(spec.GroupingFactors))
	for i, f := range spec.GroupingFactors {
		col, ok := cols[strings.ToLower(f)]
		if !ok {
			return nil, fmt.Errorf("%w: grouping factor %s", ErrColumnMissing, f)
		}
		factorCols[i] = col
	}

	responses := make([]model.Response, 0, 1024)
	rowIndex := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read responses row %d: %w", rowIndex, err)
		}
		if blankRecord(record) {
			continue
		}

		t, err := parseCell(record, timeCol, rowIndex, "time")
		if err != nil {
			return nil, err
		}
		v, err := parseCell(record, valueCol, rowIndex, "value")
		if err != nil {
			return nil, err
		}
		groups := make([]string, len(factorCols))
		for i, col := range factorCols {
			if col < len(record) {
				groups[i] = strings.TrimSpace(record[col])
			}
		}
		responses = append(responses, model.Response{
			Series: strings.TrimSpace(record[seriesCol]),
			Time:   t,
			Groups: groups,
			Value:  v,
		})
		rowIndex++
	}

	sortByTSeries(responses, func(r model.Response) (string, float64) { return r.Series, r.Time })
	return responses, nil
}

// ReadEventsFile and ReadResponsesFile are the path-based conveniences the
// CLI uses.
func ReadEventsFile(path string, spec model.Spec) ([]model.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadEvents(f, spec)
}

func ReadResponsesFile(path string, spec model.Spec) ([]model.Response, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadResponses(f, spec)
}

// WriteEvents emits an event table in the layout ReadEvents expects. The
// reserved rate predictor gets no column.
func WriteEvents(out io.Writer, spec model.Spec, events []model.Event) error {
	writer := csv.NewWriter(out)

	header := []string{"series", "time"}
	written := make([]int, 0, len(spec.Predictors))
	for i, p := range spec.Predictors {
		if p.Name == RatePredictor {
			continue
		}
		header = append(header, p.Name)
		written = append(written, i)
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	record := make([]string, 0, len(header))
	for _, e := range events {
		record = record[:0]
		record = append(record, e.Series, formatCell(e.Time))
		for _, i := range written {
			record = append(record, formatCell(e.Values[i]))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteResponses emits a response table in the layout ReadResponses expects.
func WriteResponses(out io.Writer, spec model.Spec, responses []model.Response) error {
	writer := csv.NewWriter(out)

	header := append([]string{"series", "time", "value"}, spec.GroupingFactors...)
	if err := writer.Write(header); err != nil {
		return err
	}

	record := make([]string, 0, len(header))
	for _, r := range responses {
		record = record[:0]
		record = append(record, r.Series, formatCell(r.Time), formatCell(r.Value))
		record = append(record, r.Groups...)
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func WriteEventsFile(path string, spec model.Spec, events []model.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteEvents(f, spec, events); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func WriteResponsesFile(path string, spec model.Spec, responses []model.Response) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteResponses(f, spec, responses); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Validate performs the eager alignment checks between a spec, its event
// streams, and its responses. Nothing is discovered lazily mid-fit: a
// misconfiguration surfaces here or not at all.
func Validate(spec model.Spec, events []model.Event, responses []model.Response) error {
	if err := model.ValidateSpec(spec); err != nil {
		return err
	}

	series := make(map[string]struct{})
	for i, e := range events {
		if e.Series == "" {
			return fmt.Errorf("%w: event %d has empty series", model.ErrInvalidSpec, i)
		}
		if len(e.Values) != len(spec.Predictors) {
			return fmt.Errorf("%w: event %d has %d values, spec has %d predictors",
				model.ErrInvalidSpec, i, len(e.Values), len(spec.Predictors))
		}
		if math.IsNaN(e.Time) || math.IsInf(e.Time, 0) {
			return fmt.Errorf("%w: event %d time", ErrBadValue, i)
		}
		for j, v := range e.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: event %d predictor %s", ErrBadValue, i, spec.Predictors[j].Name)
			}
		}
		series[e.Series] = struct{}{}
	}

	for i, r := range responses {
		if _, ok := series[r.Series]; !ok {
			return fmt.Errorf("%w: response %d series %q", ErrSeriesUnknown, i, r.Series)
		}
		if len(r.Groups) != len(spec.GroupingFactors) {
			return fmt.Errorf("%w: response %d has %d group labels, spec has %d factors",
				model.ErrInvalidSpec, i, len(r.Groups), len(spec.GroupingFactors))
		}
		if math.IsNaN(r.Time) || math.IsInf(r.Time, 0) {
			return fmt.Errorf("%w: response %d time", ErrBadValue, i)
		}
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			return fmt.Errorf("%w: response %d value", ErrBadValue, i)
		}
	}
	return nil
}

func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return cols
}

func parseCell(record []string, col, row int, name string) (float64, error) {
	if col >= len(record) {
		return 0, fmt.Errorf("%w: row %d has no %s column", ErrBadValue, row, name)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: row %d column %s: %v", ErrBadValue, row, name, err)
	}
	return v, nil
}

func formatCell(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func blankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func sortByTSeries[T any](items []T, key func(T) (string, float64)) {
	sort.SliceStable(items, func(i, j int) bool {
		si, ti := key(items[i])
		sj, tj := key(items[j])
		if si != sj {
			return si < sj
		}
		return ti < tj
	})
}
