// Package history turns irregular event streams into causal, padded,
// masked history batches. Only events at or before a response's timestamp
// ever enter its window; no future leakage is possible past this layer.
package history

import (
	"sort"

	"lethe/internal/model"
)

// Config bounds the lookback of assembled windows.
type Config struct {
	// Horizon is the maximum lag in time units; events further back are
	// dropped. Zero means unbounded.
	Horizon float64
	// MaxEvents caps a window at the most recent K events. Zero means
	// unbounded.
	MaxEvents int
	// CacheSize bounds the window cache in entries. Zero disables caching;
	// every window is recomputed on demand.
	CacheSize int
}

// Window is the causal history for one response. Lags are sorted ascending
// (most recent event first) so summation order is deterministic; Values is
// one row per event, aligned with the spec's predictor order.
type Window struct {
	Lags   []float64
	Values [][]float64
}

// Batch is the padded, masked view over many windows of unequal length. The
// mask is the single source of truth for which padded slots are inert.
type Batch struct {
	Responses []model.Response
	Indices   []int
	Lags      [][]float64
	Values    [][][]float64
	Mask      [][]bool
	Width     int
}

// Len is the number of responses in the batch.
func (b *Batch) Len() int { return len(b.Responses) }

// Assembler builds windows per response from a fixed event table. It keeps
// a bounded LRU cache keyed by response identity so repeated epochs trade
// memory for recomputation.
type Assembler struct {
	cfg    Config
	series map[string][]model.Event
	cache  *lruCache
}

func NewAssembler(cfg Config, events []model.Event) *Assembler {
	series := make(map[string][]model.Event)
	for _, e := range events {
		series[e.Series] = append(series[e.Series], e)
	}
	for id := range series {
		evs := series[id]
		sort.SliceStable(evs, func(i, j int) bool { return evs[i].Time < evs[j].Time })
	}
	a := &Assembler{cfg: cfg, series: series}
	if cfg.CacheSize > 0 {
		a.cache = newLRUCache(cfg.CacheSize)
	}
	return a
}

// HasSeries reports whether any events exist for the given series.
func (a *Assembler) HasSeries(id string) bool {
	return len(a.series[id]) > 0
}

// Window returns the causal history for one response. The index keys the
// cache; callers must use a stable index per response across epochs.
func (a *Assembler) Window(index int, r model.Response) Window {
	if a.cache != nil {
		if w, ok := a.cache.get(index); ok {
			return w
		}
	}
	w := a.assemble(r)
	if a.cache != nil {
		a.cache.put(index, w)
	}
	return w
}

func (a *Assembler) assemble(r model.Response) Window {
	evs := a.series[r.Series]
	// First event strictly after the response: everything before it is
	// causally valid (lag >= 0).
	hi := sort.Search(len(evs), func(i int) bool { return evs[i].Time > r.Time })
	lo := 0
	if a.cfg.Horizon > 0 {
		earliest := r.Time - a.cfg.Horizon
		lo = sort.Search(hi, func(i int) bool { return evs[i].Time >= earliest })
	}
	if a.cfg.MaxEvents > 0 && hi-lo > a.cfg.MaxEvents {
		lo = hi - a.cfg.MaxEvents
	}
	n := hi - lo
	if n <= 0 {
		return Window{}
	}

	w := Window{
		Lags:   make([]float64, n),
		Values: make([][]float64, n),
	}
	// Most recent event first: ascending lag.
	for j := 0; j < n; j++ {
		e := evs[hi-1-j]
		w.Lags[j] = r.Time - e.Time
		w.Values[j] = e.Values
	}
	return w
}

// Batch assembles and pads the windows for a set of responses. Indices give
// each response's stable position in the source table; they key both the
// cache and downstream prediction rows.
func (a *Assembler) Batch(responses []model.Response, indices []int) Batch {
	b := Batch{
		Responses: responses,
		Indices:   indices,
		Lags:      make([][]float64, len(responses)),
		Values:    make([][][]float64, len(responses)),
		Mask:      make([][]bool, len(responses)),
	}
	windows := make([]Window, len(responses))
	for i, r := range responses {
		windows[i] = a.Window(indices[i], r)
		if len(windows[i].Lags) > b.Width {
			b.Width = len(windows[i].Lags)
		}
	}
	for i, w := range windows {
		lags := make([]float64, b.Width)
		values := make([][]float64, b.Width)
		mask := make([]bool, b.Width)
		copy(lags, w.Lags)
		copy(values, w.Values)
		for j := range w.Lags {
			mask[j] = true
		}
		b.Lags[i] = lags
		b.Values[i] = values
		b.Mask[i] = mask
	}
	return b
}
