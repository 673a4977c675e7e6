// Package merge combines the ranked partial results of several shards into
// one globally ranked window.
//
// The merge runs over lightweight ranking entries with one cursor per shard.
// Each cursor knows the position it is at, so the payload for a selected
// entry is read from the same position of its shard's payload list. Equal
// keys across or within shards never make that lookup ambiguous.
package merge

import (
	"container/heap"
	"errors"
	"math"

	"turbo-tophits/internal/apperror"
	"turbo-tophits/internal/hits"
)

const opReduce = "reduce"

var (
	ErrNoPartials       = errors.New("no partial results to reduce")
	ErrInvalidWindow    = errors.New("from and size must be non-negative")
	ErrUnsorted         = errors.New("partial result entries are not sorted")
	ErrSortMismatch     = errors.New("partial result does not match the sort criteria")
	ErrMergeCorrelation = errors.New("merge correlation failure")
)

// Reduce merges partials into the window [from, from+size) of the global
// ranking. Partials are addressed by their index, which becomes the shard
// ordinal of every entry they contribute. With a nil or empty active sort the
// sort carried by the partials is used, falling back to score order.
func Reduce(partials []*hits.PartialResult, from, size int, active *hits.Sort) (*hits.MergedResult, error) {
	if len(partials) == 0 {
		return nil, apperror.Wrap(ErrNoPartials, apperror.KindValidation, opReduce, "nothing to merge")
	}
	for i, p := range partials {
		if p == nil {
			return nil, apperror.Wrap(ErrNoPartials, apperror.KindValidation, opReduce, "nil partial").With("shard", i)
		}
	}
	if from < 0 || size < 0 {
		return nil, apperror.Wrap(ErrInvalidWindow, apperror.KindValidation, opReduce, "invalid window").
			With("from", from).With("size", size)
	}

	if len(partials) == 1 && partials[0].Final {
		return passThrough(partials[0], from, size), nil
	}

	crit, err := selectCriterion(partials, active)
	if err != nil {
		return nil, err
	}
	if err := validate(partials, crit); err != nil {
		return nil, err
	}

	out := &hits.MergedResult{
		Name: partials[0].Name,
		From: from,
		Size: size,
		Sort: crit.sort(),
	}
	out.TotalMatched, out.MaxScore = aggregate(partials)

	h, err := mergeWindow(partials, crit, from, size)
	if err != nil {
		return nil, err
	}
	out.Hits = h
	return out, nil
}

func selectCriterion(partials []*hits.PartialResult, active *hits.Sort) (criterion, error) {
	chosen := active
	if chosen.IsScoreOnly() {
		chosen = nil
		for _, p := range partials {
			if !p.Sort.IsScoreOnly() {
				chosen = p.Sort
				break
			}
		}
	}
	for i, p := range partials {
		if !p.Sort.IsScoreOnly() && !p.Sort.Equal(chosen) {
			return criterion{}, apperror.Wrap(ErrSortMismatch, apperror.KindValidation, opReduce, "partials disagree on sort").
				With("shard", i)
		}
	}
	if chosen.IsScoreOnly() {
		return scoreCriterion(), nil
	}
	for i, f := range chosen.Fields {
		if !f.Type.Valid() {
			return criterion{}, apperror.Wrap(ErrSortMismatch, apperror.KindValidation, opReduce, "unknown sort type").
				With("field", i)
		}
	}
	return fieldCriterion(chosen), nil
}

// validate checks the input contract before anything is merged.
func validate(partials []*hits.PartialResult, crit criterion) error {
	for i, p := range partials {
		if p.Final {
			return apperror.Wrap(ErrSortMismatch, apperror.KindValidation, opReduce,
				"an already reduced result cannot be merged with other partials").With("shard", i)
		}
		if len(p.Entries) != len(p.Payloads) {
			return apperror.Wrap(ErrSortMismatch, apperror.KindValidation, opReduce, "entries and payloads are not aligned").
				With("shard", i).With("entries", len(p.Entries)).With("payloads", len(p.Payloads))
		}
		for pos, e := range p.Entries {
			if crit.kind == byFields && len(e.SortKey) != len(crit.fields) {
				return apperror.Wrap(ErrSortMismatch, apperror.KindValidation, opReduce, "sort key arity").
					With("shard", i).With("position", pos)
			}
			if pos > 0 && crit.compare(p.Entries[pos-1], e) > 0 {
				return apperror.Wrap(ErrUnsorted, apperror.KindValidation, opReduce, "entries out of order").
					With("shard", i).With("position", pos)
			}
		}
	}
	return nil
}

// aggregate sums the match counts and takes the highest score of every
// partial that matched anything.
func aggregate(partials []*hits.PartialResult) (uint64, float64) {
	var total uint64
	maxScore := math.Inf(-1)
	for _, p := range partials {
		total += p.TotalMatched
		if p.Empty() && p.TotalMatched == 0 {
			continue
		}
		maxScore = max(maxScore, p.MaxScore)
	}
	if math.IsInf(maxScore, -1) {
		maxScore = 0
	}
	return total, maxScore
}

// mergeWindow pops ranks [0, from+size) from the shard cursors, keeps the
// last size of them and pairs each with the payload at the cursor position.
func mergeWindow(partials []*hits.PartialResult, crit criterion, from, size int) ([]hits.Hit, error) {
	need := from + size
	if need < from {
		need = math.MaxInt
	}

	t := newTournament(partials, crit)
	out := make([]hits.Hit, 0, min(size, t.candidates))
	for rank := 0; rank < need && t.Len() > 0; rank++ {
		c := t.next()
		if rank < from {
			continue
		}
		hit, err := correlate(partials, c)
		if err != nil {
			return nil, err
		}
		out = append(out, hit)
	}
	return out, nil
}

func correlate(partials []*hits.PartialResult, c cursor) (hits.Hit, error) {
	if c.shard < 0 || c.shard >= len(partials) {
		return hits.Hit{}, apperror.Wrap(ErrMergeCorrelation, apperror.KindCorrelation, opReduce, "unknown shard").
			With("shard", c.shard)
	}
	p := partials[c.shard]
	if c.pos < 0 || c.pos >= len(p.Entries) || c.pos >= len(p.Payloads) {
		return hits.Hit{}, apperror.Wrap(ErrMergeCorrelation, apperror.KindCorrelation, opReduce, "position out of range").
			With("shard", c.shard).With("position", c.pos)
	}
	entry := p.Entries[c.pos]
	entry.ShardIndex = c.shard
	return hits.Hit{Entry: entry, Payload: p.Payloads[c.pos]}, nil
}

// passThrough windows an already final result. Its payloads are in rank order,
// so the window is a slice of them.
func passThrough(p *hits.PartialResult, from, size int) *hits.MergedResult {
	lo := min(from, len(p.Payloads))
	hi := lo + min(size, len(p.Payloads)-lo)
	out := &hits.MergedResult{
		Name:         p.Name,
		From:         from,
		Size:         size,
		Hits:         make([]hits.Hit, 0, hi-lo),
		TotalMatched: p.TotalMatched,
		MaxScore:     p.MaxScore,
	}
	for i, pl := range p.Payloads[lo:hi] {
		out.Hits = append(out.Hits, hits.Hit{
			Entry:   hits.RankedEntry{DocRef: uint64(lo + i), Score: pl.Score, SortKey: pl.Sort},
			Payload: pl,
		})
	}
	return out
}

// cursor walks one shard's entries.
type cursor struct {
	shard int
	pos   int
}

// tournament is a heap holding one cursor per non-empty shard.
type tournament struct {
	cursors    []cursor
	partials   []*hits.PartialResult
	crit       criterion
	candidates int
}

func newTournament(partials []*hits.PartialResult, crit criterion) *tournament {
	t := &tournament{
		cursors:  make([]cursor, 0, len(partials)),
		partials: partials,
		crit:     crit,
	}
	for i, p := range partials {
		t.candidates += len(p.Entries)
		if len(p.Entries) > 0 {
			t.cursors = append(t.cursors, cursor{shard: i})
		}
	}
	heap.Init(t)
	return t
}

func (t *tournament) entry(c cursor) hits.RankedEntry {
	return t.partials[c.shard].Entries[c.pos]
}

// next returns the best cursor and advances its shard.
func (t *tournament) next() cursor {
	top := t.cursors[0]
	if top.pos+1 < len(t.partials[top.shard].Entries) {
		t.cursors[0].pos++
		heap.Fix(t, 0)
	} else {
		heap.Pop(t)
	}
	return top
}

func (t *tournament) Len() int { return len(t.cursors) }

// Less breaks key ties by shard ordinal. Each shard has a single cursor, so
// within-shard order is kept by construction.
func (t *tournament) Less(i, j int) bool {
	a, b := t.cursors[i], t.cursors[j]
	if r := t.crit.compare(t.entry(a), t.entry(b)); r != 0 {
		return r < 0
	}
	return a.shard < b.shard
}

func (t *tournament) Swap(i, j int) { t.cursors[i], t.cursors[j] = t.cursors[j], t.cursors[i] }
func (t *tournament) Push(x any)    { t.cursors = append(t.cursors, x.(cursor)) }
func (t *tournament) Pop() any {
	old := t.cursors
	n := len(old)
	c := old[n-1]
	t.cursors = old[:n-1]
	return c
}
