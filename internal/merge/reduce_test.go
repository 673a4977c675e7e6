package merge

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turbo-tophits/internal/apperror"
	"turbo-tophits/internal/hits"
)

// marker identifies the payload stored at a position of a shard.
func marker(shard, pos int) string {
	return fmt.Sprintf("s%d-p%d", shard, pos)
}

func scorePartial(shard int, scores ...float64) *hits.PartialResult {
	entries := make([]hits.RankedEntry, len(scores))
	payloads := make([]hits.HitPayload, len(scores))
	maxScore := 0.0
	for i, s := range scores {
		entries[i] = hits.RankedEntry{DocRef: uint64(100*shard + i), Score: s}
		payloads[i] = hits.HitPayload{ID: marker(shard, i), Score: s}
		maxScore = max(maxScore, s)
	}
	return hits.NewPartialResult("top_hits", 0, 10, nil, entries, payloads, uint64(len(scores)), maxScore)
}

func fieldPartial(shard int, sort *hits.Sort, keys ...[]hits.SortValue) *hits.PartialResult {
	entries := make([]hits.RankedEntry, len(keys))
	payloads := make([]hits.HitPayload, len(keys))
	for i, k := range keys {
		entries[i] = hits.RankedEntry{DocRef: uint64(i), SortKey: k}
		payloads[i] = hits.HitPayload{ID: marker(shard, i), Sort: k}
	}
	return hits.NewPartialResult("top_hits", 0, 10, sort, entries, payloads, uint64(len(keys)), 0)
}

func scoresOf(m *hits.MergedResult) []float64 {
	out := make([]float64, len(m.Hits))
	for i, h := range m.Hits {
		out[i] = h.Entry.Score
	}
	return out
}

func idsOf(m *hits.MergedResult) []string {
	out := make([]string, len(m.Hits))
	for i, h := range m.Hits {
		out[i] = h.Payload.ID
	}
	return out
}

// assertCorrelated checks that every hit carries the payload stored next to
// its entry in the originating partial.
func assertCorrelated(t *testing.T, partials []*hits.PartialResult, m *hits.MergedResult) {
	t.Helper()
	for rank, h := range m.Hits {
		src := partials[h.Entry.ShardIndex]
		pos := slices.IndexFunc(src.Payloads, func(p hits.HitPayload) bool { return p.ID == h.Payload.ID })
		require.GreaterOrEqual(t, pos, 0, "rank %d payload %s not found in shard %d", rank, h.Payload.ID, h.Entry.ShardIndex)
		assert.Equal(t, src.Entries[pos].DocRef, h.Entry.DocRef, "rank %d", rank)
		assert.Equal(t, marker(h.Entry.ShardIndex, pos), h.Payload.ID, "rank %d", rank)
	}
}

func TestReduce_Example(t *testing.T) {
	a := scorePartial(0, 9, 7, 3)
	b := scorePartial(1, 8, 7, 1)

	m, err := Reduce([]*hits.PartialResult{a, b}, 0, 4, nil)
	require.NoError(t, err)

	assert.Equal(t, []float64{9, 8, 7, 7}, scoresOf(m))
	assert.Equal(t, []string{"s0-p0", "s1-p0", "s0-p1", "s1-p1"}, idsOf(m))
	assert.Equal(t, uint64(6), m.TotalMatched)
	assert.Equal(t, 9.0, m.MaxScore)
	assert.True(t, m.Sort.IsScoreOnly())
	assert.Equal(t, "top_hits", m.Name)
}

func TestReduce_Window(t *testing.T) {
	a := scorePartial(0, 10, 6, 2)
	b := scorePartial(1, 9, 5, 1)
	c := scorePartial(2, 8, 4, 0)
	partials := []*hits.PartialResult{a, b, c}

	all := []float64{10, 9, 8, 6, 5, 4, 2, 1, 0}
	for from := 0; from <= len(all)+1; from++ {
		for size := 0; size <= len(all)+1; size++ {
			m, err := Reduce(partials, from, size, nil)
			require.NoError(t, err)

			lo := min(from, len(all))
			hi := min(from+size, len(all))
			assert.Equal(t, all[lo:hi], scoresOf(m), "from=%d size=%d", from, size)
			assertCorrelated(t, partials, m)
		}
	}
}

func TestReduce_RandomAgainstFullSort(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		n := 1 + rng.Intn(5)
		partials := make([]*hits.PartialResult, n)
		type ref struct {
			score float64
			shard int
			pos   int
		}
		var union []ref
		for s := range n {
			scores := make([]float64, rng.Intn(8))
			for i := range scores {
				// few distinct values so ties are common
				scores[i] = float64(rng.Intn(4))
			}
			slices.SortFunc(scores, func(a, b float64) int { return int(b - a) })
			partials[s] = scorePartial(s, scores...)
			for i, sc := range scores {
				union = append(union, ref{sc, s, i})
			}
		}
		slices.SortStableFunc(union, func(a, b ref) int {
			if a.score != b.score {
				if a.score > b.score {
					return -1
				}
				return 1
			}
			if a.shard != b.shard {
				return a.shard - b.shard
			}
			return a.pos - b.pos
		})

		from, size := rng.Intn(6), rng.Intn(10)
		m, err := Reduce(partials, from, size, nil)
		require.NoError(t, err)

		lo := min(from, len(union))
		hi := min(from+size, len(union))
		want := make([]string, 0, hi-lo)
		for _, r := range union[lo:hi] {
			want = append(want, marker(r.shard, r.pos))
		}
		assert.Equal(t, want, idsOf(m), "round %d", round)
		assertCorrelated(t, partials, m)
	}
}

func TestReduce_DuplicateScoresKeepPayloads(t *testing.T) {
	// every entry shares the same score, within and across shards
	a := scorePartial(0, 5, 5, 5, 5)
	b := scorePartial(1, 5, 5, 5)
	c := scorePartial(2, 5, 5)
	partials := []*hits.PartialResult{a, b, c}

	m, err := Reduce(partials, 1, 7, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"s0-p1", "s0-p2", "s0-p3", "s1-p0", "s1-p1", "s1-p2", "s2-p0"}, idsOf(m))
	assertCorrelated(t, partials, m)
	for _, h := range m.Hits {
		assert.Equal(t, h.Payload.Score, h.Entry.Score)
	}
}

func TestReduce_Deterministic(t *testing.T) {
	build := func() []*hits.PartialResult {
		return []*hits.PartialResult{
			scorePartial(0, 3, 3, 1),
			scorePartial(1, 3, 2, 1),
			scorePartial(2, 3, 1, 1),
		}
	}
	first, err := Reduce(build(), 0, 9, nil)
	require.NoError(t, err)
	for range 10 {
		again, err := Reduce(build(), 0, 9, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []string{"s0-p0", "s0-p1", "s1-p0", "s2-p0", "s1-p1", "s0-p2", "s1-p2", "s2-p1", "s2-p2"}, idsOf(first))
}

func TestReduce_ShardOrdinalFollowsPosition(t *testing.T) {
	// the same two shards in the opposite order swap their tie-break priority
	x := scorePartial(0, 4)
	y := scorePartial(1, 4)
	y.Payloads[0].ID = "y"
	x.Payloads[0].ID = "x"

	m, err := Reduce([]*hits.PartialResult{x, y}, 0, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, idsOf(m))
	assert.Equal(t, []int{0, 1}, []int{m.Hits[0].Entry.ShardIndex, m.Hits[1].Entry.ShardIndex})

	m, err = Reduce([]*hits.PartialResult{y, x}, 0, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "x"}, idsOf(m))
}

func TestReduce_BoundarySizes(t *testing.T) {
	a := scorePartial(0, 9, 7, 3)
	b := scorePartial(1, 8, 7, 1)
	partials := []*hits.PartialResult{a, b}

	t.Run("zero window", func(t *testing.T) {
		m, err := Reduce(partials, 0, 0, nil)
		require.NoError(t, err)
		assert.Empty(t, m.Hits)
		assert.Equal(t, uint64(6), m.TotalMatched)
		assert.Equal(t, 9.0, m.MaxScore)
	})

	t.Run("from past end", func(t *testing.T) {
		m, err := Reduce(partials, 6, 5, nil)
		require.NoError(t, err)
		assert.Empty(t, m.Hits)
		assert.Equal(t, uint64(6), m.TotalMatched)
	})

	t.Run("size larger than candidates", func(t *testing.T) {
		m, err := Reduce(partials, 2, 100, nil)
		require.NoError(t, err)
		assert.Equal(t, []float64{7, 7, 3, 1}, scoresOf(m))
	})

	t.Run("huge window does not overflow", func(t *testing.T) {
		m, err := Reduce(partials, 1, int(^uint(0)>>1), nil)
		require.NoError(t, err)
		assert.Len(t, m.Hits, 5)
	})
}

func TestReduce_Aggregates(t *testing.T) {
	a := scorePartial(0, 2.5)
	empty := scorePartial(1)
	// matched documents but none returned, e.g. a size-0 request
	countOnly := hits.NewPartialResult("top_hits", 0, 0, nil, nil, nil, 40, 11)
	negative := scorePartial(3, -1)
	negative.MaxScore = -1

	m, err := Reduce([]*hits.PartialResult{a, empty, countOnly, negative}, 0, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), m.TotalMatched)
	assert.Equal(t, 11.0, m.MaxScore)

	m, err = Reduce([]*hits.PartialResult{scorePartial(0), scorePartial(1)}, 0, 10, nil)
	require.NoError(t, err)
	assert.Zero(t, m.TotalMatched)
	assert.Zero(t, m.MaxScore)
	assert.Empty(t, m.Hits)

	m, err = Reduce([]*hits.PartialResult{negative}, 0, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, -1.0, m.MaxScore)
}

func TestReduce_FieldSort(t *testing.T) {
	sort := hits.NewSort(
		hits.SortField{Field: "price", Type: hits.SortNumber},
		hits.SortField{Field: "title", Type: hits.SortString, Reverse: true},
	)
	a := fieldPartial(0, sort,
		[]hits.SortValue{hits.Float(1), hits.String("b")},
		[]hits.SortValue{hits.Float(3), hits.String("z")},
		[]hits.SortValue{hits.Null(), hits.String("a")},
	)
	b := fieldPartial(1, sort,
		[]hits.SortValue{hits.Int(1), hits.String("c")},
		[]hits.SortValue{hits.Float(3), hits.String("z")},
		[]hits.SortValue{hits.Float(7), hits.Null()},
	)
	partials := []*hits.PartialResult{a, b}

	m, err := Reduce(partials, 0, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1-p0", "s0-p0", "s0-p1", "s1-p1", "s1-p2", "s0-p2"}, idsOf(m))
	assert.True(t, m.Sort.Equal(sort))
	assertCorrelated(t, partials, m)

	// an explicit active sort must agree with the partials
	m2, err := Reduce(partials, 0, 10, sort)
	require.NoError(t, err)
	assert.Equal(t, idsOf(m), idsOf(m2))
}

func TestReduce_FieldSortScoreAndReverse(t *testing.T) {
	// score sorts descending by default, ascending when reversed
	desc := hits.NewSort(hits.SortField{Type: hits.SortScore})
	a := fieldPartial(0, desc, []hits.SortValue{hits.Float(9)}, []hits.SortValue{hits.Float(2)})
	b := fieldPartial(1, desc, []hits.SortValue{hits.Float(5)})
	m, err := Reduce([]*hits.PartialResult{a, b}, 0, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s0-p0", "s1-p0", "s0-p1"}, idsOf(m))

	asc := hits.NewSort(hits.SortField{Type: hits.SortScore, Reverse: true})
	c := fieldPartial(0, asc, []hits.SortValue{hits.Float(2)}, []hits.SortValue{hits.Float(9)})
	d := fieldPartial(1, asc, []hits.SortValue{hits.Float(5)})
	m, err = Reduce([]*hits.PartialResult{c, d}, 0, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s0-p0", "s1-p0", "s0-p1"}, idsOf(m))
}

func TestReduce_ScoreOnlyPartialJoinsFieldSortWhenEmpty(t *testing.T) {
	sort := hits.NewSort(hits.SortField{Field: "id", Type: hits.SortID})
	a := fieldPartial(0, sort, []hits.SortValue{hits.String("a")}, []hits.SortValue{hits.String("c")})
	// a shard with no hits may not report the sort at all
	b := scorePartial(1)
	b.TotalMatched = 3

	m, err := Reduce([]*hits.PartialResult{a, b}, 0, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s0-p0", "s0-p1"}, idsOf(m))
	assert.Equal(t, uint64(5), m.TotalMatched)
}

func TestReduce_SinglePartialShortcut(t *testing.T) {
	payloads := []hits.HitPayload{{ID: "a", Score: 3}, {ID: "b", Score: 2}, {ID: "c", Score: 1}}
	final := hits.NewFinalResult("top_hits", payloads, 12, 3)

	tests := []struct {
		from, size int
		want       []string
	}{
		{0, 10, []string{"a", "b", "c"}},
		{0, 1, []string{"a"}},
		{1, 1, []string{"b"}},
		{2, 5, []string{"c"}},
		{3, 2, []string{}},
		{7, 0, []string{}},
		{1, math.MaxInt, []string{"b", "c"}},
	}
	for _, tt := range tests {
		m, err := Reduce([]*hits.PartialResult{final}, tt.from, tt.size, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, idsOf(m), "from=%d size=%d", tt.from, tt.size)
		assert.LessOrEqual(t, len(m.Hits), tt.size)
		assert.Equal(t, tt.from, m.From)
		assert.Equal(t, tt.size, m.Size)
		assert.Equal(t, uint64(12), m.TotalMatched)
		assert.Equal(t, 3.0, m.MaxScore)
	}
}

func TestReduce_InputContractViolations(t *testing.T) {
	sort := hits.NewSort(hits.SortField{Field: "price", Type: hits.SortNumber})
	other := hits.NewSort(hits.SortField{Field: "price", Type: hits.SortNumber, Reverse: true})

	misaligned := scorePartial(0, 3, 2)
	misaligned.Payloads = misaligned.Payloads[:1]

	tests := []struct {
		name     string
		partials []*hits.PartialResult
		from     int
		size     int
		active   *hits.Sort
		want     error
	}{
		{"no partials", nil, 0, 10, nil, ErrNoPartials},
		{"nil partial", []*hits.PartialResult{scorePartial(0, 1), nil}, 0, 10, nil, ErrNoPartials},
		{"negative from", []*hits.PartialResult{scorePartial(0, 1)}, -1, 10, nil, ErrInvalidWindow},
		{"negative size", []*hits.PartialResult{scorePartial(0, 1)}, 0, -3, nil, ErrInvalidWindow},
		{"unsorted scores", []*hits.PartialResult{scorePartial(0, 1, 5)}, 0, 10, nil, ErrUnsorted},
		{"unsorted fields", []*hits.PartialResult{fieldPartial(0, sort,
			[]hits.SortValue{hits.Float(5)}, []hits.SortValue{hits.Float(1)})}, 0, 10, nil, ErrUnsorted},
		{"misaligned payloads", []*hits.PartialResult{misaligned}, 0, 10, nil, ErrSortMismatch},
		{"disagreeing sorts", []*hits.PartialResult{
			fieldPartial(0, sort, []hits.SortValue{hits.Float(1)}),
			fieldPartial(1, other, []hits.SortValue{hits.Float(1)}),
		}, 0, 10, nil, ErrSortMismatch},
		{"active sort differs", []*hits.PartialResult{
			fieldPartial(0, sort, []hits.SortValue{hits.Float(1)}),
		}, 0, 10, other, ErrSortMismatch},
		{"sort key arity", []*hits.PartialResult{
			fieldPartial(0, sort, []hits.SortValue{hits.Float(1), hits.Float(2)}),
		}, 0, 10, nil, ErrSortMismatch},
		{"score entries under field sort", []*hits.PartialResult{
			fieldPartial(0, sort, []hits.SortValue{hits.Float(1)}),
			scorePartial(1, 4),
		}, 0, 10, nil, ErrSortMismatch},
		{"final mixed with partials", []*hits.PartialResult{
			scorePartial(0, 1),
			hits.NewFinalResult("top_hits", nil, 0, 0),
		}, 0, 10, nil, ErrSortMismatch},
		{"unknown sort type", []*hits.PartialResult{scorePartial(0, 1)}, 0, 10,
			hits.NewSort(hits.SortField{Field: "x", Type: hits.SortType(9)}), ErrSortMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Reduce(tt.partials, tt.from, tt.size, tt.active)
			require.Error(t, err)
			assert.Nil(t, m)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
		})
	}
}

func TestCorrelate_Failure(t *testing.T) {
	partials := []*hits.PartialResult{scorePartial(0, 1)}

	_, err := correlate(partials, cursor{shard: 0, pos: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMergeCorrelation))
	assert.Equal(t, apperror.KindCorrelation, apperror.KindOf(err))

	_, err = correlate(partials, cursor{shard: 3})
	assert.True(t, errors.Is(err, ErrMergeCorrelation))
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	a := scorePartial(0, 9, 7)
	b := scorePartial(1, 8)
	_, err := Reduce([]*hits.PartialResult{a, b}, 0, 3, nil)
	require.NoError(t, err)

	assert.Zero(t, b.Entries[0].ShardIndex)
	assert.Equal(t, []string{"s1-p0"}, []string{b.Payloads[0].ID})
}

func BenchmarkReduce(b *testing.B) {
	partials := make([]*hits.PartialResult, 16)
	for s := range partials {
		scores := make([]float64, 1000)
		for i := range scores {
			scores[i] = float64(len(scores) - i)
		}
		partials[s] = scorePartial(s, scores...)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Reduce(partials, 0, 10, nil)
	}
}
