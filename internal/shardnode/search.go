package shardnode

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/numeric"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"

	"turbo-tophits/internal/apperror"
	"turbo-tophits/internal/hits"
	"turbo-tophits/internal/metrics"
)

const opSearch = "shard search"

// Search runs the query locally and returns the shard's top from+size
// entries in the requested order, with their payloads at matching positions.
func (s *Server) Search(ctx context.Context, name, q string, from, size int, sort *hits.Sort) (*hits.PartialResult, error) {
	if from < 0 || size < 0 {
		return nil, apperror.New(apperror.KindValidation, opSearch, "from and size must be non-negative")
	}
	if from > s.maxWindow-size {
		return nil, apperror.New(apperror.KindValidation, opSearch, "result window is too large").
			With("from", from).With("size", size).With("max_result_window", s.maxWindow)
	}

	start := time.Now()
	defer func() {
		metrics.ShardSearchDuration.WithLabelValues(s.shardID).Observe(time.Since(start).Seconds())
	}()

	req := bleve.NewSearchRequestOptions(buildQuery(q), from+size, 0, false)
	if !sort.IsScoreOnly() {
		req.SortByCustom(bleveSort(sort))
	}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.KindShard, opSearch, "index search failed")
	}

	entries := make([]hits.RankedEntry, 0, len(res.Hits))
	payloads := make([]hits.HitPayload, 0, len(res.Hits))
	for _, dm := range res.Hits {
		seq, ok := s.refs[dm.ID]
		if !ok {
			return nil, apperror.New(apperror.KindStorage, opSearch, "document missing from docmap").With("id", dm.ID)
		}
		src, err := s.store.Get(seq)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.KindStorage, opSearch, "read source").With("id", dm.ID)
		}
		key, err := sortKey(sort, dm)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.KindShard, opSearch, "sort key").With("id", dm.ID)
		}

		entries = append(entries, hits.RankedEntry{DocRef: uint64(seq), Score: dm.Score, SortKey: key})
		payloads = append(payloads, hits.HitPayload{
			ID:     dm.ID,
			Index:  s.indexName,
			Score:  dm.Score,
			Sort:   key,
			Source: src,
		})
	}
	metrics.ShardHitsReturned.Observe(float64(len(entries)))

	return hits.NewPartialResult(name, from, size, sort, entries, payloads, res.Total, res.MaxScore), nil
}

func buildQuery(q string) query.Query {
	if q == "" {
		return bleve.NewMatchAllQuery()
	}
	return bleve.NewQueryStringQuery(q)
}

// bleveSort translates a sort into bleve's order. Missing values are placed
// last in both directions to match the merge.
func bleveSort(s *hits.Sort) search.SortOrder {
	order := make(search.SortOrder, 0, len(s.Fields))
	for _, f := range s.Fields {
		switch f.Type {
		case hits.SortScore:
			order = append(order, &search.SortScore{Desc: !f.Reverse})
		case hits.SortID:
			order = append(order, &search.SortDocID{Desc: f.Reverse})
		case hits.SortNumber:
			order = append(order, &search.SortField{
				Field:   f.Field,
				Desc:    f.Reverse,
				Type:    search.SortFieldAsNumber,
				Missing: search.SortFieldMissingLast,
			})
		default:
			order = append(order, &search.SortField{
				Field:   f.Field,
				Desc:    f.Reverse,
				Type:    search.SortFieldAsString,
				Missing: search.SortFieldMissingLast,
			})
		}
	}
	return order
}

// sortKey builds the typed key of a hit from the values bleve ranked it by.
func sortKey(s *hits.Sort, dm *search.DocumentMatch) ([]hits.SortValue, error) {
	if s.IsScoreOnly() {
		return nil, nil
	}
	if len(dm.Sort) != len(s.Fields) {
		return nil, fmt.Errorf("got %d sort values, want %d", len(dm.Sort), len(s.Fields))
	}

	key := make([]hits.SortValue, len(s.Fields))
	for i, f := range s.Fields {
		raw := dm.Sort[i]
		switch {
		case f.Type == hits.SortScore:
			key[i] = hits.Float(dm.Score)
		case f.Type == hits.SortID:
			key[i] = hits.String(dm.ID)
		case raw == search.HighTerm || raw == search.LowTerm:
			key[i] = hits.Null()
		case f.Type == hits.SortNumber:
			v, err := decodeNumber(raw)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Field, err)
			}
			key[i] = v
		default:
			key[i] = hits.String(raw)
		}
	}
	return key, nil
}

// decodeNumber reads a numeric sort value, either prefix coded as stored in
// the index or already rendered as a decimal.
func decodeNumber(raw string) (hits.SortValue, error) {
	if ok, shift := numeric.ValidPrefixCodedTerm(raw); ok && shift == 0 {
		i, err := numeric.PrefixCoded(raw).Int64()
		if err == nil {
			return hits.Float(numeric.Int64ToFloat64(i)), nil
		}
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return hits.Null(), fmt.Errorf("not a number: %q", raw)
	}
	return hits.Float(f), nil
}
