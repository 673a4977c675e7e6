package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"turbo-tophits/internal/apperror"
	"turbo-tophits/internal/cache"
	"turbo-tophits/internal/hits"
	"turbo-tophits/internal/merge"
	"turbo-tophits/internal/metrics"
	"turbo-tophits/internal/shardnode"
)

// DefaultName is used when a request does not name its result.
const DefaultName = "top_hits"

const (
	opSearch       = "search"
	maxRequestBody = 1 << 20
)

var ErrAllShardsFailed = errors.New("all shards failed")

// SearchRequest is the coordinator's request body. A missing size falls back
// to the configured default.
type SearchRequest struct {
	Name  string               `json:"name"`
	Query string               `json:"query"`
	From  int                  `json:"from"`
	Size  *int                 `json:"size,omitempty"`
	Sort  []shardnode.SortSpec `json:"sort,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		_ = writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: string(apperror.KindValidation)})
		return
	}

	resp, err := s.Search(r.Context(), &req)
	if err != nil {
		status := statusOf(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error().Err(err).Str("query", req.Query).Int("status", status).Msg("search failed")
		}
		_ = writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(apperror.KindOf(err))})
		return
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		s.logger.Error().Err(err).Str("query", req.Query).Msg("response write failed")
	}
}

// Search validates the request, serves it from cache when possible and
// otherwise scatters it to every shard and merges the partial results.
func (s *Server) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	start := time.Now()

	name := req.Name
	if name == "" {
		name = DefaultName
	}
	size := s.defaultSize
	if req.Size != nil {
		size = *req.Size
	}
	if req.From < 0 || size < 0 {
		return nil, apperror.Wrap(merge.ErrInvalidWindow, apperror.KindValidation, opSearch, "invalid window").
			With("from", req.From).With("size", size)
	}
	if req.From > s.maxWindow-size {
		return nil, apperror.New(apperror.KindValidation, opSearch, "result window is too large").
			With("from", req.From).With("size", size).With("max_result_window", s.maxWindow)
	}
	sort, err := shardnode.ParseSort(req.Sort)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.KindValidation, opSearch, "invalid sort")
	}

	key := cacheKey(name, req.Query, req.From, size, sort)
	if m := s.cached(ctx, key); m != nil {
		return render(m, nil, len(s.shards), time.Since(start).Milliseconds()), nil
	}

	shardReq := &shardnode.SearchRequest{
		Name:  name,
		Query: req.Query,
		From:  req.From,
		Size:  size,
		Sort:  shardnode.SortSpecs(sort),
	}
	g, err := s.scatter(ctx, shardReq, sort)
	if err != nil {
		return nil, err
	}
	if g.successful() == 0 {
		return nil, apperror.Wrap(ErrAllShardsFailed, apperror.KindShard, opSearch, "no shard answered").
			With("shards", len(s.shards))
	}

	m, err := s.reduce(g.partials, req.From, size, sort)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && len(g.failures) == 0 {
		if err := s.cache.Set(ctx, key, m); err != nil {
			s.logger.Warn().Err(err).Msg("cache store failed")
		}
	}
	return render(m, g, len(s.shards), time.Since(start).Milliseconds()), nil
}

func (s *Server) reduce(partials []*hits.PartialResult, from, size int, sort *hits.Sort) (*hits.MergedResult, error) {
	start := time.Now()
	m, err := merge.Reduce(partials, from, size, sort)
	metrics.ReduceDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		kind := apperror.KindOf(err)
		metrics.ReduceErrorsTotal.WithLabelValues(string(kind)).Inc()
		// the request was validated before scattering, so a rejected
		// input means a shard broke the partial result contract
		if kind == apperror.KindValidation {
			return nil, apperror.Wrap(err, apperror.KindShard, opSearch, "shards returned unmergeable partials")
		}
		return nil, err
	}
	return m, nil
}

// cached returns the stored result for key, or nil. Cache faults are logged
// and treated as misses.
func (s *Server) cached(ctx context.Context, key string) *hits.MergedResult {
	if s.cache == nil {
		return nil
	}
	m, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return m
	case errors.Is(err, cache.ErrMiss):
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	default:
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Msg("cache lookup failed")
	}
	return nil
}

func cacheKey(name, query string, from, size int, sort *hits.Sort) string {
	parts := []string{name, query, strconv.Itoa(from), strconv.Itoa(size)}
	for _, spec := range shardnode.SortSpecs(sort) {
		parts = append(parts, strings.Join([]string{spec.Field, spec.Type, strconv.FormatBool(spec.Reverse)}, "|"))
	}
	return cache.Key(parts...)
}

func statusOf(err error) int {
	if errors.Is(err, ErrAllShardsFailed) {
		return http.StatusServiceUnavailable
	}
	switch apperror.KindOf(err) {
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindShard, apperror.KindDecode:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
