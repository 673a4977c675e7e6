package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"turbo-tophits/internal/apperror"
	"turbo-tophits/internal/hits"
	"turbo-tophits/internal/metrics"
	"turbo-tophits/internal/shardnode"
	"turbo-tophits/internal/wire"
)

const maxShardResponse = 64 << 20

var ErrNonFinite = errors.New("partial result carries a non-finite number")

// ShardFailure describes a shard that did not contribute to a result.
type ShardFailure struct {
	Shard  int    `json:"shard"`
	Node   string `json:"node"`
	Reason string `json:"reason"`
}

type gathered struct {
	// partials holds one entry per configured shard, in configuration order.
	// Failed shards are represented by an empty partial.
	partials []*hits.PartialResult
	failures []ShardFailure
	timedOut bool
}

func (g *gathered) successful() int {
	return len(g.partials) - len(g.failures)
}

// scatter sends req to every shard in parallel. Unreachable or failing shards
// are recorded and skipped. A shard that answers with bytes that do not
// decode, or with a result that cannot be ranked, fails the whole search.
func (s *Server) scatter(ctx context.Context, req *shardnode.SearchRequest, sort *hits.Sort) (*gathered, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	partials := make([]*hits.PartialResult, len(s.shards))
	errs := make([]error, len(s.shards))

	g, gCtx := errgroup.WithContext(ctx)
	for i, node := range s.shards {
		g.Go(func() error {
			start := time.Now()
			p, err := s.fetch(gCtx, node, body)
			duration := time.Since(start)
			metrics.ShardLatency.WithLabelValues(node).Observe(duration.Seconds())

			if err != nil {
				metrics.ShardRequestsTotal.WithLabelValues(node, outcome(err)).Inc()
				s.logger.Warn().
					Str("shard", node).
					Err(err).
					Dur("duration", duration).
					Msg("shard search failed")
				if fatal(err) {
					return err
				}
				errs[i] = err
				return nil
			}
			metrics.ShardRequestsTotal.WithLabelValues(node, "ok").Inc()
			partials[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &gathered{partials: partials}
	for i, err := range errs {
		if err == nil {
			continue
		}
		out.partials[i] = hits.NewPartialResult(req.Name, req.From, req.Size, sort, nil, nil, 0, 0)
		out.failures = append(out.failures, ShardFailure{Shard: i, Node: s.shards[i], Reason: err.Error()})
		if errors.Is(err, context.DeadlineExceeded) {
			out.timedOut = true
		}
	}
	return out, nil
}

func (s *Server) fetch(ctx context.Context, node string, body []byte) (*hits.PartialResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.shardTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(node, "/")+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", shardnode.ContentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxShardResponse))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, shardError(data))
	}

	p, err := wire.DecodePartial(data)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.KindDecode, "scatter", "undecodable partial").With("shard", node)
	}
	if err := checkFinite(p); err != nil {
		return nil, apperror.Wrap(err, apperror.KindShard, "scatter", "unrankable partial").With("shard", node)
	}
	return p, nil
}

// checkFinite rejects NaN and infinite scores. Float sort values may be
// infinite but never NaN.
func checkFinite(p *hits.PartialResult) error {
	finite := func(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
	sortable := func(vs []hits.SortValue) bool {
		for _, v := range vs {
			if v.Kind == hits.KindFloat && math.IsNaN(v.Float) {
				return false
			}
		}
		return true
	}

	if !finite(p.MaxScore) {
		return fmt.Errorf("%w: max score %v", ErrNonFinite, p.MaxScore)
	}
	for i, e := range p.Entries {
		if !finite(e.Score) || !sortable(e.SortKey) {
			return fmt.Errorf("%w: entry %d", ErrNonFinite, i)
		}
	}
	for i, pl := range p.Payloads {
		if !finite(pl.Score) || !sortable(pl.Sort) {
			return fmt.Errorf("%w: payload %d", ErrNonFinite, i)
		}
	}
	return nil
}

// fatal reports whether a shard failure aborts the search instead of
// degrading it to a partial response.
func fatal(err error) bool {
	return apperror.IsKind(err, apperror.KindDecode) || errors.Is(err, ErrNonFinite)
}

// shardError extracts the message of a JSON error body, or returns the body.
func shardError(data []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strconv.Quote(string(bytes.TrimSpace(data)))
}

func outcome(err error) string {
	switch {
	case apperror.IsKind(err, apperror.KindDecode):
		return "decode"
	case errors.Is(err, ErrNonFinite):
		return "invalid"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
