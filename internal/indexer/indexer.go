// Package indexer splits a JSONL corpus into shards. Each shard gets a bleve
// index, a source store and a docmap from document ID to source sequence
// number, which is the layout a shard node loads.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"turbo-tophits/internal/config"
)

const queueSize = 1000

// Stats summarizes one indexing run.
type Stats struct {
	Read     int
	Skipped  int
	PerShard []int
}

// Run indexes the file named by cfg.Input.
//
//nolint:gocritic // Logger passed by value, it is a small handle
func Run(ctx context.Context, cfg *config.Indexer, logger zerolog.Logger) (*Stats, error) {
	f, err := os.Open(cfg.Input)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Build(ctx, f, cfg, logger)
}

// Build reads JSONL documents from r, parses them on cfg.Workers goroutines
// and routes each to its shard writer through the hash ring.
//
//nolint:gocritic // Logger passed by value, it is a small handle
func Build(ctx context.Context, r io.Reader, cfg *config.Indexer, logger zerolog.Logger) (*Stats, error) {
	writers := make([]*shardWriter, cfg.NumShards)
	for i := range writers {
		w, err := openShard(cfg, i, logger)
		if err != nil {
			for _, opened := range writers[:i] {
				_ = opened.close()
			}
			return nil, err
		}
		writers[i] = w
	}

	ring := NewHashRing(cfg.NumShards, cfg.VNodes)
	lines := make(chan []byte, queueSize)
	parsed := make(chan Document, queueSize)
	shardChans := make([]chan Document, cfg.NumShards)
	for i := range shardChans {
		shardChans[i] = make(chan Document, queueSize)
	}

	stats := &Stats{PerShard: make([]int, cfg.NumShards)}
	var skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(lines)
		n, err := scanLines(gctx, r, lines)
		stats.Read = n
		return err
	})

	var workers sync.WaitGroup
	for range cfg.Workers {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return parse(gctx, lines, parsed, &skipped, logger)
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(parsed)
		return nil
	})

	g.Go(func() error {
		return route(gctx, ring, parsed, shardChans)
	})

	for i, w := range writers {
		g.Go(func() error {
			return w.consume(gctx, shardChans[i])
		})
	}

	err := g.Wait()
	for i, w := range writers {
		stats.PerShard[i] = w.store.Len()
		err = errors.Join(err, w.close())
	}
	stats.Skipped = int(skipped.Load())
	if err != nil {
		return stats, fmt.Errorf("indexing failed: %w", err)
	}

	logger.Info().
		Int("read", stats.Read).
		Int("skipped", stats.Skipped).
		Ints("per_shard", stats.PerShard).
		Msg("indexing complete")
	return stats, nil
}

//nolint:gocritic // Logger passed by value, it is a small handle
func parse(ctx context.Context, in <-chan []byte, out chan<- Document, skipped *atomic.Int64, logger zerolog.Logger) error {
	for line := range in {
		doc, err := ParseDocument(line)
		if err != nil {
			skipped.Add(1)
			logger.Debug().Err(err).Msg("skipping line")
			continue
		}
		select {
		case out <- doc:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func route(ctx context.Context, ring *HashRing, in <-chan Document, shardChans []chan Document) error {
	defer func() {
		for _, ch := range shardChans {
			close(ch)
		}
	}()
	for doc := range in {
		select {
		case shardChans[ring.ShardFor(doc.ID)] <- doc:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
