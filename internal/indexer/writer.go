package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/rs/zerolog"

	"turbo-tophits/internal/config"
	"turbo-tophits/internal/docstore"
	"turbo-tophits/internal/shardnode"
)

// shardWriter owns everything written for one shard. It is used by a single
// goroutine.
type shardWriter struct {
	id        int
	dir       string
	index     bleve.Index
	store     *docstore.Writer
	refs      map[string]uint32
	batch     *bleve.Batch
	batchSize int
	logger    zerolog.Logger
}

func ShardDir(outDir string, shard int) string {
	return filepath.Join(outDir, fmt.Sprintf("shard-%d", shard))
}

//nolint:gocritic // Logger passed by value, it is a small handle
func openShard(cfg *config.Indexer, shard int, logger zerolog.Logger) (*shardWriter, error) {
	dir := ShardDir(cfg.OutDir, shard)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	idx, err := bleve.New(filepath.Join(dir, shardnode.IndexFile), buildMapping(cfg.KeywordFields))
	if err != nil {
		return nil, fmt.Errorf("shard %d: create index: %w", shard, err)
	}
	store, err := docstore.Create(filepath.Join(dir, shardnode.SourceFile), cfg.StoreCapacity)
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("shard %d: create sources: %w", shard, err)
	}

	return &shardWriter{
		id:        shard,
		dir:       dir,
		index:     idx,
		store:     store,
		refs:      make(map[string]uint32),
		batch:     idx.NewBatch(),
		batchSize: cfg.BatchSize,
		logger:    logger.With().Int("shard", shard).Logger(),
	}, nil
}

// buildMapping indexes every field dynamically. title and text are analyzed
// and stored, keyword fields are kept whole for string sorting.
func buildMapping(keywordFields []string) mapping.IndexMapping {
	titleField := bleve.NewTextFieldMapping()
	titleField.Store = true

	textField := bleve.NewTextFieldMapping()
	textField.Store = true

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("title", titleField)
	docMapping.AddFieldMappingsAt("text", textField)
	for _, name := range keywordFields {
		docMapping.AddFieldMappingsAt(name, bleve.NewKeywordFieldMapping())
	}

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func (w *shardWriter) consume(ctx context.Context, ch <-chan Document) error {
	for doc := range ch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.write(doc); err != nil {
			return err
		}
	}
	return w.flush()
}

func (w *shardWriter) write(doc Document) error {
	seq, err := w.store.Append(doc.Source)
	if err != nil {
		return fmt.Errorf("shard %d: store %s: %w", w.id, doc.ID, err)
	}
	w.refs[doc.ID] = seq

	if err := w.batch.Index(doc.ID, doc.Fields); err != nil {
		return fmt.Errorf("shard %d: index %s: %w", w.id, doc.ID, err)
	}
	if w.batch.Size() >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *shardWriter) flush() error {
	if w.batch.Size() == 0 {
		return nil
	}
	n := w.batch.Size()
	if err := w.index.Batch(w.batch); err != nil {
		return fmt.Errorf("shard %d: commit batch: %w", w.id, err)
	}
	w.batch = w.index.NewBatch()
	w.logger.Debug().Int("docs", n).Int("total", w.store.Len()).Msg("batch committed")
	return nil
}

// close releases the index and source store and writes the docmap.
func (w *shardWriter) close() error {
	return errors.Join(
		w.index.Close(),
		w.store.Close(),
		saveDocMap(w.dir, w.refs),
	)
}

func saveDocMap(dir string, refs map[string]uint32) error {
	data, err := json.MarshalIndent(refs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, shardnode.DocMapFile), data, 0644)
}
