package shardnode

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/rs/zerolog"

	"turbo-tophits/internal/config"
	"turbo-tophits/internal/docstore"
)

// Files a shard expects under its data directory.
const (
	IndexFile  = "index.bleve"
	SourceFile = "sources.bin"
	DocMapFile = "docmap.json"
)

type Server struct {
	port      int
	shardID   string
	indexName string
	maxWindow int
	index     bleve.Index
	store     *docstore.Reader
	refs      map[string]uint32
	logger    zerolog.Logger
}

// New wires a shard server over an opened index and source store. refs maps
// document IDs to their sequence numbers in store.
//
//nolint:gocritic // Logger passed by value, it is a small handle
func New(cfg *config.Shard, index bleve.Index, store *docstore.Reader, refs map[string]uint32, logger zerolog.Logger) *Server {
	return &Server{
		port:      cfg.Port,
		shardID:   cfg.ShardID,
		indexName: "shard-" + cfg.ShardID,
		maxWindow: cfg.MaxResultWindow,
		index:     index,
		store:     store,
		refs:      refs,
		logger:    logger.With().Str("shard_id", cfg.ShardID).Logger(),
	}
}

// Open loads the index, source store and docmap written by the indexer.
//
//nolint:gocritic // Logger passed by value, it is a small handle
func Open(cfg *config.Shard, logger zerolog.Logger) (*Server, error) {
	idx, err := bleve.Open(filepath.Join(cfg.DataDir, IndexFile))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	refs, err := LoadDocMap(filepath.Join(cfg.DataDir, DocMapFile))
	if err != nil {
		idx.Close()
		return nil, err
	}

	store, err := docstore.Open(filepath.Join(cfg.DataDir, SourceFile))
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("open sources: %w", err)
	}
	if store.Len() != len(refs) {
		logger.Warn().Int("sources", store.Len()).Int("docmap", len(refs)).Msg("docmap and source store disagree")
	}

	s := New(cfg, idx, store, refs, logger)
	s.logger.Info().Str("data_dir", cfg.DataDir).Int("docs", len(refs)).Msg("shard loaded")
	return s, nil
}

// LoadDocMap reads the id to sequence number map.
func LoadDocMap(path string) (map[string]uint32, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read docmap: %w", err)
	}
	var refs map[string]uint32
	if err := json.Unmarshal(b, &refs); err != nil {
		return nil, fmt.Errorf("unmarshal docmap: %w", err)
	}
	return refs, nil
}

func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func (s *Server) Close() error {
	serr := s.store.Close()
	if err := s.index.Close(); err != nil {
		return err
	}
	return serr
}
