package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"turbo-tophits/internal/cache"
	"turbo-tophits/internal/config"
)

// Server is the coordinator. It fans a search out to every shard and merges
// the partial results.
type Server struct {
	port         int
	httpClient   *http.Client
	shards       []string
	shardTimeout time.Duration
	maxWindow    int
	defaultSize  int
	cache        *cache.Cache
	logger       zerolog.Logger
}

// New creates a coordinator. c may be nil to disable result caching.
//
//nolint:gocritic // Logger passed by value, it is a small handle
func New(cfg *config.Coordinator, c *cache.Cache, logger zerolog.Logger) *Server {
	return &Server{
		port: cfg.Port,
		// per-shard deadlines come from the request context
		httpClient:   &http.Client{},
		shards:       cfg.Shards,
		shardTimeout: cfg.ShardTimeout,
		maxWindow:    cfg.MaxResultWindow,
		defaultSize:  cfg.DefaultSize,
		cache:        c,
		logger:       logger,
	}
}

func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}
