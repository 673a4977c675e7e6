package shardnode

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"turbo-tophits/internal/apperror"
	"turbo-tophits/internal/logging"
	"turbo-tophits/internal/wire"
)

const maxRequestBody = 1 << 20

// ContentType of a wire-encoded partial result.
const ContentType = "application/octet-stream"

func (s *Server) RegisterRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(s.logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/search", s.handleSearch)

	return r
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sort, err := ParseSort(req.Sort)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := s.Search(r.Context(), req.Name, req.Query, req.From, req.Size, sort)
	if err != nil {
		status := http.StatusInternalServerError
		if apperror.IsKind(err, apperror.KindValidation) {
			status = http.StatusBadRequest
		} else {
			s.logger.Error().Err(err).Str("query", req.Query).Msg("search failed")
		}
		writeError(w, status, err)
		return
	}

	b, err := wire.EncodePartial(p)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode partial")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(b); err != nil {
		s.logger.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}
