package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	"turbo-tophits/internal/hits"
)

type SearchResponse struct {
	Name     string     `json:"name"`
	Took     int64      `json:"took"`
	TimedOut bool       `json:"timed_out"`
	Partial  bool       `json:"partial"`
	Shards   ShardsInfo `json:"_shards"`
	Hits     HitsInfo   `json:"hits"`
}

type ShardsInfo struct {
	Total      int            `json:"total"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Failures   []ShardFailure `json:"failures,omitempty"`
}

type HitsInfo struct {
	Total    uint64    `json:"total"`
	MaxScore float64   `json:"max_score"`
	Hits     []HitJSON `json:"hits"`
}

type HitJSON struct {
	Index  string           `json:"_index"`
	ID     string           `json:"_id"`
	Score  float64          `json:"_score"`
	Sort   []hits.SortValue `json:"sort,omitempty"`
	Source json.RawMessage  `json:"_source,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// render builds the response body for a merged window. Hits appear in rank
// order; a nil gathered means the result came from cache.
func render(m *hits.MergedResult, g *gathered, shards int, tookMs int64) *SearchResponse {
	resp := &SearchResponse{
		Name: m.Name,
		Took: tookMs,
		Shards: ShardsInfo{
			Total:      shards,
			Successful: shards,
		},
		Hits: HitsInfo{
			Total:    m.TotalMatched,
			MaxScore: m.MaxScore,
			Hits:     make([]HitJSON, 0, len(m.Hits)),
		},
	}
	if g != nil {
		resp.TimedOut = g.timedOut
		resp.Partial = len(g.failures) > 0
		resp.Shards.Successful = g.successful()
		resp.Shards.Failed = len(g.failures)
		resp.Shards.Failures = g.failures
	}

	for _, p := range m.Payloads() {
		resp.Hits.Hits = append(resp.Hits.Hits, HitJSON{
			Index:  p.Index,
			ID:     p.ID,
			Score:  p.Score,
			Sort:   p.Sort,
			Source: p.Source,
		})
	}
	return resp
}

// writeJSON encodes v before sending any header. When v cannot be encoded the
// client gets a 500 and the encoding error is returned.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"response could not be encoded","kind":"unknown"}` + "\n"))
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}
