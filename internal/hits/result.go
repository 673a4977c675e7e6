// Package hits holds the values exchanged between shards and the coordinator:
// the per-shard PartialResult and the MergedResult produced from them.
package hits

import "encoding/json"

// RankedEntry is the ranking information for one document.
type RankedEntry struct {
	// DocRef is the shard-assigned sequence number of the document. It only
	// identifies a document within its own shard.
	DocRef  uint64
	Score   float64
	SortKey []SortValue
	// ShardIndex is assigned by the reducer; shards leave it zero.
	ShardIndex int
}

// HitPayload is the materialized content returned for a RankedEntry. It is
// stored at the same position as its entry and never reordered on its own.
type HitPayload struct {
	ID     string
	Index  string
	Score  float64
	Sort   []SortValue
	Source json.RawMessage
}

// PartialResult is one shard's locally ranked top hits.
type PartialResult struct {
	Name         string
	From         int
	Size         int
	Sort         *Sort
	Entries      []RankedEntry
	Payloads     []HitPayload
	TotalMatched uint64
	MaxScore     float64
	// Final marks an already reduced result that carries payloads only.
	Final bool
}

// NewPartialResult builds a shard result destined for merging. entries and
// payloads must be index-aligned.
func NewPartialResult(name string, from, size int, sort *Sort, entries []RankedEntry, payloads []HitPayload, total uint64, maxScore float64) *PartialResult {
	return &PartialResult{
		Name:         name,
		From:         from,
		Size:         size,
		Sort:         sort,
		Entries:      entries,
		Payloads:     payloads,
		TotalMatched: total,
		MaxScore:     maxScore,
	}
}

// NewFinalResult builds the degenerate form used when there is nothing left to
// merge. Ranking fields stay empty.
func NewFinalResult(name string, payloads []HitPayload, total uint64, maxScore float64) *PartialResult {
	return &PartialResult{
		Name:         name,
		Payloads:     payloads,
		TotalMatched: total,
		MaxScore:     maxScore,
		Final:        true,
	}
}

// Empty reports whether the partial contributes no candidates.
func (p *PartialResult) Empty() bool {
	return len(p.Entries) == 0
}

type Hit struct {
	Entry   RankedEntry
	Payload HitPayload
}

// MergedResult is the globally ranked window built by the reducer.
type MergedResult struct {
	Name         string
	From         int
	Size         int
	Sort         *Sort
	Hits         []Hit
	TotalMatched uint64
	MaxScore     float64
}

// Payloads returns the hit payloads in rank order.
func (m *MergedResult) Payloads() []HitPayload {
	out := make([]HitPayload, len(m.Hits))
	for i, h := range m.Hits {
		out[i] = h.Payload
	}
	return out
}
