package indexer

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// HashRing assigns document IDs to shards by consistent hashing over
// virtual nodes.
type HashRing struct {
	positions []uint32       // sorted
	shardMap  map[uint32]int // position -> shard
}

func hash32(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}

func NewHashRing(numShards, vnodes int) *HashRing {
	r := &HashRing{
		shardMap: make(map[uint32]int, numShards*vnodes),
	}

	for shard := range numShards {
		for v := range vnodes {
			pos := hash32(fmt.Sprintf("shard-%d-vnode-%d", shard, v))
			// first shard to claim a position keeps it
			if _, taken := r.shardMap[pos]; taken {
				continue
			}
			r.positions = append(r.positions, pos)
			r.shardMap[pos] = shard
		}
	}

	sort.Slice(r.positions, func(i, j int) bool {
		return r.positions[i] < r.positions[j]
	})
	return r
}

func (r *HashRing) ShardFor(key string) int {
	h := hash32(key)

	idx := sort.Search(len(r.positions), func(i int) bool {
		return r.positions[i] >= h
	})
	// wrap around
	if idx == len(r.positions) {
		idx = 0
	}
	return r.shardMap[r.positions[idx]]
}
