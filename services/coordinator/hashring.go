package coordinator

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

const ringReplicas = 100

// HashRing assigns accounts to workers with consistent hashing under a
// bounded load: no worker takes more than the load factor times its fair
// share, so one hot ring segment cannot pile onto a single worker. Adding
// or removing a worker only moves the accounts that hash near it.
type HashRing struct {
	workers []string
	keys    []uint64
	owner   map[uint64]string
}

func NewHashRing(workers []string) *HashRing {
	r := &HashRing{
		workers: append([]string(nil), workers...),
		owner:   make(map[uint64]string, len(workers)*ringReplicas),
	}
	for _, worker := range workers {
		for i := 0; i < ringReplicas; i++ {
			key := hashKey(fmt.Sprintf("%s#%d", worker, i))
			r.keys = append(r.keys, key)
			r.owner[key] = worker
		}
	}
	sort.Slice(r.keys, func(i, j int) bool { return r.keys[i] < r.keys[j] })
	return r
}

// Assign maps every account to a worker. loadFactor bounds each worker at
// ceil(fairShare * loadFactor); 1.1 keeps workers within ten percent of an
// even split. Accounts are placed in sorted order so the result is
// deterministic for a given membership.
func (r *HashRing) Assign(accountIDs []string, loadFactor float64) map[string]string {
	assignment := make(map[string]string, len(accountIDs))
	if len(r.workers) == 0 || len(accountIDs) == 0 {
		return assignment
	}

	fairShare := float64(len(accountIDs)) / float64(len(r.workers))
	// fairShare*loadFactor can land a hair above an exact bound (100*1.1
	// evaluates to 110.0000...01); shave the float error before the ceiling.
	capacity := int(math.Ceil(fairShare*loadFactor - 1e-9))
	if capacity < 1 {
		capacity = 1
	}

	load := make(map[string]int, len(r.workers))
	sorted := append([]string(nil), accountIDs...)
	sort.Strings(sorted)

	for _, accountID := range sorted {
		worker := r.pick(accountID, load, capacity)
		assignment[accountID] = worker
		load[worker]++
	}
	return assignment
}

// pick walks the ring clockwise from the account's hash and takes the first
// worker with headroom.
func (r *HashRing) pick(accountID string, load map[string]int, capacity int) string {
	key := hashKey(accountID)
	start := sort.Search(len(r.keys), func(i int) bool { return r.keys[i] >= key })

	seen := make(map[string]struct{}, len(r.workers))
	for i := 0; i < len(r.keys); i++ {
		ringKey := r.keys[(start+i)%len(r.keys)]
		worker := r.owner[ringKey]
		if load[worker] < capacity {
			return worker
		}
		seen[worker] = struct{}{}
		if len(seen) == len(r.workers) {
			break
		}
	}
	// Every worker is at the bound; spill onto the least loaded one.
	least := r.workers[0]
	for _, worker := range r.workers[1:] {
		if load[worker] < load[least] {
			least = worker
		}
	}
	return least
}

func hashKey(s string) uint64 {
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}
