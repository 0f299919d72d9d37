// Package rebalance implements the rebalance orchestrator: computing
// which keys must move when the ring topology changes and moving them
// without holding a shard lock across the network, one job per
// (source, target) path running concurrently on a worker pool.
package rebalance

import (
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/ring"
)

// JobStatus is a migration job's lifecycle state.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job moves the keys owned by Source that now belong to Target.
type Job struct {
	ID           string
	Source       string
	Target       string
	Keys         []string
	KeysTotal    int
	KeysMigrated int
	Status       JobStatus
	StartedAt    time.Time
	CompletedAt  time.Time
	Error        string
}

// pathKey identifies a (source, target) migration path.
type pathKey struct {
	source string
	target string
}

// Plan computes the set of migration jobs needed to move keys from
// oldRing's ownership to newRing's ownership. Keys whose owner is
// unchanged are excluded; a key whose new owner equals its old owner
// never appears in a job.
func Plan(oldRing, newRing *ring.Ring, keys []string) []Job {
	byPath := make(map[pathKey]*Job)
	order := make([]pathKey, 0)

	for _, key := range keys {
		oldOwner, ok := oldRing.GetNode(key)
		if !ok {
			continue
		}
		newOwner, ok := newRing.GetNode(key)
		if !ok || newOwner.ID == oldOwner.ID {
			continue
		}
		pk := pathKey{source: oldOwner.ID, target: newOwner.ID}
		job, exists := byPath[pk]
		if !exists {
			job = &Job{Source: pk.source, Target: pk.target, Status: JobPending}
			byPath[pk] = job
			order = append(order, pk)
		}
		job.Keys = append(job.Keys, key)
		job.KeysTotal++
	}

	out := make([]Job, 0, len(order))
	for _, pk := range order {
		out = append(out, *byPath[pk])
	}
	return out
}

// PlanDrain builds a single job per destination for the keys the
// draining node holds, deriving the job set from what the engine
// actually holds rather than from a ring diff. Every job's Source is
// drainingNode and its Target is the key's owner in newRing; keys that
// newRing still assigns to drainingNode, or to no node, are skipped.
func PlanDrain(newRing *ring.Ring, drainingNode string, keys []string) []Job {
	byTarget := make(map[string]*Job)
	order := make([]string, 0)

	for _, key := range keys {
		newOwner, ok := newRing.GetNode(key)
		if !ok || newOwner.ID == drainingNode {
			continue
		}
		job, exists := byTarget[newOwner.ID]
		if !exists {
			job = &Job{Source: drainingNode, Target: newOwner.ID, Status: JobPending}
			byTarget[newOwner.ID] = job
			order = append(order, newOwner.ID)
		}
		job.Keys = append(job.Keys, key)
		job.KeysTotal++
	}

	out := make([]Job, 0, len(order))
	for _, target := range order {
		out = append(out, *byTarget[target])
	}
	return out
}
