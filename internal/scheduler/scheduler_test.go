package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
)

func TestFilterCandidates(t *testing.T) {
	job := &store.Job{BinaryName: "ffmpeg", Paths: []string{"/media/in", "/media/out"}}

	online := []*store.Worker{
		{WorkerID: "w1", Binaries: []string{"ffmpeg"}, Paths: []string{"/media/in", "/media/out", "/media/extra"}},
		{WorkerID: "w2", Binaries: []string{"ffprobe"}, Paths: []string{"/media/in", "/media/out"}},
		{WorkerID: "w3", Binaries: []string{"ffmpeg"}, Paths: []string{"/media/in"}},
		{WorkerID: "w4", Binaries: []string{"ffmpeg"}, Paths: []string{}},
	}

	got := filterCandidates(job, online)

	assert.Len(t, got, 1)
	assert.Equal(t, "w1", got[0].WorkerID)
}

func TestFilterCandidatesEmptyPaths(t *testing.T) {
	job := &store.Job{BinaryName: "ffmpeg"}
	online := []*store.Worker{
		{WorkerID: "w1", Binaries: []string{"ffmpeg"}},
	}

	got := filterCandidates(job, online)

	assert.Len(t, got, 1)
}

func TestRankOrdersByLoadThenRecency(t *testing.T) {
	now := time.Now().UTC()
	older := now.Add(-5 * time.Minute)

	candidates := []*store.Worker{
		{WorkerID: "busy", LastSeen: &now},
		{WorkerID: "idle-stale", LastSeen: &older},
		{WorkerID: "idle-fresh", LastSeen: &now},
	}
	load := map[string]int{
		"busy":       3,
		"idle-stale": 0,
		"idle-fresh": 0,
	}

	ranked := rank(candidates, load)

	assert.Equal(t, "idle-fresh", ranked[0].WorkerID)
	assert.Equal(t, "idle-stale", ranked[1].WorkerID)
	assert.Equal(t, "busy", ranked[2].WorkerID)
}

func TestRankMissingLoadTreatedAsZero(t *testing.T) {
	now := time.Now().UTC()
	candidates := []*store.Worker{
		{WorkerID: "known", LastSeen: &now},
		{WorkerID: "unknown", LastSeen: &now},
	}
	load := map[string]int{"known": 1}

	ranked := rank(candidates, load)

	assert.Equal(t, "unknown", ranked[0].WorkerID)
}

func TestLastSeenMinuteNilIsZeroTime(t *testing.T) {
	w := &store.Worker{WorkerID: "w1"}
	assert.True(t, lastSeenMinute(w).IsZero())
}
