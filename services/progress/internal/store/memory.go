package store

import (
	"context"
	"sort"
	"sync"

	"github.com/example/course-platform/internal/progress"
)

type memKey struct{ user, video string }

// Memory is an in-process Repository. A single mutex covers read-merge-write.
type Memory struct {
	mu    sync.Mutex
	recs  map[memKey]progress.Record
	Clock Clock
}

func NewMemory() *Memory {
	return &Memory{recs: make(map[memKey]progress.Record)}
}

func (m *Memory) Get(_ context.Context, userID, videoID string) (progress.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[memKey{userID, videoID}]
	if !ok {
		return progress.Record{}, ErrNotFound
	}
	return clone(rec), nil
}

func (m *Memory) Commit(_ context.Context, userID, videoID string, c progress.Commit) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{userID, videoID}
	rec, ok := m.recs[k]
	if !ok {
		rec = progress.NewRecord(userID, videoID)
	}
	out, err := rec.Apply(c, m.Clock.now())
	if err != nil {
		return Result{}, err
	}
	m.recs[k] = out
	return result(rec, clone(out)), nil
}

func (m *Memory) List(_ context.Context, userID string, limit int, cursor *Cursor) ([]progress.Record, error) {
	m.mu.Lock()
	var all []progress.Record
	for k, rec := range m.recs {
		if k.user == userID && rec.VideoDuration > 0 && cursor.before(rec) {
			all = append(all, clone(rec))
		}
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].VideoID > all[j].VideoID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func clone(r progress.Record) progress.Record {
	r.WatchedIntervals = r.WatchedIntervals.Clone()
	return r
}

var _ Repository = (*Memory)(nil)
