// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/cardrank/internal/logging"
	"github.com/tomtom215/cardrank/internal/metrics"
	"github.com/tomtom215/cardrank/internal/pipeline"
	"github.com/tomtom215/cardrank/internal/table"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrNotCompleted = errors.New("job is not completed")
	ErrQueueFull    = errors.New("job queue is full")
)

// DefaultQueueSize bounds the number of queued jobs.
const DefaultQueueSize = 100

// watcherBuffer is the number of snapshots a slow watcher may fall behind
// before intermediate snapshots are dropped.
const watcherBuffer = 16

// Manager is the in-memory job registry and queue. It is safe for
// concurrent use.
type Manager struct {
	mu       sync.RWMutex
	jobs     map[string]*job
	watchers map[string]map[chan Status]struct{}
	queue    chan string
	now      func() time.Time
}

// NewManager creates a manager whose queue holds at most queueSize jobs.
func NewManager(queueSize int) *Manager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Manager{
		jobs:     make(map[string]*job),
		watchers: make(map[string]map[chan Status]struct{}),
		queue:    make(chan string, queueSize),
		now:      time.Now,
	}
}

// Submit registers a queued job. users must be non-empty.
func (m *Manager) Submit(users []User, topN int) (Status, error) {
	j := &job{
		id:      uuid.New().String(),
		users:   append([]User(nil), users...),
		topN:    topN,
		state:   StateQueued,
		created: m.now(),
	}

	m.mu.Lock()
	select {
	case m.queue <- j.id:
	default:
		m.mu.Unlock()
		return Status{}, ErrQueueFull
	}
	m.jobs[j.id] = j
	s := j.status()
	m.mu.Unlock()

	metrics.JobsQueued.Inc()
	logging.Info().Str("job_id", j.id).Int("users", len(users)).Int("top_n", topN).Msg("Job queued")
	return s, nil
}

// Get returns a job's status.
func (m *Manager) Get(id string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return Status{}, ErrNotFound
	}
	return j.status(), nil
}

// Results returns the output rows of a completed job.
func (m *Manager) Results(id string) ([]map[string]interface{}, Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, Status{}, ErrNotFound
	}
	if j.state != StateCompleted {
		return nil, j.status(), ErrNotCompleted
	}
	return j.results, j.status(), nil
}

// List returns every job, oldest first.
func (m *Manager) List() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.status())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].JobID < out[b].JobID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

// Delete removes a job and its results. A processing job is canceled
// between rows. Watchers are closed.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.jobs, id)
	if j.cancel != nil {
		j.cancel()
	}
	m.closeWatchersLocked(id)
	m.mu.Unlock()

	logging.Info().Str("job_id", id).Str("status", string(j.state)).Msg("Job deleted")
	return true
}

// Watch returns a channel of status snapshots for id. The current status is
// delivered first. The channel is closed when the job reaches a terminal
// state, is deleted, or stop is called.
func (m *Manager) Watch(id string) (<-chan Status, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, nil, ErrNotFound
	}

	ch := make(chan Status, watcherBuffer)
	ch <- j.status()
	if j.state.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}

	set := m.watchers[id]
	if set == nil {
		set = make(map[chan Status]struct{})
		m.watchers[id] = set
	}
	set[ch] = struct{}{}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if set, ok := m.watchers[id]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
			}
		})
	}
	return ch, stop, nil
}

// next blocks until a queued job is available and marks it processing. Jobs
// deleted while queued are skipped. The returned context is canceled when
// the job is deleted.
func (m *Manager) next(ctx context.Context) (*job, context.Context, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case id := <-m.queue:
			metrics.JobsQueued.Dec()

			m.mu.Lock()
			j, ok := m.jobs[id]
			if !ok {
				m.mu.Unlock()
				continue
			}
			jobCtx, cancel := context.WithCancel(ctx)
			j.cancel = cancel
			j.state = StateProcessing
			j.started = m.now()
			m.notifyLocked(j)
			m.mu.Unlock()

			return j, jobCtx, nil
		}
	}
}

func (m *Manager) updateProgress(id string, p pipeline.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok && !j.state.Terminal() {
		j.progress = p
		m.notifyLocked(j)
	}
}

func (m *Manager) complete(id string, t *table.Table, report *pipeline.RunReport) {
	results := make([]map[string]interface{}, 0, len(t.Rows))
	for _, row := range t.Rows {
		r := make(map[string]interface{}, len(t.Headers))
		for _, h := range t.Headers {
			if v, ok := row[h]; ok && v != nil {
				r[h] = v
			} else {
				r[h] = ""
			}
		}
		results = append(results, r)
	}

	m.finish(id, StateCompleted, func(j *job) {
		j.results = results
		j.progress = pipeline.Progress{
			Total:     report.Total,
			Processed: report.Processed,
			Succeeded: report.Succeeded,
			Failed:    report.Failed,
			Skipped:   report.Skipped,
		}
	})
}

func (m *Manager) fail(id string, err error) {
	m.finish(id, StateFailed, func(j *job) {
		j.err = err.Error()
	})
}

func (m *Manager) finish(id string, state State, update func(*job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.state.Terminal() {
		return
	}
	update(j)
	j.state = state
	j.completed = m.now()
	if j.cancel != nil {
		j.cancel()
		j.cancel = nil
	}
	m.notifyLocked(j)
	m.closeWatchersLocked(id)
	metrics.JobsTotal.WithLabelValues(string(state)).Inc()
}

// notifyLocked sends the job's status to every watcher without blocking.
// A slow watcher misses intermediate snapshots but never the terminal one:
// its oldest buffered snapshot is dropped to make room.
func (m *Manager) notifyLocked(j *job) {
	s := j.status()
	terminal := j.state.Terminal()
	for ch := range m.watchers[j.id] {
		select {
		case ch <- s:
			continue
		default:
		}
		if !terminal {
			continue
		}
		for {
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
				continue
			}
			break
		}
	}
}

func (m *Manager) closeWatchersLocked(id string) {
	for ch := range m.watchers[id] {
		close(ch)
	}
	delete(m.watchers, id)
}
