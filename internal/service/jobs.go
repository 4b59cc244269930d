package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"bookrag/internal/extract"
)

// IndexDirectory indexes every matching document under dir with a bounded
// worker pool. A document that fails is logged and skipped; the returned
// titles are those indexed successfully, in discovery order, without
// duplicates. When ctx is
// cancelled no further documents are started, finished ones stay persisted,
// and the context error is returned with the partial list.
func (m *RAGManager) IndexDirectory(ctx context.Context, dir string, chunkSize, overlap int) ([]string, error) {
	paths, err := extract.Discover(dir, m.extensions, m.logger)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		m.logger.Info("no documents found", "dir", dir)
		return nil, nil
	}
	m.logger.Info("indexing directory", "dir", dir, "documents", len(paths), "workers", m.workers)

	titles := make([]string, len(paths))
	var g errgroup.Group
	g.SetLimit(m.workers)
	for i, p := range paths {
		i, p := i, p
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			title, err := m.IndexDocument(ctx, p, chunkSize, overlap)
			if err != nil {
				m.logger.Error("index document failed", "path", p, "error", err)
				return nil
			}
			titles[i] = title
			return nil
		})
	}
	_ = g.Wait()

	// Several files may carry the same title; the last save wins and the
	// title is reported once.
	out := make([]string, 0, len(titles))
	seen := make(map[string]bool, len(titles))
	for _, t := range titles {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, ctx.Err()
}

// JobState is the lifecycle state of a background indexing job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// JobStatus is a snapshot of a Job.
type JobStatus struct {
	ID         string
	Dir        string
	State      JobState
	Titles     []string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Job is a directory indexing run on a background goroutine.
type Job struct {
	id      string
	dir     string
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}

	mu       sync.Mutex
	state    JobState
	titles   []string
	err      error
	finished time.Time
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Done is closed when the job finishes.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel asks the job to stop after the documents already in progress.
func (j *Job) Cancel() { j.cancel() }

// Wait blocks until the job finishes and returns its result.
func (j *Job) Wait() ([]string, error) {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.titles...), j.err
}

// Status returns a snapshot of the job.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := JobStatus{
		ID:         j.id,
		Dir:        j.dir,
		State:      j.state,
		Titles:     append([]string(nil), j.titles...),
		StartedAt:  j.started,
		FinishedAt: j.finished,
	}
	if j.err != nil {
		st.Error = j.err.Error()
	}
	return st
}

// StartIndexDirectory runs IndexDirectory in the background. Searches keep
// working against already loaded books while it runs.
func (m *RAGManager) StartIndexDirectory(ctx context.Context, dir string, chunkSize, overlap int) *Job {
	jctx, cancel := context.WithCancel(ctx)
	j := &Job{
		id:      uuid.NewString(),
		dir:     dir,
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   JobRunning,
	}
	m.jobsMu.Lock()
	m.jobs[j.id] = j
	m.jobsMu.Unlock()

	go func() {
		defer cancel()
		titles, err := m.IndexDirectory(jctx, dir, chunkSize, overlap)
		j.mu.Lock()
		j.titles, j.err, j.finished = titles, err, time.Now()
		switch {
		case err == nil:
			j.state = JobSucceeded
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			j.state = JobCancelled
		default:
			j.state = JobFailed
		}
		j.mu.Unlock()
		close(j.done)
		m.logger.Info("indexing job finished", "job", j.id, "state", j.state, "books", len(titles))
	}()
	return j
}

// Job looks up a job started by StartIndexDirectory.
func (m *RAGManager) Job(id string) (*Job, bool) {
	m.jobsMu.Lock()
	defer m.jobsMu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

// Jobs returns a snapshot of all jobs, oldest first.
func (m *RAGManager) Jobs() []JobStatus {
	m.jobsMu.Lock()
	list := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		list = append(list, j)
	}
	m.jobsMu.Unlock()
	out := make([]JobStatus, len(list))
	for i, j := range list {
		out[i] = j.Status()
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.Before(out[b].StartedAt) })
	return out
}
