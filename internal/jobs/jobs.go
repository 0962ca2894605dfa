// Package jobs tracks background pipeline runs started from the web API.
// Records live in memory, concurrency is bounded and finished records
// expire after a TTL.
package jobs

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forPelevin/ytclipper/internal/events"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

const (
	outputLines     = 50
	eventBuffer     = 64
	defaultMaxJobs  = 2
	defaultTTL      = time.Hour
	janitorInterval = 5 * time.Minute

	queuedMessage   = "Queued (waiting for a worker slot)"
	startingMessage = "Starting..."
)

// RunFunc performs one pipeline run, reporting progress on ch. It must not
// close ch.
type RunFunc func(ctx context.Context, ch chan<- events.Event) error

// Job is a point-in-time copy of a job record.
type Job struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	Step       int       `json:"step"`
	TotalSteps int       `json:"total_steps"`
	Message    string    `json:"message"`
	Output     []string  `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// OutputText joins the retained output lines.
func (j Job) OutputText() string { return strings.Join(j.Output, "\n") }

func (j Job) Finished() bool { return j.Status != StatusRunning }

type record struct {
	job  Job
	done chan struct{}
}

type Options struct {
	MaxConcurrent int
	TTL           time.Duration
	Bus           *events.Bus
	Logger        *slog.Logger
	Now           func() time.Time
}

type Manager struct {
	mu   sync.Mutex
	jobs map[string]*record

	sem chan struct{}
	ttl time.Duration
	bus *events.Bus
	log *slog.Logger
	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxJobs
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		jobs:   make(map[string]*record),
		sem:    make(chan struct{}, opts.MaxConcurrent),
		ttl:    opts.TTL,
		bus:    opts.Bus,
		log:    opts.Logger,
		now:    opts.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers a job and runs it in the background once a worker slot
// is free. It returns the job ID immediately.
func (m *Manager) Start(run RunFunc) string {
	id := newID()
	now := m.now()
	rec := &record{
		job: Job{
			ID:         id,
			Status:     StatusRunning,
			TotalSteps: events.TotalStages,
			Message:    queuedMessage,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.jobs[id] = rec
	m.mu.Unlock()

	m.wg.Add(1)
	go m.worker(rec, run)
	return id
}

func newID() string {
	return uuid.NewString()[:8]
}

func (m *Manager) worker(rec *record, run RunFunc) {
	defer m.wg.Done()
	defer close(rec.done)
	id := rec.job.ID

	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-m.ctx.Done():
		m.finish(id, m.ctx.Err(), false)
		return
	}

	m.markStarted(id)
	m.log.Info("job started", "job_id", id)
	ch := make(chan events.Event, eventBuffer)
	consumed := make(chan struct{})
	sawTerminal := false
	go func() {
		defer close(consumed)
		for e := range ch {
			e.JobID = id
			m.apply(id, e)
			m.bus.Publish(e)
			if e.Terminal() {
				sawTerminal = true
			}
		}
	}()

	err := run(m.ctx, ch)
	close(ch)
	<-consumed
	m.finish(id, err, sawTerminal)
}

func (m *Manager) markStarted(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.jobs[id]; ok {
		rec.job.Message = startingMessage
		rec.job.UpdatedAt = m.now()
	}
}

func (m *Manager) apply(id string, e events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return
	}
	j := &rec.job
	if e.Stage != events.StageNone {
		j.Step = int(e.Stage)
	}
	if e.Kind != events.KindLog {
		j.Message = e.Message
	}
	if line := e.Line(); line != "" {
		j.Output = append(j.Output, line)
		if len(j.Output) > outputLines {
			j.Output = append([]string(nil), j.Output[len(j.Output)-outputLines:]...)
		}
	}
	j.UpdatedAt = m.now()
}

// finish records the outcome. A terminal event is published unless the run
// already sent one.
func (m *Manager) finish(id string, err error, announced bool) {
	m.mu.Lock()
	rec, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	j := &rec.job
	now := m.now()
	j.UpdatedAt = now
	j.FinishedAt = now
	if err != nil {
		j.Status = StatusError
		j.Message = "Error: " + err.Error()
	} else {
		j.Status = StatusDone
		j.Step = events.TotalStages
		j.Message = "Automation complete!"
	}
	status := j.Status
	m.mu.Unlock()

	if err != nil {
		m.log.Error("job failed", "job_id", id, "err", err)
	} else {
		m.log.Info("job finished", "job_id", id)
	}
	if announced {
		return
	}
	m.bus.Publish(events.Event{
		Timestamp: now,
		JobID:     id,
		Kind:      terminalKind(status),
		Message:   "job " + string(status),
	})
}

func terminalKind(s Status) events.Kind {
	if s == StatusDone {
		return events.KindRunDone
	}
	return events.KindRunFailed
}

// Get returns a copy of the job record.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	j := rec.job
	j.Output = append([]string(nil), rec.job.Output...)
	return j, true
}

// Done returns a channel closed when the job has finished, or nil for an
// unknown ID.
func (m *Manager) Done(id string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.jobs[id]; ok {
		return rec.done
	}
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Sweep removes finished jobs whose FinishedAt is older than the TTL and
// returns how many were removed.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.jobs {
		if rec.job.Finished() && now.Sub(rec.job.FinishedAt) > m.ttl {
			delete(m.jobs, id)
			n++
		}
	}
	return n
}

// RunJanitor sweeps periodically until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = janitorInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.log.Info("janitor evicted finished jobs", "count", n)
			}
		}
	}
}

// Close cancels running jobs and waits for their workers to exit.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
