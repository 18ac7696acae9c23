package core

// jobs.go runs Process in the background for transports that cannot hold a
// request open for the length of an import.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// jobRetention is how long finished jobs stay queryable.
var jobRetention = 30 * time.Minute

// JobState is the lifecycle phase of a background job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobSkipped   JobState = "skipped"
	JobFailed    JobState = "failed"
)

// Job tracks one background Process call.
type Job struct {
	ID         uuid.UUID
	Descriptor Descriptor
	Submitted  time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	state    JobState
	result   *ProcessResult
	err      error
	finished time.Time
}

// JobStatus is a point-in-time copy of a job.
type JobStatus struct {
	ID         uuid.UUID      `json:"id"`
	Descriptor Descriptor     `json:"descriptor"`
	State      JobState       `json:"state"`
	Submitted  time.Time      `json:"submitted"`
	Finished   *time.Time     `json:"finished,omitempty"`
	Result     *ProcessResult `json:"result,omitempty"`
	Error      *UserMessage   `json:"error,omitempty"`
}

// Status returns a snapshot of the job.
func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()

	st := JobStatus{
		ID:         j.ID,
		Descriptor: j.Descriptor,
		State:      j.state,
		Submitted:  j.Submitted,
		Result:     j.result,
	}
	if !j.finished.IsZero() {
		finished := j.finished
		st.Finished = &finished
	}
	if j.err != nil {
		msg := MapError(j.err)
		st.Error = &msg
	}
	return st
}

// Done is closed when the job finishes.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) setState(state JobState) {
	j.mu.Lock()
	j.state = state
	j.mu.Unlock()
}

func (j *Job) finish(result *ProcessResult, err error, at time.Time) {
	j.mu.Lock()
	j.result = result
	j.err = err
	j.finished = at
	switch {
	case err != nil:
		j.state = JobFailed
	case result.Status == RunSkipped:
		j.state = JobSkipped
	default:
		j.state = JobCompleted
	}
	j.mu.Unlock()
	close(j.done)
}

// Submit starts Process for d in the background and returns immediately.
// Unknown dataset types are rejected synchronously.
func (s *Service) Submit(d Descriptor) (*Job, error) {
	if _, ok := Get(d.Type); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, d.Type)
	}

	ctx, cancel := context.WithCancel(s.jobsCtx)
	job := &Job{
		ID:         s.newID(),
		Descriptor: d,
		Submitted:  s.now(),
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      JobQueued,
	}

	// Add under the same lock Shutdown takes so no job starts after Wait.
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		cancel()
		return nil, ErrShuttingDown
	}
	s.jobs[job.ID] = job
	s.running.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.running.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in import job",
					"job_id", job.ID,
					"dataset_type", d.Type,
					"panic", r,
				)
				job.finish(nil, fmt.Errorf("internal error: %v", r), s.now())
			}
			s.cleanup(job.ID, jobRetention)
		}()

		job.setState(JobRunning)
		result, err := s.Process(ctx, d)
		job.finish(result, err, s.now())
	}()

	return job, nil
}

// Job returns a submitted job.
func (s *Service) Job(id uuid.UUID) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// CancelJob cancels a running job. Nothing is committed for a cancelled job.
func (s *Service) CancelJob(id uuid.UUID) error {
	job, err := s.Job(id)
	if err != nil {
		return err
	}
	job.cancel()
	return nil
}

// cleanup forgets a finished job after delay.
func (s *Service) cleanup(id uuid.UUID, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.jobs, id)
		s.mu.Unlock()
	})
}

// Shutdown stops accepting jobs and waits for submitted jobs and any other
// running imports to finish. When ctx ends first the remaining jobs are
// cancelled and Shutdown returns once they have unwound; nothing of theirs
// is committed.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.running.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		s.stopJobs()
		<-finished
		return fmt.Errorf("waiting for import jobs: %w", ctx.Err())
	}
	return s.limiter.WaitForDrain(ctx)
}

// ActiveJobs returns the number of submitted jobs that have not finished.
func (s *Service) ActiveJobs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, job := range s.jobs {
		select {
		case <-job.done:
		default:
			n++
		}
	}
	return n
}
