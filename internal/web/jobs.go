package web

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Job represents one async download job.
type Job struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	ExitCode    int       `json:"exit_code,omitempty"`
	Error       string    `json:"error,omitempty"`

	mu sync.RWMutex `json:"-"`
}

// jobTracker manages active download jobs.
type jobTracker struct {
	jobs    sync.Map
	counter atomic.Int64
}

const (
	jobCompletedTTL    = 15 * time.Minute
	jobErroredTTL      = 30 * time.Minute
	jobCleanupInterval = time.Minute
)

func (jt *jobTracker) Create(url string) *Job {
	job := &Job{
		ID:        fmt.Sprintf("job_%d", jt.counter.Add(1)),
		Status:    "queued",
		URL:       url,
		CreatedAt: time.Now(),
	}
	jt.jobs.Store(job.ID, job)
	return job
}

func (jt *jobTracker) Get(id string) (*Job, bool) {
	v, ok := jt.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

func (jt *jobTracker) List() []*Job {
	var jobs []*Job
	jt.jobs.Range(func(_, v any) bool {
		if j, ok := v.(*Job); ok {
			jobs = append(jobs, j)
		}
		return true
	})
	return jobs
}

func (jt *jobTracker) ActiveCount() int {
	count := 0
	jt.jobs.Range(func(_, v any) bool {
		if j, ok := v.(*Job); ok && j.isActive() {
			count++
		}
		return true
	})
	return count
}

func (jt *jobTracker) RemoveExpired(now time.Time, completedTTL, erroredTTL time.Duration) int {
	removed := 0
	jt.jobs.Range(func(key, value any) bool {
		job, ok := value.(*Job)
		if !ok {
			return true
		}
		if job.isExpired(now, completedTTL, erroredTTL) {
			jt.jobs.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

func (jt *jobTracker) StartCleanup(ctx context.Context, interval, completedTTL, erroredTTL time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				jt.RemoveExpired(now, completedTTL, erroredTTL)
			}
		}
	}()
}

func (j *Job) isActive() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == "queued" || j.Status == "running"
}

func (j *Job) SetStatus(status string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	if status == "complete" || status == "error" {
		j.CompletedAt = time.Now()
	}
}

func (j *Job) SetOutcome(exitCode int, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ExitCode = exitCode
	if err != nil {
		j.Error = err.Error()
		j.Status = "error"
	} else {
		j.Status = "complete"
	}
	j.CompletedAt = time.Now()
}

// Snapshot returns a copy safe to serialize while workers update the job.
func (j *Job) Snapshot() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Job{
		ID:          j.ID,
		Status:      j.Status,
		URL:         j.URL,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
		ExitCode:    j.ExitCode,
		Error:       j.Error,
	}
}

func (j *Job) isExpired(now time.Time, completedTTL, erroredTTL time.Duration) bool {
	j.mu.RLock()
	status := j.Status
	completedAt := j.CompletedAt
	j.mu.RUnlock()

	if completedAt.IsZero() {
		return false
	}
	switch status {
	case "complete":
		return completedTTL > 0 && now.Sub(completedAt) > completedTTL
	case "error":
		return erroredTTL > 0 && now.Sub(completedAt) > erroredTTL
	default:
		return false
	}
}
