package jobstore

import (
	"sync"
	"time"

	"github.com/you-humble/loggenie/internal/domain"
)

// memoryJobStore keeps every job record in process memory. Records are stored
// by value, so readers never observe a partially applied mutation.
type memoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

func NewMemoryJobStore() *memoryJobStore {
	return &memoryJobStore{jobs: make(map[string]domain.Job)}
}

func (s *memoryJobStore) Put(job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return domain.ErrDuplicateJob
	}
	s.jobs[job.ID] = job

	return nil
}

func (s *memoryJobStore) Get(id string) (domain.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	return job, ok
}

func (s *memoryJobStore) List() []domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}

	return out
}

func (s *memoryJobStore) Delete(id string) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}

	return job, ok
}

// Finish applies fn to a copy of the job and stores the result, but only
// while the job is still processing. It reports false when the job is gone
// or already terminal, in which case nothing changes.
func (s *memoryJobStore) Finish(id string, fn func(*domain.Job)) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != domain.StatusProcessing {
		return domain.Job{}, false
	}

	fn(&job)
	if job.Status == domain.StatusProcessing {
		return domain.Job{}, false
	}
	s.jobs[id] = job

	return job, true
}

// Expired returns terminal jobs that completed more than ttl before now.
func (s *memoryJobStore) Expired(now time.Time, ttl time.Duration) []domain.Job {
	cutoff := now.Add(-ttl)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Job
	for _, job := range s.jobs {
		if !job.Status.Terminal() || job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.Before(cutoff) {
			out = append(out, job)
		}
	}

	return out
}
