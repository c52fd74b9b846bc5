package orchestrator

import (
	"github.com/binh234/video2slides/internal/syncx"
)

type jobTable struct {
	jobs  map[string]*Job
	order []string
}

// Store keeps recent jobs in memory and fans out job events.
type Store struct {
	table    *syncx.Guard[jobTable]
	maxSize  int
	eventsCh chan Event
}

// NewStore creates a store holding at most maxJobs jobs.
func NewStore(maxJobs, eventBuffer int) *Store {
	return &Store{
		table:    syncx.NewGuard(jobTable{jobs: make(map[string]*Job)}),
		maxSize:  maxJobs,
		eventsCh: make(chan Event, eventBuffer),
	}
}

// Add stores a new job. The oldest finished jobs are evicted past the limit;
// queued and running jobs are never evicted.
func (s *Store) Add(job Job) {
	s.table.Write(func(t *jobTable) {
		j := job
		t.jobs[j.ID] = &j
		t.order = append(t.order, j.ID)

		for i := 0; len(t.order) > s.maxSize && i < len(t.order); {
			id := t.order[i]
			if !t.jobs[id].Status.Finished() {
				i++
				continue
			}
			delete(t.jobs, id)
			t.order = append(t.order[:i], t.order[i+1:]...)
		}
	})
}

// Get returns a copy of the job with the given id.
func (s *Store) Get(id string) (Job, bool) {
	var (
		out Job
		ok  bool
	)
	s.table.View(func(t jobTable) {
		if j, found := t.jobs[id]; found {
			out, ok = j.clone(), true
		}
	})
	return out, ok
}

// Update applies fn to the stored job and returns the updated copy.
func (s *Store) Update(id string, fn func(*Job)) (Job, bool) {
	var (
		out Job
		ok  bool
	)
	s.table.Write(func(t *jobTable) {
		j, found := t.jobs[id]
		if !found {
			return
		}
		fn(j)
		out, ok = j.clone(), true
	})
	return out, ok
}

// List returns copies of the stored jobs, oldest first.
func (s *Store) List() []Job {
	return syncx.Read(s.table, func(t jobTable) []Job {
		out := make([]Job, 0, len(t.order))
		for _, id := range t.order {
			out = append(out, t.jobs[id].clone())
		}
		return out
	})
}

// Events returns the channel for job events.
func (s *Store) Events() <-chan Event {
	return s.eventsCh
}

// Emit sends a job event (non-blocking).
func (s *Store) Emit(event Event) {
	select {
	case s.eventsCh <- event:
	default:
	}
}
