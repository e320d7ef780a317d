package flywheel

import (
	"log"
	"sync"
	"time"

	"github.com/stellarlinkco/briefops/internal/store"
)

// Store is the persistence surface the flywheel writes to and mines.
type Store interface {
	UpsertMemory(userID, key, value, source string, confidence float64) error
	ActivitySince(userID string, since time.Time) ([]store.ActivityLogEntry, error)
}

// Service runs feedback extraction off the approval path. Extraction failure
// is logged and swallowed; it never blocks an approval.
type Service struct {
	store   Store
	jobs    chan Approval
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

func NewService(store Store) *Service {
	return &Service{
		store:  store,
		jobs:   make(chan Approval, 64),
		stopCh: make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stopCh:
				// Drain what is already queued before exiting.
				for {
					select {
					case a := <-s.jobs:
						s.process(a)
					default:
						return
					}
				}
			case a := <-s.jobs:
				s.process(a)
			}
		}
	}()
}

func (s *Service) Stop() {
	s.mu.Lock()
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// OnApproval enqueues feedback extraction for one approval. The queue is
// bounded; when full the approval is dropped with a log line rather than
// blocking the caller.
func (s *Service) OnApproval(a Approval) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		s.process(a)
		return
	}

	select {
	case s.jobs <- a:
	default:
		log.Printf("[flywheel] extraction queue full, dropping approval for deliverable %s", a.DeliverableID)
	}
}

func (s *Service) process(a Approval) {
	for _, ext := range ExtractFeedback(a) {
		if err := s.store.UpsertMemory(a.UserID, ext.Key, ext.Value, "feedback", ext.Confidence); err != nil {
			log.Printf("[flywheel] upsert feedback memory %s: %v", ext.Key, err)
		}
	}
}

// RunDailyPatterns mines the trailing activity window for one user and
// upserts one memory per satisfied rule. Errors are logged and swallowed so
// the daily job keeps moving through its user set.
func (s *Service) RunDailyPatterns(userID string, now time.Time) {
	entries, err := s.store.ActivitySince(userID, PatternWindowStart(now))
	if err != nil {
		log.Printf("[flywheel] load activity for %s: %v", userID, err)
		return
	}
	for _, ext := range DetectPatterns(entries) {
		if err := s.store.UpsertMemory(userID, ext.Key, ext.Value, "pattern", ext.Confidence); err != nil {
			log.Printf("[flywheel] upsert pattern memory %s: %v", ext.Key, err)
		}
	}
}
