package dag

import (
	"sync"

	"github.com/iotaledger/hive.go/ierrors"

	"tangle-core/models"
	"tangle-core/repository"
)

// SolidEntryPoints are pruned ancestors that are treated as solid and confirmed. Each one
// remembers the milestone index that confirmed it, which also serves as its tip selection bounds.
type SolidEntryPoints struct {
	mu     sync.RWMutex
	points map[models.MessageID]models.MilestoneIndex
	repo   repository.MessageRepositoryInterface
}

// NewSolidEntryPoints creates an empty set; repo may be nil.
func NewSolidEntryPoints(repo repository.MessageRepositoryInterface) *SolidEntryPoints {
	return &SolidEntryPoints{
		points: make(map[models.MessageID]models.MilestoneIndex),
		repo:   repo,
	}
}

func (s *SolidEntryPoints) Add(id models.MessageID, index models.MilestoneIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.PutSolidEntryPoint(id, index); err != nil {
			return ierrors.Wrapf(err, "failed to store solid entry point %s", id)
		}
	}
	s.points[id] = index
	return nil
}

func (s *SolidEntryPoints) Remove(id models.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.DeleteSolidEntryPoint(id); err != nil {
			return ierrors.Wrapf(err, "failed to delete solid entry point %s", id)
		}
	}
	delete(s.points, id)
	return nil
}

func (s *SolidEntryPoints) Contains(id models.MessageID) bool {
	_, ok := s.Index(id)
	return ok
}

// Index returns the milestone index the entry point was confirmed by.
func (s *SolidEntryPoints) Index(id models.MessageID) (models.MilestoneIndex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, ok := s.points[id]
	return index, ok
}

func (s *SolidEntryPoints) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.points)
}

// Load replaces the in-memory set with the stored one.
func (s *SolidEntryPoints) Load() error {
	if s.repo == nil {
		return nil
	}
	points, err := s.repo.SolidEntryPoints()
	if err != nil {
		return ierrors.Wrap(err, "failed to load solid entry points")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = points
	return nil
}
