package workflow

import (
	"time"

	c "github.com/patrickmn/go-cache"

	"github.com/veka-server/ClaraVerse-sub006/services/flow"
)

// RunStore keeps finished runs queryable for a limited time. It is
// in-memory only; runs are lost on restart.
type RunStore struct {
	cache *c.Cache
	ttl   time.Duration
}

// NewRunStore creates a store whose entries expire after ttl.
func NewRunStore(ttl time.Duration) *RunStore {
	return &RunStore{
		cache: c.New(ttl, 10*time.Minute),
		ttl:   ttl,
	}
}

func (s *RunStore) Save(run *flow.RunResult) {
	s.cache.Set(run.RunID, run, s.ttl)
}

func (s *RunStore) Get(runID string) (*flow.RunResult, bool) {
	v, found := s.cache.Get(runID)
	if !found {
		return nil, false
	}
	run, ok := v.(*flow.RunResult)
	return run, ok
}
