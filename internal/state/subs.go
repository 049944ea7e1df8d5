package state

import (
	"sort"
	"sync"

	"fxgateway/models"
)

// SubscriptionSet is the set of instruments currently requested from the
// feed. It grows at start and via Add; it never shrinks.
type SubscriptionSet struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{set: make(map[string]struct{})}
}

// Add returns the instruments that were not already present.
func (s *SubscriptionSet) Add(instruments ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := make([]string, 0, len(instruments))
	for _, in := range instruments {
		if _, ok := s.set[in]; !ok {
			s.set[in] = struct{}{}
			added = append(added, in)
		}
	}
	return added
}

func (s *SubscriptionSet) Contains(instrument string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[instrument]
	return ok
}

func (s *SubscriptionSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.set))
	for in := range s.set {
		names = append(names, in)
	}
	sort.Strings(names)
	return names
}

func (s *SubscriptionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set)
}

// PeriodSet is the immutable-after-start set of periods bars are tracked for.
type PeriodSet struct {
	set map[models.Period]struct{}
}

func NewPeriodSet(periods []models.Period) *PeriodSet {
	set := make(map[models.Period]struct{}, len(periods))
	for _, p := range periods {
		set[p] = struct{}{}
	}
	return &PeriodSet{set: set}
}

func (p *PeriodSet) Contains(period models.Period) bool {
	_, ok := p.set[period]
	return ok
}

func (p *PeriodSet) Periods() []models.Period {
	out := make([]models.Period, 0, len(p.set))
	for period := range p.set {
		out = append(out, period)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
