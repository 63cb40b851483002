package pool

import (
	"fmt"
	"sync"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
)

// Default selection margins.
const (
	DefaultReserveMargin = 0.10
	DefaultComfortMargin = 0.50
)

// SelectorConfig holds the free-fraction thresholds used for write selection.
type SelectorConfig struct {
	// ReserveMargin excludes accounts whose free fraction is below it.
	ReserveMargin float64
	// ComfortMargin marks accounts preferred over the rest.
	ComfortMargin float64
}

// Selector picks the account for each write. It also tracks bytes of
// in-flight writes per account so concurrent callers see each other's
// pending uploads before the usage counter catches up.
type Selector struct {
	reserve float64
	comfort float64

	mu       sync.Mutex
	inflight map[string]int64
}

// NewSelector creates a selector. Zero margins fall back to the defaults.
func NewSelector(cfg SelectorConfig) *Selector {
	if cfg.ReserveMargin <= 0 {
		cfg.ReserveMargin = DefaultReserveMargin
	}
	if cfg.ComfortMargin <= 0 {
		cfg.ComfortMargin = DefaultComfortMargin
	}
	if cfg.ComfortMargin < cfg.ReserveMargin {
		cfg.ComfortMargin = cfg.ReserveMargin
	}
	return &Selector{
		reserve:  cfg.ReserveMargin,
		comfort:  cfg.ComfortMargin,
		inflight: make(map[string]int64),
	}
}

// Select returns the account a write of sizeHint bytes should go to.
//
// Accounts below the reserve margin are excluded. Accounts at or above the
// comfort margin are preferred; within a tier the account with the most free
// bytes wins, ties broken by ascending id.
func (s *Selector) Select(accounts []*model.StorageAccount, sizeHint int64) (*model.StorageAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(accounts, sizeHint)
}

// Reserve selects an account and records sizeHint as in flight against it
// until release is called.
func (s *Selector) Reserve(accounts []*model.StorageAccount, sizeHint int64) (*model.StorageAccount, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.selectLocked(accounts, sizeHint)
	if err != nil {
		return nil, nil, err
	}

	id := account.ID
	s.inflight[id] += sizeHint

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.inflight[id] -= sizeHint
			if s.inflight[id] <= 0 {
				delete(s.inflight, id)
			}
		})
	}
	return account, release, nil
}

func (s *Selector) selectLocked(accounts []*model.StorageAccount, sizeHint int64) (*model.StorageAccount, error) {
	var comfortable, eligible *model.StorageAccount
	var comfortableFree, eligibleFree int64

	for _, a := range accounts {
		if a == nil || !a.Active || a.CapacityBytes <= 0 {
			continue
		}

		view := *a
		view.UsedBytes += s.inflight[a.ID]
		free := view.FreeBytes()
		frac := view.FreeFraction()

		if frac < s.reserve || free < sizeHint {
			continue
		}
		if frac >= s.comfort && better(a, free, comfortable, comfortableFree) {
			comfortable, comfortableFree = a, free
		}
		if better(a, free, eligible, eligibleFree) {
			eligible, eligibleFree = a, free
		}
	}

	if comfortable != nil {
		return comfortable, nil
	}
	if eligible != nil {
		return eligible, nil
	}
	return nil, fmt.Errorf("%w: no account above %.0f%% free for %d bytes",
		repository.ErrPoolExhausted, s.reserve*100, sizeHint)
}

func better(a *model.StorageAccount, free int64, best *model.StorageAccount, bestFree int64) bool {
	if best == nil {
		return true
	}
	if free != bestFree {
		return free > bestFree
	}
	return a.ID < best.ID
}

// Inflight returns the bytes currently reserved against an account.
func (s *Selector) Inflight(id string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[id]
}
