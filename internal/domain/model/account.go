package model

import "time"

// StorageAccount is one credentialed identity on the backing object store.
// UsedBytes is advisory: it is bumped on each successful upload and
// overwritten by periodic reconciliation against the provider.
type StorageAccount struct {
	ID            string
	CapacityBytes int64
	UsedBytes     int64
	Active        bool
	ReconciledAt  time.Time
	UpdatedAt     time.Time
}

// FreeBytes returns capacity minus used, floored at zero.
func (a StorageAccount) FreeBytes() int64 {
	free := a.CapacityBytes - a.UsedBytes
	if free < 0 {
		return 0
	}
	return free
}

// FreeFraction returns the free share of capacity in [0, 1].
func (a StorageAccount) FreeFraction() float64 {
	if a.CapacityBytes <= 0 {
		return 0
	}
	return float64(a.FreeBytes()) / float64(a.CapacityBytes)
}
