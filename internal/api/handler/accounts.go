package handler

import (
	"context"
	"net/http"

	"github.com/hszk-dev/mediapool/internal/pool"
)

// PoolAdmin is the operator view of the storage pool.
type PoolAdmin interface {
	Usage(ctx context.Context) ([]pool.AccountUsage, error)
	ReconcileUsage(ctx context.Context) error
}

// AccountReloader re-reads the account credentials source.
type AccountReloader interface {
	Reload(ctx context.Context) (pool.ReloadResult, error)
}

// AccountHandler handles storage account administration.
type AccountHandler struct {
	pool     PoolAdmin
	reloader AccountReloader
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(p PoolAdmin, reloader AccountReloader) *AccountHandler {
	return &AccountHandler{pool: p, reloader: reloader}
}

// Usage handles GET /accounts/usage
func (h *AccountHandler) Usage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.pool.Usage(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	Success(w, http.StatusOK, usage)
}

// Reload handles POST /accounts/reload
func (h *AccountHandler) Reload(w http.ResponseWriter, r *http.Request) {
	result, err := h.reloader.Reload(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	Success(w, http.StatusOK, result)
}

// Reconcile handles POST /accounts/reconcile
func (h *AccountHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.ReconcileUsage(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.Usage(w, r)
}
