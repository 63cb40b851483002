// Package pool treats several quota-limited storage accounts as one store.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
	"github.com/hszk-dev/mediapool/internal/infrastructure/metrics"
)

const reconcileConcurrency = 4

// Config holds pool manager settings.
type Config struct {
	Selector SelectorConfig
	Retry    RetryConfig
}

// AccountUsage is the operator view of one account.
type AccountUsage struct {
	ID          string  `json:"id"`
	Usage       int64   `json:"usage"`
	Limit       int64   `json:"limit"`
	PercentFree float64 `json:"percentFree"`
	Active      bool    `json:"active"`
	Connected   bool    `json:"connected"`
}

// Manager is the storage pool. Every method resolves account clients through
// the registry at call time.
type Manager struct {
	registry *Registry
	accounts repository.AccountRepository
	selector *Selector
	retry    *retrier
	now      func() time.Time
}

// NewManager creates a pool manager.
func NewManager(registry *Registry, accounts repository.AccountRepository, cfg Config) *Manager {
	return &Manager{
		registry: registry,
		accounts: accounts,
		selector: NewSelector(cfg.Selector),
		retry:    newRetrier(cfg.Retry),
		now:      time.Now,
	}
}

// SelectAccountForWrite reports which account a write of sizeHint bytes
// would currently go to, without reserving it.
func (m *Manager) SelectAccountForWrite(ctx context.Context, sizeHint int64) (*model.StorageAccount, error) {
	candidates, err := m.writableAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return m.selector.Select(candidates, sizeHint)
}

// Put uploads a local file to the selected account and bumps that
// account's usage counter by the file size. Every failure wraps
// repository.ErrUploadFailed; callers must not assume partial success.
func (m *Manager) Put(ctx context.Context, localPath, mediaType, name string) (model.BlobRef, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return model.BlobRef{}, fmt.Errorf("%w: stat source: %w", repository.ErrUploadFailed, err)
	}
	size := info.Size()

	candidates, err := m.writableAccounts(ctx)
	if err != nil {
		return model.BlobRef{}, fmt.Errorf("%w: %w", repository.ErrUploadFailed, err)
	}

	account, release, err := m.selector.Reserve(candidates, size)
	if err != nil {
		if errors.Is(err, repository.ErrPoolExhausted) {
			metrics.PoolExhaustedTotal.Inc()
			slog.Warn("storage pool exhausted", "size", size, "accounts", len(candidates))
		}
		return model.BlobRef{}, fmt.Errorf("%w: %w", repository.ErrUploadFailed, err)
	}
	defer release()

	e, ok := m.registry.get(account.ID)
	if !ok {
		return model.BlobRef{}, fmt.Errorf("%w: account %s: %w",
			repository.ErrUploadFailed, account.ID, repository.ErrAccountUnavailable)
	}

	key := objectKey(name)
	err = m.retry.do(ctx, e.limiter, func(ctx context.Context) error {
		f, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("open source: %w", err)
		}
		defer func() { _ = f.Close() }()
		return e.provider.Upload(ctx, key, f, size, mediaType)
	})
	observe(metrics.PoolOpPut, account.ID, err)
	if err != nil {
		return model.BlobRef{}, fmt.Errorf("%w: account %s: %w", repository.ErrUploadFailed, account.ID, err)
	}
	metrics.PoolBytesTotal.WithLabelValues(metrics.DirectionUpload).Add(float64(size))

	// The object is stored at this point; a failed counter update is
	// corrected by the next reconciliation rather than failing the put.
	used, err := m.accounts.AddUsage(ctx, account.ID, size)
	if err != nil {
		slog.Warn("failed to record account usage",
			"account_id", account.ID,
			"size", size,
			"error", err,
		)
	} else if account.CapacityBytes > 0 {
		updated := *account
		updated.UsedBytes = used
		metrics.AccountFreeRatio.WithLabelValues(account.ID).Set(updated.FreeFraction())
	}

	return model.BlobRef{AccountID: account.ID, RemoteID: key}, nil
}

// Get downloads a blob into destPath through a pending file, so destPath
// either keeps its previous content or holds the complete blob.
//
// If the recorded account does not have the object, every other connected
// account is probed once. The returned ref is where the blob was found.
func (m *Manager) Get(ctx context.Context, ref model.BlobRef, destPath string) (model.BlobRef, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return ref, fmt.Errorf("%w: create destination directory: %w", repository.ErrDownloadFailed, err)
	}

	err := m.download(ctx, ref, destPath)
	if err == nil {
		return ref, nil
	}
	if !isMissing(err) {
		return ref, fmt.Errorf("%w: %s: %w", repository.ErrDownloadFailed, ref, err)
	}

	slog.Warn("blob missing on recorded account, probing pool",
		"account_id", ref.AccountID,
		"remote_id", ref.RemoteID,
		"error", err,
	)

	found, err := m.probe(ctx, ref.RemoteID, ref.AccountID)
	if err != nil {
		return ref, err
	}
	if err := m.download(ctx, found, destPath); err != nil {
		return ref, fmt.Errorf("%w: %s: %w", repository.ErrDownloadFailed, found, err)
	}
	return found, nil
}

// Locate finds the account holding remoteID by probing every connected account.
func (m *Manager) Locate(ctx context.Context, remoteID string) (model.BlobRef, repository.ObjectInfo, error) {
	for _, id := range m.registry.IDs() {
		e, ok := m.registry.get(id)
		if !ok {
			continue
		}
		info, err := m.stat(ctx, e, remoteID)
		if err == nil {
			return model.BlobRef{AccountID: id, RemoteID: remoteID}, info, nil
		}
		if !errors.Is(err, repository.ErrObjectNotFound) {
			slog.Warn("probe failed", "account_id", id, "remote_id", remoteID, "error", err)
		}
	}
	return model.BlobRef{}, repository.ObjectInfo{}, fmt.Errorf("%w: %s", repository.ErrBlobNotFound, remoteID)
}

// Delete removes a blob. Failures are logged and otherwise ignored.
func (m *Manager) Delete(ctx context.Context, ref model.BlobRef) {
	if ref.IsZero() {
		return
	}
	e, ok := m.registry.get(ref.AccountID)
	if !ok {
		slog.Warn("cannot delete blob on unavailable account", "account_id", ref.AccountID, "remote_id", ref.RemoteID)
		return
	}

	var size int64
	if info, err := m.stat(ctx, e, ref.RemoteID); err == nil {
		size = info.Size
	}

	err := m.retry.do(ctx, e.limiter, func(ctx context.Context) error {
		return e.provider.Delete(ctx, ref.RemoteID)
	})
	observe(metrics.PoolOpDelete, ref.AccountID, err)
	if err != nil {
		slog.Warn("failed to delete blob",
			"account_id", ref.AccountID,
			"remote_id", ref.RemoteID,
			"error", err,
		)
		return
	}

	if size > 0 {
		if _, err := m.accounts.AddUsage(ctx, ref.AccountID, -size); err != nil {
			slog.Warn("failed to release account usage", "account_id", ref.AccountID, "error", err)
		}
	}
}

// PresignedURL returns a time-limited download link for a blob.
func (m *Manager) PresignedURL(ctx context.Context, ref model.BlobRef, expiry time.Duration) (string, error) {
	e, ok := m.registry.get(ref.AccountID)
	if !ok {
		return "", fmt.Errorf("account %s: %w", ref.AccountID, repository.ErrAccountUnavailable)
	}
	return e.provider.PresignedURL(ctx, ref.RemoteID, expiry)
}

// ReconcileUsage overwrites each connected account's usage counter with the
// provider's own figure. Accounts that fail are reported together; the rest
// are still updated.
func (m *Manager) ReconcileUsage(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(reconcileConcurrency)

	for _, id := range m.registry.IDs() {
		e, ok := m.registry.get(id)
		if !ok {
			continue
		}
		g.Go(func() error {
			var used int64
			err := m.retry.do(ctx, e.limiter, func(ctx context.Context) error {
				var err error
				used, err = e.provider.Usage(ctx)
				return err
			})
			observe(metrics.PoolOpUsage, id, err)
			if err == nil {
				err = m.accounts.SetUsage(ctx, id, used, m.now())
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("account %s: %w", id, err))
				mu.Unlock()
				return nil
			}

			view := model.StorageAccount{CapacityBytes: e.spec.CapacityBytes, UsedBytes: used}
			metrics.AccountFreeRatio.WithLabelValues(id).Set(view.FreeFraction())
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		slog.Error("usage reconciliation incomplete", "error", err)
		return err
	}
	slog.Info("usage reconciled", "accounts", len(m.registry.IDs()))
	return nil
}

// Usage lists every known account with its advisory counters.
func (m *Manager) Usage(ctx context.Context) ([]AccountUsage, error) {
	accounts, err := m.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	out := make([]AccountUsage, 0, len(accounts))
	for _, a := range accounts {
		_, connected := m.registry.get(a.ID)
		out = append(out, AccountUsage{
			ID:          a.ID,
			Usage:       a.UsedBytes,
			Limit:       a.CapacityBytes,
			PercentFree: math.Round(a.FreeFraction()*10000) / 100,
			Active:      a.Active,
			Connected:   connected,
		})
	}
	return out, nil
}

// Registry returns the account registry backing the pool.
func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) writableAccounts(ctx context.Context) ([]*model.StorageAccount, error) {
	accounts, err := m.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := accounts[:0]
	for _, a := range accounts {
		if _, ok := m.registry.get(a.ID); ok && a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Manager) download(ctx context.Context, ref model.BlobRef, destPath string) error {
	e, ok := m.registry.get(ref.AccountID)
	if !ok {
		return fmt.Errorf("account %s: %w", ref.AccountID, repository.ErrAccountUnavailable)
	}

	var n int64
	err := m.retry.do(ctx, e.limiter, func(ctx context.Context) error {
		reader, err := e.provider.Download(ctx, ref.RemoteID)
		if err != nil {
			return err
		}
		defer func() { _ = reader.Close() }()

		pending, err := renameio.NewPendingFile(destPath, renameio.WithPermissions(0o644))
		if err != nil {
			return fmt.Errorf("create pending file: %w", err)
		}
		defer func() { _ = pending.Cleanup() }()

		if n, err = io.Copy(pending, reader); err != nil {
			return fmt.Errorf("copy blob: %w", err)
		}
		return pending.CloseAtomicallyReplace()
	})
	observe(metrics.PoolOpGet, ref.AccountID, err)
	if err == nil {
		metrics.PoolBytesTotal.WithLabelValues(metrics.DirectionDownload).Add(float64(n))
	}
	return err
}

func (m *Manager) probe(ctx context.Context, remoteID, skip string) (model.BlobRef, error) {
	for _, id := range m.registry.IDs() {
		if id == skip {
			continue
		}
		e, ok := m.registry.get(id)
		if !ok {
			continue
		}
		if _, err := m.stat(ctx, e, remoteID); err != nil {
			if !errors.Is(err, repository.ErrObjectNotFound) {
				slog.Warn("probe failed", "account_id", id, "remote_id", remoteID, "error", err)
			}
			continue
		}
		slog.Info("blob found on another account", "account_id", id, "remote_id", remoteID)
		return model.BlobRef{AccountID: id, RemoteID: remoteID}, nil
	}
	return model.BlobRef{}, fmt.Errorf("%w: %s", repository.ErrBlobNotFound, remoteID)
}

func (m *Manager) stat(ctx context.Context, e *entry, remoteID string) (repository.ObjectInfo, error) {
	var info repository.ObjectInfo
	err := m.retry.do(ctx, e.limiter, func(ctx context.Context) error {
		var err error
		info, err = e.provider.Stat(ctx, remoteID)
		return err
	})
	observe(metrics.PoolOpStat, e.spec.ID, err)
	return info, err
}

func isMissing(err error) bool {
	return errors.Is(err, repository.ErrObjectNotFound) || errors.Is(err, repository.ErrAccountUnavailable)
}

func objectKey(name string) string {
	return uuid.NewString() + strings.ToLower(filepath.Ext(name))
}

func observe(op, account string, err error) {
	status := metrics.PoolStatusSuccess
	switch {
	case errors.Is(err, repository.ErrRateLimited):
		status = metrics.PoolStatusRateLimited
	case err != nil && !errors.Is(err, repository.ErrObjectNotFound):
		status = metrics.PoolStatusError
	}
	metrics.PoolOperationsTotal.WithLabelValues(op, account, status).Inc()
}

// Compile-time verification that Manager implements repository.BlobPool.
var _ repository.BlobPool = (*Manager)(nil)
