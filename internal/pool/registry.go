package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
	"github.com/hszk-dev/mediapool/internal/infrastructure/storage"
)

// Provider is one account's object-store client.
type Provider interface {
	repository.ObjectStorage
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// AccountSpec is one entry of the accounts file.
type AccountSpec struct {
	ID             string `yaml:"id"`
	Endpoint       string `yaml:"endpoint"`
	PublicEndpoint string `yaml:"public_endpoint"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	Bucket         string `yaml:"bucket"`
	UseSSL         bool   `yaml:"use_ssl"`
	CapacityBytes  int64  `yaml:"capacity_bytes"`
	Disabled       bool   `yaml:"disabled"`
}

type accountsFile struct {
	Accounts []AccountSpec `yaml:"accounts"`
}

// DialFunc connects to the provider for one account.
type DialFunc func(ctx context.Context, spec AccountSpec) (Provider, error)

// MinioDialer connects with the S3-compatible client.
func MinioDialer(ctx context.Context, spec AccountSpec) (Provider, error) {
	return storage.NewClient(ctx, storage.ClientConfig{
		Endpoint:       spec.Endpoint,
		PublicEndpoint: spec.PublicEndpoint,
		AccessKey:      spec.AccessKey,
		SecretKey:      spec.SecretKey,
		Bucket:         spec.Bucket,
		UseSSL:         spec.UseSSL,
	})
}

// RegistryConfig holds registry settings.
type RegistryConfig struct {
	// RequestsPerSecond paces provider calls per account. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
	// Debounce delays reloads triggered by file events.
	Debounce time.Duration
}

// ReloadResult summarizes a reload.
type ReloadResult struct {
	Active  []string `json:"active"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

type entry struct {
	spec     AccountSpec
	provider Provider
	limiter  *rate.Limiter
}

// Registry owns the live set of account clients. It is the only place
// credentials are held; the pool manager looks clients up per call so an
// account removed by a reload stops receiving traffic immediately.
type Registry struct {
	path     string
	accounts repository.AccountRepository
	dial     DialFunc
	cfg      RegistryConfig

	mu      sync.RWMutex
	entries map[string]*entry

	reloadMu sync.Mutex
}

// NewRegistry creates an empty registry. Call Reload to populate it.
func NewRegistry(path string, accounts repository.AccountRepository, dial DialFunc, cfg RegistryConfig) *Registry {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	return &Registry{
		path:     path,
		accounts: accounts,
		dial:     dial,
		cfg:      cfg,
		entries:  make(map[string]*entry),
	}
}

// LoadAccountsFile reads and validates an accounts file.
func LoadAccountsFile(path string) ([]AccountSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	return parseAccounts(data)
}

func parseAccounts(data []byte) ([]AccountSpec, error) {
	var file accountsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Accounts))
	for i, spec := range file.Accounts {
		spec.ID = strings.TrimSpace(spec.ID)
		switch {
		case spec.ID == "":
			return nil, fmt.Errorf("account %d: id is required", i)
		case spec.Bucket == "":
			return nil, fmt.Errorf("account %s: bucket is required", spec.ID)
		case spec.CapacityBytes <= 0:
			return nil, fmt.Errorf("account %s: capacity_bytes must be positive", spec.ID)
		}
		if _, dup := seen[spec.ID]; dup {
			return nil, fmt.Errorf("account %s: duplicate id", spec.ID)
		}
		seen[spec.ID] = struct{}{}
		file.Accounts[i] = spec
	}
	return file.Accounts, nil
}

// Reload re-reads the accounts file and swaps the live client set.
// Either every enabled account connects and the new set is applied, or the
// previous set stays in place and an error is returned.
func (r *Registry) Reload(ctx context.Context) (ReloadResult, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	var specs []AccountSpec
	if r.path != "" {
		var err error
		if specs, err = LoadAccountsFile(r.path); err != nil {
			return ReloadResult{}, err
		}
	}

	r.mu.RLock()
	current := r.entries
	r.mu.RUnlock()

	next := make(map[string]*entry, len(specs))
	for _, spec := range specs {
		if spec.Disabled {
			continue
		}
		if old, ok := current[spec.ID]; ok && old.spec == spec {
			next[spec.ID] = old
			continue
		}
		provider, err := r.dial(ctx, spec)
		if err != nil {
			return ReloadResult{}, fmt.Errorf("connect account %s: %w", spec.ID, err)
		}
		next[spec.ID] = &entry{spec: spec, provider: provider, limiter: r.newLimiter()}
	}

	now := time.Now()
	for _, spec := range specs {
		account := &model.StorageAccount{
			ID:            spec.ID,
			CapacityBytes: spec.CapacityBytes,
			Active:        !spec.Disabled,
			UpdatedAt:     now,
		}
		if err := r.accounts.Upsert(ctx, account); err != nil {
			return ReloadResult{}, fmt.Errorf("upsert account %s: %w", spec.ID, err)
		}
	}
	activeIDs := sortedKeys(next)
	if err := r.accounts.DeactivateExcept(ctx, activeIDs); err != nil {
		return ReloadResult{}, fmt.Errorf("deactivate removed accounts: %w", err)
	}

	r.mu.Lock()
	r.entries = next
	r.mu.Unlock()

	result := ReloadResult{Active: activeIDs}
	for _, id := range activeIDs {
		if _, ok := current[id]; !ok {
			result.Added = append(result.Added, id)
		}
	}
	for _, id := range sortedKeys(current) {
		if _, ok := next[id]; !ok {
			result.Removed = append(result.Removed, id)
		}
	}

	slog.Info("storage accounts reloaded",
		"active", len(result.Active),
		"added", result.Added,
		"removed", result.Removed,
	)
	return result, nil
}

func (r *Registry) newLimiter() *rate.Limiter {
	if r.cfg.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, r.cfg.Burst)
	}
	return rate.NewLimiter(rate.Limit(r.cfg.RequestsPerSecond), r.cfg.Burst)
}

func (r *Registry) get(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// IDs returns the ids of connected accounts in ascending order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.entries)
}

// Watch reloads the registry whenever the accounts file changes.
// It returns once the watcher is installed; the loop stops with ctx.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		slog.Info("accounts file watcher disabled")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory: editors often replace the file by rename.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch accounts directory: %w", err)
	}

	slog.Info("watching accounts file", "path", r.path)
	go r.watchLoop(ctx, watcher)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() { _ = watcher.Close() }()

	target := filepath.Clean(r.path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(r.cfg.Debounce, func() {
				if _, err := r.Reload(ctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("automatic accounts reload failed", "error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("accounts watcher error", "error", err)
		}
	}
}

func sortedKeys(m map[string]*entry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
