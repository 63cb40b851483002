package pool

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
)

// memAccounts is an in-memory AccountRepository. AddUsage holds the lock
// for the whole update, matching the single-statement increment in Postgres.
type memAccounts struct {
	mu       sync.Mutex
	accounts map[string]*model.StorageAccount
	addErr   error
}

func newMemAccounts(accounts ...*model.StorageAccount) *memAccounts {
	m := &memAccounts{accounts: make(map[string]*model.StorageAccount)}
	for _, a := range accounts {
		c := *a
		m.accounts[a.ID] = &c
	}
	return m
}

func (m *memAccounts) Upsert(_ context.Context, account *model.StorageAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.accounts[account.ID]; ok {
		existing.CapacityBytes = account.CapacityBytes
		existing.Active = account.Active
		existing.UpdatedAt = account.UpdatedAt
		return nil
	}
	c := *account
	m.accounts[account.ID] = &c
	return nil
}

func (m *memAccounts) List(_ context.Context) ([]*model.StorageAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.StorageAccount, 0, len(m.accounts))
	for _, a := range m.accounts {
		c := *a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memAccounts) GetByID(_ context.Context, id string) (*model.StorageAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	c := *a
	return &c, nil
}

func (m *memAccounts) AddUsage(_ context.Context, id string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return 0, m.addErr
	}
	a, ok := m.accounts[id]
	if !ok {
		return 0, repository.ErrAccountNotFound
	}
	a.UsedBytes += delta
	return a.UsedBytes, nil
}

func (m *memAccounts) SetUsage(_ context.Context, id string, used int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.UsedBytes = used
	a.ReconciledAt = at
	return nil
}

func (m *memAccounts) DeactivateExcept(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	for id, a := range m.accounts {
		if !keep[id] {
			a.Active = false
		}
	}
	return nil
}

func (m *memAccounts) used(id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].UsedBytes
}

// memProvider is an in-memory Provider with failure injection.
type memProvider struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   map[string]int

	// rateLimited makes the next N calls of any kind fail with ErrRateLimited.
	rateLimited int
	uploadErr   error
	usageErr    error
	deleteErr   error
}

func newMemProvider() *memProvider {
	return &memProvider{objects: make(map[string][]byte), calls: make(map[string]int)}
}

func (p *memProvider) throttle(op string) error {
	p.calls[op]++
	if p.rateLimited > 0 {
		p.rateLimited--
		return repository.ErrRateLimited
	}
	return nil
}

func (p *memProvider) Upload(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.throttle("upload"); err != nil {
		return err
	}
	if p.uploadErr != nil {
		return p.uploadErr
	}
	p.objects[key] = data
	return nil
}

func (p *memProvider) Download(_ context.Context, key string) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.throttle("download"); err != nil {
		return nil, err
	}
	data, ok := p.objects[key]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (p *memProvider) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.throttle("delete"); err != nil {
		return err
	}
	if p.deleteErr != nil {
		return p.deleteErr
	}
	delete(p.objects, key)
	return nil
}

func (p *memProvider) Stat(_ context.Context, key string) (repository.ObjectInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.throttle("stat"); err != nil {
		return repository.ObjectInfo{}, err
	}
	data, ok := p.objects[key]
	if !ok {
		return repository.ObjectInfo{}, repository.ErrObjectNotFound
	}
	return repository.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (p *memProvider) Usage(_ context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.throttle("usage"); err != nil {
		return 0, err
	}
	if p.usageErr != nil {
		return 0, p.usageErr
	}
	var total int64
	for _, data := range p.objects {
		total += int64(len(data))
	}
	return total, nil
}

func (p *memProvider) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://example.test/" + key + "?sig=abc", nil
}

func (p *memProvider) put(key string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[key] = data
}

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.objects[key]
	return ok
}

func (p *memProvider) count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// staticDialer hands out pre-built providers by account id.
type staticDialer struct {
	mu        sync.Mutex
	providers map[string]*memProvider
	dials     map[string]int
	fail      map[string]error
}

func newStaticDialer(providers map[string]*memProvider) *staticDialer {
	return &staticDialer{providers: providers, dials: make(map[string]int), fail: make(map[string]error)}
}

func (d *staticDialer) dial(_ context.Context, spec AccountSpec) (Provider, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[spec.ID]++
	if err := d.fail[spec.ID]; err != nil {
		return nil, err
	}
	p, ok := d.providers[spec.ID]
	if !ok {
		p = newMemProvider()
		d.providers[spec.ID] = p
	}
	return p, nil
}

func (d *staticDialer) dialCount(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[id]
}
