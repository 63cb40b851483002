package usecase

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
	"github.com/hszk-dev/mediapool/internal/transcoder"
)

// mockAssetRepository keeps assets in memory. Setting a func field
// overrides the in-memory behavior of that method.
type mockAssetRepository struct {
	mu   sync.Mutex
	data map[uuid.UUID]model.Asset

	createFn       func(ctx context.Context, asset *model.Asset) error
	getByIDFn      func(ctx context.Context, id uuid.UUID) (*model.Asset, error)
	updateFn       func(ctx context.Context, asset *model.Asset) error
	storePrimaryFn func(ctx context.Context, asset *model.Asset) error
	updateStatusFn func(ctx context.Context, id uuid.UUID, status model.AssetStatus, lastError string) error
}

func newMockAssetRepository(assets ...*model.Asset) *mockAssetRepository {
	m := &mockAssetRepository{data: make(map[uuid.UUID]model.Asset)}
	for _, a := range assets {
		m.data[a.ID] = *a
	}
	return m
}

func (m *mockAssetRepository) Create(ctx context.Context, asset *model.Asset) error {
	if m.createFn != nil {
		return m.createFn(ctx, asset)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.data {
		if a.Identifier == asset.Identifier {
			return repository.ErrDuplicateAsset
		}
	}
	m.data[asset.ID] = *asset
	return nil
}

func (m *mockAssetRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.data[id]
	if !ok {
		return nil, repository.ErrAssetNotFound
	}
	return &a, nil
}

func (m *mockAssetRepository) GetByIdentifier(_ context.Context, identifier string) (*model.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.data {
		if a.Identifier == identifier {
			return &a, nil
		}
	}
	return nil, repository.ErrAssetNotFound
}

func (m *mockAssetRepository) Update(ctx context.Context, asset *model.Asset) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, asset)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[asset.ID]; !ok {
		return repository.ErrAssetNotFound
	}
	m.data[asset.ID] = *asset
	return nil
}

func (m *mockAssetRepository) StorePrimary(ctx context.Context, asset *model.Asset) error {
	if m.storePrimaryFn != nil {
		return m.storePrimaryFn(ctx, asset)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.data[asset.ID]
	if !ok {
		return repository.ErrAssetNotFound
	}
	if !existing.Primary.IsZero() {
		return repository.ErrAlreadyStored
	}
	m.data[asset.ID] = *asset
	return nil
}

func (m *mockAssetRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AssetStatus, lastError string) error {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, status, lastError)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.data[id]
	if !ok {
		return repository.ErrAssetNotFound
	}
	a.Status = status
	a.LastError = lastError
	m.data[id] = a
	return nil
}

func (m *mockAssetRepository) UpdateThumbnail(_ context.Context, id uuid.UUID, ref model.BlobRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.data[id]
	if !ok {
		return repository.ErrAssetNotFound
	}
	a.Thumbnail = ref
	m.data[id] = a
	return nil
}

func (m *mockAssetRepository) get(id uuid.UUID) model.Asset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[id]
}

// mockJobRepository keeps jobs in memory with the Ensure and Claim
// semantics of the real store.
type mockJobRepository struct {
	mu       sync.Mutex
	data     map[uuid.UUID]model.ConversionJob
	progress []int

	ensureFn func(ctx context.Context, job *model.ConversionJob) (*model.ConversionJob, bool, error)
	claimFn  func(ctx context.Context, id uuid.UUID, attempt int, staleBefore time.Time) (*model.ConversionJob, error)
	updateFn func(ctx context.Context, job *model.ConversionJob) error

	touches atomic.Int32
}

func newMockJobRepository(jobs ...*model.ConversionJob) *mockJobRepository {
	m := &mockJobRepository{data: make(map[uuid.UUID]model.ConversionJob)}
	for _, j := range jobs {
		m.data[j.ID] = *j
	}
	return m
}

func (m *mockJobRepository) Ensure(ctx context.Context, job *model.ConversionJob) (*model.ConversionJob, bool, error) {
	if m.ensureFn != nil {
		return m.ensureFn(ctx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.data {
		if existing.AssetID != job.AssetID || existing.Resolution != job.Resolution {
			continue
		}
		if existing.Status != model.JobStatusFailed {
			return &existing, false, nil
		}
		if err := existing.Retry(); err != nil {
			return nil, false, err
		}
		existing.Options = job.Options
		m.data[id] = existing
		return &existing, true, nil
	}
	m.data[job.ID] = *job
	created := *job
	return &created, true, nil
}

func (m *mockJobRepository) GetByID(_ context.Context, id uuid.UUID) (*model.ConversionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.data[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return &j, nil
}

func (m *mockJobRepository) ListByAsset(_ context.Context, assetID uuid.UUID) ([]*model.ConversionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ConversionJob
	for _, j := range m.data {
		if j.AssetID == assetID {
			j := j
			out = append(out, &j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Resolution < out[k].Resolution })
	return out, nil
}

func (m *mockJobRepository) Claim(ctx context.Context, id uuid.UUID, attempt int, staleBefore time.Time) (*model.ConversionJob, error) {
	if m.claimFn != nil {
		return m.claimFn(ctx, id, attempt, staleBefore)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.data[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	if j.Attempt != attempt {
		return nil, repository.ErrJobNotClaimable
	}
	switch {
	case j.Status == model.JobStatusWaiting:
		if err := j.TransitionTo(model.JobStatusProcessing); err != nil {
			return nil, err
		}
	case j.Status == model.JobStatusProcessing && j.UpdatedAt.Before(staleBefore):
		now := time.Now()
		j.StartedAt = &now
		j.UpdatedAt = now
	default:
		return nil, repository.ErrJobNotClaimable
	}
	j.Progress = 0
	m.data[id] = j
	return &j, nil
}

func (m *mockJobRepository) Touch(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touches.Add(1)
	if j, ok := m.data[id]; ok && j.Status == model.JobStatusProcessing {
		j.UpdatedAt = time.Now()
		m.data[id] = j
	}
	return nil
}

func (m *mockJobRepository) FailStale(_ context.Context, staleBefore time.Time, reason string) ([]*model.ConversionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ConversionJob
	for id, j := range m.data {
		if j.Status != model.JobStatusProcessing || !j.UpdatedAt.Before(staleBefore) {
			continue
		}
		if err := j.Fail(reason); err != nil {
			return nil, err
		}
		m.data[id] = j
		out = append(out, &j)
	}
	return out, nil
}

func (m *mockJobRepository) Update(ctx context.Context, job *model.ConversionJob) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[job.ID]; !ok {
		return repository.ErrJobNotFound
	}
	m.data[job.ID] = *job
	return nil
}

func (m *mockJobRepository) UpdateProgress(_ context.Context, id uuid.UUID, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.data[id]
	if !ok {
		return repository.ErrJobNotFound
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
	m.data[id] = j
	m.progress = append(m.progress, progress)
	return nil
}

func (m *mockJobRepository) get(id uuid.UUID) model.ConversionJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[id]
}

func (m *mockJobRepository) progressWrites() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.progress...)
}

// mockSegmentRepository keeps segments in memory.
type mockSegmentRepository struct {
	mu   sync.Mutex
	data map[uuid.UUID]model.Segment

	createFn func(ctx context.Context, segment *model.Segment) error
}

func newMockSegmentRepository(segments ...*model.Segment) *mockSegmentRepository {
	m := &mockSegmentRepository{data: make(map[uuid.UUID]model.Segment)}
	for _, s := range segments {
		m.data[s.ID] = *s
	}
	return m
}

func (m *mockSegmentRepository) Create(ctx context.Context, segment *model.Segment) error {
	if m.createFn != nil {
		return m.createFn(ctx, segment)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[segment.ID] = *segment
	return nil
}

func (m *mockSegmentRepository) get(id uuid.UUID) model.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[id]
}

func (m *mockSegmentRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[id]
	if !ok {
		return nil, repository.ErrSegmentNotFound
	}
	return &s, nil
}

func (m *mockSegmentRepository) ListByAsset(_ context.Context, assetID uuid.UUID, resolution string) ([]*model.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Segment
	for _, s := range m.data {
		if s.AssetID == assetID && s.Resolution == resolution {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Index < out[k].Index })
	return out, nil
}

func (m *mockSegmentRepository) DeleteByAsset(_ context.Context, assetID uuid.UUID, resolution string) ([]*model.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []*model.Segment
	for id, s := range m.data {
		if s.AssetID == assetID && s.Resolution == resolution {
			s := s
			removed = append(removed, &s)
			delete(m.data, id)
		}
	}
	return removed, nil
}

// mockBlobPool stores blobs in memory under one account.
type mockBlobPool struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []model.BlobRef

	getCalls atomic.Int32

	putFn    func(ctx context.Context, localPath, mediaType, name string) (model.BlobRef, error)
	getFn    func(ctx context.Context, ref model.BlobRef, destPath string) (model.BlobRef, error)
	locateFn func(ctx context.Context, remoteID string) (model.BlobRef, repository.ObjectInfo, error)
}

const mockAccountID = "acct-1"

func newMockBlobPool() *mockBlobPool {
	return &mockBlobPool{objects: make(map[string][]byte)}
}

func (m *mockBlobPool) Put(ctx context.Context, localPath, mediaType, name string) (model.BlobRef, error) {
	if m.putFn != nil {
		return m.putFn(ctx, localPath, mediaType, name)
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return model.BlobRef{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	remoteID := fmt.Sprintf("%s-%s", uuid.NewString(), name)
	m.objects[remoteID] = data
	return model.BlobRef{AccountID: mockAccountID, RemoteID: remoteID}, nil
}

func (m *mockBlobPool) Get(ctx context.Context, ref model.BlobRef, destPath string) (model.BlobRef, error) {
	m.getCalls.Add(1)
	if m.getFn != nil {
		return m.getFn(ctx, ref, destPath)
	}
	m.mu.Lock()
	data, ok := m.objects[ref.RemoteID]
	m.mu.Unlock()
	if !ok {
		return model.BlobRef{}, repository.ErrBlobNotFound
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return model.BlobRef{}, err
	}
	return ref, nil
}

func (m *mockBlobPool) Delete(_ context.Context, ref model.BlobRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, ref.RemoteID)
	m.deleted = append(m.deleted, ref)
}

func (m *mockBlobPool) Locate(ctx context.Context, remoteID string) (model.BlobRef, repository.ObjectInfo, error) {
	if m.locateFn != nil {
		return m.locateFn(ctx, remoteID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[remoteID]
	if !ok {
		return model.BlobRef{}, repository.ObjectInfo{}, repository.ErrBlobNotFound
	}
	return model.BlobRef{AccountID: mockAccountID, RemoteID: remoteID},
		repository.ObjectInfo{Key: remoteID, Size: int64(len(data))}, nil
}

func (m *mockBlobPool) object(remoteID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[remoteID]
	return data, ok
}

func (m *mockBlobPool) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// mockMessageQueue records published tasks.
type mockMessageQueue struct {
	mu        sync.Mutex
	published []repository.Task

	publishTaskFn func(ctx context.Context, task repository.Task) error
}

func (m *mockMessageQueue) PublishTask(ctx context.Context, task repository.Task) error {
	if m.publishTaskFn != nil {
		return m.publishTaskFn(ctx, task)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, task)
	return nil
}

func (m *mockMessageQueue) ConsumeTasks(ctx context.Context, _ int, _ func(ctx context.Context, task repository.Task) error) error {
	<-ctx.Done()
	return nil
}

func (m *mockMessageQueue) Close() error {
	return nil
}

func (m *mockMessageQueue) tasks() []repository.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repository.Task(nil), m.published...)
}

// mockTranscoder provides a configurable mock for Transcoder.
type mockTranscoder struct {
	transcodeFn func(ctx context.Context, req transcoder.Request, progress chan<- int) (*transcoder.Output, error)
	thumbnailFn func(ctx context.Context, category model.Category, inputPath, outputPath string) error
}

func (m *mockTranscoder) Transcode(ctx context.Context, req transcoder.Request, progress chan<- int) (*transcoder.Output, error) {
	if m.transcodeFn != nil {
		return m.transcodeFn(ctx, req, progress)
	}
	return &transcoder.Output{}, nil
}

func (m *mockTranscoder) Thumbnail(ctx context.Context, category model.Category, inputPath, outputPath string) error {
	if m.thumbnailFn != nil {
		return m.thumbnailFn(ctx, category, inputPath, outputPath)
	}
	return os.WriteFile(outputPath, []byte("jpeg"), 0o644)
}

// mockAssetCache is an in-memory AssetCache.
type mockAssetCache struct {
	mu       sync.RWMutex
	data     map[uuid.UUID]*model.Asset
	deletes  atomic.Int32
	getFn    func(ctx context.Context, assetID uuid.UUID) (*model.Asset, error)
	setFn    func(ctx context.Context, asset *model.Asset, ttl time.Duration) error
	deleteFn func(ctx context.Context, assetID uuid.UUID) error
}

func newMockAssetCache() *mockAssetCache {
	return &mockAssetCache{
		data: make(map[uuid.UUID]*model.Asset),
	}
}

func (m *mockAssetCache) Get(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
	if m.getFn != nil {
		return m.getFn(ctx, assetID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[assetID], nil
}

func (m *mockAssetCache) Set(ctx context.Context, asset *model.Asset, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, asset, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[asset.ID] = asset
	return nil
}

func (m *mockAssetCache) Delete(ctx context.Context, assetID uuid.UUID) error {
	m.deletes.Add(1)
	if m.deleteFn != nil {
		return m.deleteFn(ctx, assetID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, assetID)
	return nil
}

// mockManifestCache is an in-memory ManifestCache.
type mockManifestCache struct {
	mu            sync.Mutex
	data          map[string]string
	invalidations atomic.Int32
}

func newMockManifestCache() *mockManifestCache {
	return &mockManifestCache{data: make(map[string]string)}
}

func (m *mockManifestCache) Get(_ context.Context, assetID uuid.UUID, resolution string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.data[assetID.String()+":"+resolution]
	return text, ok, nil
}

func (m *mockManifestCache) Set(_ context.Context, assetID uuid.UUID, resolution, text string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[assetID.String()+":"+resolution] = text
	return nil
}

func (m *mockManifestCache) Invalidate(_ context.Context, assetID uuid.UUID) error {
	m.invalidations.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := assetID.String() + ":"
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.data, k)
		}
	}
	return nil
}

func stringReader(s string) *strings.Reader {
	return strings.NewReader(s)
}
