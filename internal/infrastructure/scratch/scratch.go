// Package scratch holds in-progress chunked uploads on local disk.
// Each upload owns one directory; chunk files are replaced atomically so a
// retried chunk overwrites the previous attempt without a torn write.
package scratch

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/hszk-dev/mediapool/internal/domain/repository"
)

const (
	chunkPrefix      = "chunk_"
	assembledSuffix  = ".assembled"
	chunkNamePattern = chunkPrefix + "%06d"
)

// Chunk describes one stored chunk file.
type Chunk struct {
	Index int
	Size  int64
}

// Store manages scratch directories under a root.
type Store struct {
	root string
}

// New creates the scratch root if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) dir(uploadID uuid.UUID) string {
	return filepath.Join(s.root, uploadID.String())
}

// AssembledPath is where Assemble writes the concatenated file.
func (s *Store) AssembledPath(uploadID uuid.UUID) string {
	return filepath.Join(s.root, uploadID.String()+assembledSuffix)
}

// Create makes the scratch directory for an upload.
func (s *Store) Create(uploadID uuid.UUID) error {
	if err := os.MkdirAll(s.dir(uploadID), 0o755); err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return nil
}

// Exists reports whether the upload still has a scratch directory.
func (s *Store) Exists(uploadID uuid.UUID) bool {
	info, err := os.Stat(s.dir(uploadID))
	return err == nil && info.IsDir()
}

// WriteChunk stores the chunk at index, replacing any earlier copy.
// When wantSHA256 is non-empty the content digest must match it, otherwise
// nothing is written and repository.ErrChunkChecksum is returned.
func (s *Store) WriteChunk(uploadID uuid.UUID, index int, r io.Reader, wantSHA256 string) (int64, error) {
	if index < 0 {
		return 0, fmt.Errorf("invalid chunk index %d", index)
	}
	if !s.Exists(uploadID) {
		return 0, repository.ErrUploadNotFound
	}

	path := filepath.Join(s.dir(uploadID), fmt.Sprintf(chunkNamePattern, index))
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return 0, fmt.Errorf("create pending chunk file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(pending, h), r)
	if err != nil {
		return 0, fmt.Errorf("write chunk data: %w", err)
	}

	if wantSHA256 != "" && !strings.EqualFold(hex.EncodeToString(h.Sum(nil)), wantSHA256) {
		return 0, repository.ErrChunkChecksum
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return 0, fmt.Errorf("commit chunk file: %w", err)
	}
	return n, nil
}

// Chunks lists stored chunks ordered by index.
func (s *Store) Chunks(uploadID uuid.UUID) ([]Chunk, error) {
	entries, err := os.ReadDir(s.dir(uploadID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, repository.ErrUploadNotFound
		}
		return nil, fmt.Errorf("failed to read scratch directory: %w", err)
	}

	var chunks []Chunk
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasPrefix(name, chunkPrefix) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(name, chunkPrefix))
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat chunk %d: %w", idx, err)
		}
		chunks = append(chunks, Chunk{Index: idx, Size: info.Size()})
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// Assemble concatenates chunks 0..count-1 in index order into AssembledPath.
func (s *Store) Assemble(uploadID uuid.UUID, count int) (string, int64, error) {
	dst := s.AssembledPath(uploadID)
	pending, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return "", 0, fmt.Errorf("create pending assembled file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	var total int64
	for i := 0; i < count; i++ {
		n, err := s.appendChunk(pending, uploadID, i)
		if err != nil {
			return "", 0, err
		}
		total += n
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", 0, fmt.Errorf("commit assembled file: %w", err)
	}
	return dst, total, nil
}

func (s *Store) appendChunk(w io.Writer, uploadID uuid.UUID, index int) (int64, error) {
	f, err := os.Open(filepath.Join(s.dir(uploadID), fmt.Sprintf(chunkNamePattern, index)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: chunk %d missing", repository.ErrIncompleteUpload, index)
		}
		return 0, fmt.Errorf("open chunk %d: %w", index, err)
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return 0, fmt.Errorf("copy chunk %d: %w", index, err)
	}
	return n, nil
}

// Purge removes the scratch directory and any assembled file.
func (s *Store) Purge(uploadID uuid.UUID) error {
	var errs []error
	if err := os.RemoveAll(s.dir(uploadID)); err != nil {
		errs = append(errs, err)
	}
	if err := os.Remove(s.AssembledPath(uploadID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Stale returns uploads whose directory has not been modified for olderThan.
func (s *Store) Stale(olderThan time.Duration, now time.Time) ([]uuid.UUID, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read scratch root: %w", err)
	}

	var stale []uuid.UUID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := uuid.Parse(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) >= olderThan {
			stale = append(stale, id)
		}
	}
	return stale, nil
}
