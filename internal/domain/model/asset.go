package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AssetStatus represents the lifecycle state of an uploaded asset.
type AssetStatus string

const (
	AssetStatusProcessing AssetStatus = "processing"
	AssetStatusReady      AssetStatus = "ready"
	AssetStatusFailed     AssetStatus = "failed"
)

// Valid asset transitions:
// processing -> ready | failed
// ready      -> processing   (conversion requested)
// failed     -> processing   (conversion retried)
var validAssetTransitions = map[AssetStatus][]AssetStatus{
	AssetStatusProcessing: {AssetStatusReady, AssetStatusFailed},
	AssetStatusReady:      {AssetStatusProcessing},
	AssetStatusFailed:     {AssetStatusProcessing},
}

func (s AssetStatus) IsValid() bool {
	switch s {
	case AssetStatusProcessing, AssetStatusReady, AssetStatusFailed:
		return true
	default:
		return false
	}
}

func (s AssetStatus) CanTransitionTo(next AssetStatus) bool {
	for _, status := range validAssetTransitions[s] {
		if status == next {
			return true
		}
	}
	return false
}

func (s AssetStatus) String() string {
	return string(s)
}

// Category classifies an asset by the kind of content it holds.
type Category string

const (
	CategoryVideo    Category = "video"
	CategoryImage    Category = "image"
	CategoryDocument Category = "document"
	CategoryArchive  Category = "archive"
)

func (c Category) IsValid() bool {
	switch c {
	case CategoryVideo, CategoryImage, CategoryDocument, CategoryArchive:
		return true
	default:
		return false
	}
}

// CategoryForMediaType guesses a category from a MIME type.
// Unknown types are treated as documents.
func CategoryForMediaType(mediaType string) Category {
	mt := strings.ToLower(mediaType)
	switch {
	case strings.HasPrefix(mt, "video/"):
		return CategoryVideo
	case strings.HasPrefix(mt, "image/"):
		return CategoryImage
	case strings.Contains(mt, "zip"), strings.Contains(mt, "tar"),
		strings.Contains(mt, "x-7z"), strings.Contains(mt, "x-rar"), strings.Contains(mt, "gzip"):
		return CategoryArchive
	default:
		return CategoryDocument
	}
}

// Asset is one logical uploaded file tracked from upload through conversion.
type Asset struct {
	ID         uuid.UUID
	Identifier string
	Name       string
	Category   Category
	Size       int64
	MediaType  string
	Status     AssetStatus
	FolderTag  string
	Primary    BlobRef
	Thumbnail  BlobRef
	LastError  string
	// Extra holds provider-specific data only (e.g. an upstream etag).
	Extra     map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

var (
	ErrEmptyName         = errors.New("name cannot be empty")
	ErrNameTooLong       = errors.New("name exceeds maximum length of 255 characters")
	ErrInvalidSize       = errors.New("declared size must be positive")
	ErrInvalidCategory   = errors.New("invalid asset category")
	ErrInvalidTransition = errors.New("invalid status transition")
)

const maxNameLength = 255

// NewAsset creates a new Asset in processing status.
// An empty category is derived from the media type.
func NewAsset(name string, size int64, mediaType string, category Category, folderTag string) (*Asset, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if len(name) > maxNameLength {
		return nil, ErrNameTooLong
	}
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if category == "" {
		category = CategoryForMediaType(mediaType)
	}
	if !category.IsValid() {
		return nil, ErrInvalidCategory
	}

	now := time.Now()
	id := uuid.New()
	return &Asset{
		ID:         id,
		Identifier: id.String(),
		Name:       name,
		Category:   category,
		Size:       size,
		MediaType:  mediaType,
		Status:     AssetStatusProcessing,
		FolderTag:  folderTag,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// TransitionTo attempts to change the asset status.
func (a *Asset) TransitionTo(next AssetStatus) error {
	if !next.IsValid() || !a.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	a.Status = next
	a.UpdatedAt = time.Now()
	return nil
}

// SetPrimaryBlob records where the asset's bytes live.
func (a *Asset) SetPrimaryBlob(ref BlobRef) {
	a.Primary = ref
	a.UpdatedAt = time.Now()
}

// SetThumbnail records the asset's thumbnail blob.
func (a *Asset) SetThumbnail(ref BlobRef) {
	a.Thumbnail = ref
	a.UpdatedAt = time.Now()
}

// Fail moves the asset to failed and keeps the reason.
func (a *Asset) Fail(reason string) error {
	if err := a.TransitionTo(AssetStatusFailed); err != nil {
		return err
	}
	a.LastError = reason
	return nil
}

func (a *Asset) IsReady() bool {
	return a.Status == AssetStatusReady
}

// WantsThumbnail reports whether a preview should be generated after upload.
func (a *Asset) WantsThumbnail() bool {
	return a.Category == CategoryVideo || a.Category == CategoryImage
}
