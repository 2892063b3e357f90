// Package upload validates and spools image uploads.
package upload

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/config"
)

// sniffLen is how much of the upload is kept for content type detection.
const sniffLen = 3072

// File is an uploaded image spooled to local disk.
type File struct {
	Filename    string
	ContentType string // as declared by the client
	Size        int64
	Path        string // temp file location, empty when not spooled
	Head        []byte // leading bytes used for content sniffing

	removeOnce sync.Once
}

// Open opens the spooled file for reading.
func (f *File) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// Validator checks uploads against the configured allow-list and size limit.
type Validator struct {
	maxSize int64
	allowed []string
}

// NewValidator creates a Validator from upload configuration.
func NewValidator(cfg *config.UploadConfig) *Validator {
	allowed := make([]string, 0, len(cfg.AllowedMIMETypes))
	for _, t := range cfg.AllowedMIMETypes {
		if t = normalizeType(t); t != "" {
			allowed = append(allowed, t)
		}
	}
	return &Validator{maxSize: cfg.MaxFileSize, allowed: allowed}
}

// Validate checks presence, then type, then size, and returns the first failure.
// The declared type must be allowed and, when leading bytes are available,
// so must the detected one.
func (v *Validator) Validate(f *File) error {
	if f == nil {
		return apperrors.ErrNoFile
	}

	if !v.isAllowed(normalizeType(f.ContentType)) {
		return apperrors.ErrUnsupportedType
	}
	if len(f.Head) > 0 {
		detected := mimetype.Detect(f.Head)
		if !v.matchesDetected(detected) {
			return apperrors.ErrUnsupportedType
		}
	}

	if f.Size > v.maxSize {
		return apperrors.ErrFileTooLarge
	}
	return nil
}

// AllowedTypes lists the accepted MIME types.
func (v *Validator) AllowedTypes() []string {
	return append([]string(nil), v.allowed...)
}

// MaxSize is the upper bound on accepted file size in bytes.
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

func (v *Validator) isAllowed(t string) bool {
	for _, a := range v.allowed {
		if a == t {
			return true
		}
	}
	return false
}

func (v *Validator) matchesDetected(m *mimetype.MIME) bool {
	for _, a := range v.allowed {
		if m.Is(a) {
			return true
		}
	}
	return false
}

func normalizeType(t string) string {
	t, _, _ = strings.Cut(t, ";")
	return strings.ToLower(strings.TrimSpace(t))
}
