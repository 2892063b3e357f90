package upload

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// TempStore spools uploads to a directory on local disk.
type TempStore struct {
	dir    string
	logger *zap.Logger
}

// NewTempStore creates a store under dir, or the OS temp directory when dir is empty.
func NewTempStore(dir string, logger *zap.Logger) (*TempStore, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &TempStore{dir: dir, logger: logger.Named("upload")}, nil
}

// Save copies the multipart file to a new temp file. The caller owns the
// result and must pass it to Remove.
func (s *TempStore) Save(fh *multipart.FileHeader) (*File, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(s.dir, "upload-*"+filepath.Ext(filepath.Base(fh.Filename)))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		s.discard(dst)
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]

	written, err := dst.Write(head)
	if err == nil {
		var rest int64
		rest, err = io.Copy(dst, src)
		written += int(rest)
	}
	if err != nil {
		s.discard(dst)
		return nil, fmt.Errorf("failed to spool upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	return &File{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        int64(written),
		Path:        dst.Name(),
		Head:        head,
	}, nil
}

// Remove deletes the spooled file. Only the first call for a given file has
// any effect.
func (s *TempStore) Remove(f *File) {
	if f == nil || f.Path == "" {
		return
	}
	f.removeOnce.Do(func() {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Failed to remove temp upload",
				zap.String("path", f.Path),
				zap.Error(err))
		}
	})
}

func (s *TempStore) discard(f *os.File) {
	_ = f.Close()
	_ = os.Remove(f.Name())
}
