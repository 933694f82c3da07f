package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/notes"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	// URLPrefix is the public path under which stored files are served.
	URLPrefix = "/uploads/"

	directoryPermissions = 0o755
	maxExtensionLength   = 16
)

var (
	// ErrInvalidFilename indicates that a stored file name is empty or escapes the upload directory.
	ErrInvalidFilename = errors.New("uploads: invalid filename")
	// ErrMissingFileSystem indicates that Storage was configured without a file system.
	ErrMissingFileSystem = errors.New("uploads: file system is required")
)

// StorageConfig describes the dependencies of a Storage.
type StorageConfig struct {
	FileSystem afero.Fs
	Directory  string
	NameSource func() string
	Logger     *zap.Logger
}

// Storage keeps uploaded attachment files under a single directory.
type Storage struct {
	fs         afero.Fs
	directory  string
	nameSource func() string
	logger     *zap.Logger
}

// NewStorage validates configuration, ensures the upload directory exists and
// constructs a Storage.
func NewStorage(cfg StorageConfig) (*Storage, error) {
	if cfg.FileSystem == nil {
		return nil, ErrMissingFileSystem
	}
	directory := strings.TrimSpace(cfg.Directory)
	if directory == "" {
		directory = "."
	}
	if err := cfg.FileSystem.MkdirAll(directory, directoryPermissions); err != nil {
		return nil, fmt.Errorf("uploads: create directory %s: %w", directory, err)
	}
	nameSource := cfg.NameSource
	if nameSource == nil {
		nameSource = func() string { return uuid.NewString() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Storage{
		fs:         cfg.FileSystem,
		directory:  directory,
		nameSource: nameSource,
		logger:     logger,
	}, nil
}

// Save writes content under a freshly generated name that keeps the extension
// of originalName and returns the attachment descriptor for it.
func (s *Storage) Save(originalName string, content io.Reader) (notes.Attachment, error) {
	filename := s.nameSource() + safeExtension(originalName)
	target := filepath.Join(s.directory, filename)

	file, err := s.fs.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return notes.Attachment{}, fmt.Errorf("uploads: create %s: %w", filename, err)
	}
	written, copyErr := io.Copy(file, content)
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		if removeErr := s.fs.Remove(target); removeErr != nil {
			s.logger.Warn("partial upload cleanup failed", zap.String("filename", filename), zap.Error(removeErr))
		}
		return notes.Attachment{}, fmt.Errorf("uploads: write %s: %w", filename, errors.Join(copyErr, closeErr))
	}

	s.logger.Info("file uploaded",
		zap.String("filename", filename),
		zap.String("original_name", originalName),
		zap.Int64("bytes", written))
	return notes.Attachment{
		Filename:     filename,
		OriginalName: originalName,
		URL:          URLPrefix + filename,
	}, nil
}

// Open returns the stored file for reading.
func (s *Storage) Open(filename string) (afero.File, error) {
	target, err := s.resolve(filename)
	if err != nil {
		return nil, err
	}
	return s.fs.Open(target)
}

// Remove deletes the stored file. A file that is already gone is not an error.
func (s *Storage) Remove(filename string) error {
	target, err := s.resolve(filename)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Exists reports whether a stored file with the given name is present.
func (s *Storage) Exists(filename string) (bool, error) {
	target, err := s.resolve(filename)
	if err != nil {
		return false, err
	}
	return afero.Exists(s.fs, target)
}

func (s *Storage) resolve(filename string) (string, error) {
	trimmed := strings.TrimSpace(filename)
	if trimmed == "" || trimmed == "." || trimmed == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	if strings.ContainsAny(trimmed, `/\`) || path.Base(trimmed) != trimmed {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return filepath.Join(s.directory, trimmed), nil
}

// safeExtension keeps a short, separator-free extension from an untrusted name.
func safeExtension(originalName string) string {
	extension := filepath.Ext(path.Base(strings.ReplaceAll(originalName, `\`, "/")))
	if len(extension) > maxExtensionLength || strings.ContainsAny(extension, `/\ `) {
		return ""
	}
	return extension
}
