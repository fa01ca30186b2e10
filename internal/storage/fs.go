package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/schable/internal/apperr"
	"github.com/starford/schable/internal/checksum"
	"github.com/starford/schable/internal/models"
)

const tempPattern = ".schable-tmp-*"

// FS implements Provider over a catalog directory. Hidden files and
// directories are invisible to it: List skips them and no path may name one.
type FS struct {
	root string
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute catalog directory.
func (f *FS) Root() string { return f.root }

// resolve maps a catalog path to an absolute file name under the root.
// Absolute paths, paths leaving the root and hidden segments wrap
// apperr.ErrInvalidPath.
func (f *FS) resolve(p string) (string, error) {
	if p == "" {
		return f.root, nil
	}
	native := filepath.FromSlash(p)
	if filepath.IsAbs(native) || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("storage: %w: absolute path %s", apperr.ErrInvalidPath, p)
	}
	abs := filepath.Join(f.root, native)
	rel, err := filepath.Rel(f.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: %w: %s leaves the catalog", apperr.ErrInvalidPath, p)
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(seg, ".") && seg != "." {
			return "", fmt.Errorf("storage: %w: hidden segment %q in %s", apperr.ErrInvalidPath, seg, p)
		}
	}
	return abs, nil
}

// List returns metadata for every visible schema file under dir.
func (f *FS) List(dir string) ([]models.FileMetadata, error) {
	base, err := f.resolve(dir)
	if err != nil {
		return nil, err
	}
	var out []models.FileMetadata
	walkErr := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case p == base:
			return nil
		case strings.HasPrefix(d.Name(), "."):
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		case d.IsDir() || !IsSchemaFile(d.Name()):
			return nil
		}
		meta, err := f.metadata(p, d)
		if err != nil {
			return err
		}
		out = append(out, meta)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("storage: list %s: %w", dir, walkErr)
	}
	return out, nil
}

func (f *FS) metadata(abs string, d fs.DirEntry) (models.FileMetadata, error) {
	info, err := d.Info()
	if err != nil {
		return models.FileMetadata{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return models.FileMetadata{}, err
	}
	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return models.FileMetadata{}, err
	}
	return models.FileMetadata{
		Path:      filepath.ToSlash(rel),
		Checksum:  checksum.Sum(data),
		UpdatedAt: info.ModTime(),
	}, nil
}

// Read returns the raw bytes of a catalog file. A missing file wraps
// fs.ErrNotExist.
func (f *FS) Read(p string) ([]byte, error) {
	abs, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", p, err)
	}
	return data, nil
}

// Write replaces the file at p, creating parent directories as needed.
func (f *FS) Write(p string, content []byte) error {
	abs, err := f.resolve(p)
	if err != nil {
		return err
	}
	if err := writeAtomic(abs, content); err != nil {
		return fmt.Errorf("storage: write %s: %w", p, err)
	}
	return nil
}

// writeAtomic writes content to a synced sibling temp file and renames it
// over name, so readers see either the old or the new content.
func writeAtomic(name string, content []byte) (err error) {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(content); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), name)
}

// Delete removes a file from the catalog. A missing file wraps
// fs.ErrNotExist.
func (f *FS) Delete(p string) error {
	abs, err := f.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", p, err)
	}
	return nil
}

// Move renames a catalog file. It refuses to replace an existing file,
// returning apperr.ErrAlreadyExists.
func (f *FS) Move(from, to string) error {
	src, err := f.resolve(from)
	if err != nil {
		return err
	}
	dst, err := f.resolve(to)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("storage: move to %s: %w", to, apperr.ErrAlreadyExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: move: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("storage: move: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("storage: move %s: %w", from, err)
	}
	return nil
}
