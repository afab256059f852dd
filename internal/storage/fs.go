package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/starford/annostore/internal/apperr"
	"github.com/starford/annostore/internal/checksum"
	"github.com/starford/annostore/internal/models"
)

// CombinedSuffix is the only writable annotation file suffix.
const CombinedSuffix = ".ann"

// PartialSuffixes are legacy per-layer annotation files. A document backed
// by them is always opened read-only.
var PartialSuffixes = []string{".a1", ".a2", ".co", ".rel"}

const tmpPattern = ".annostore-tmp-*"

// Document is the resolved backing of one document.
type Document struct {
	Ref      string   // document reference, relative to root, without suffix
	Files    []string // backing files, relative to root
	ReadOnly bool
	Content  []byte // concatenated content as read at resolution
	ModTime  time.Time
}

// Path returns the single writable file of a combined document.
func (d *Document) Path() string {
	if d.ReadOnly || len(d.Files) != 1 {
		return ""
	}
	return d.Files[0]
}

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the data area
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

// Root returns the absolute data-area path.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the data root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: %w: absolute paths not allowed: %s", apperr.ErrInvalidPath, rel)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: %w: escapes data root: %s", apperr.ErrInvalidPath, rel)
	}
	return abs, nil
}

// DocRef maps an annotation file path to its document reference, or ""
// when the path has no recognised suffix.
func DocRef(path string) string {
	ext := filepath.Ext(path)
	if ext == CombinedSuffix || slices.Contains(PartialSuffixes, ext) {
		return strings.TrimSuffix(path, ext)
	}
	return ""
}

// Resolve locates the backing files of doc. The combined file wins when
// present; otherwise every existing partial file is read, in suffix order,
// and the document is read-only. A combined file that cannot be written is
// read-only too.
func (f *FS) Resolve(doc string) (*Document, error) {
	base, err := f.safePath(doc)
	if err != nil {
		return nil, err
	}
	if base == f.root {
		return nil, apperr.NotFound("empty document reference")
	}

	combined := base + CombinedSuffix
	if info, err := os.Stat(combined); err == nil {
		data, err := os.ReadFile(combined)
		if err != nil {
			return nil, fmt.Errorf("storage: read %s: %w", doc+CombinedSuffix, err)
		}
		return &Document{
			Ref:      doc,
			Files:    []string{doc + CombinedSuffix},
			ReadOnly: !writable(combined),
			Content:  data,
			ModTime:  info.ModTime(),
		}, nil
	}

	d := &Document{Ref: doc, ReadOnly: true}
	for _, suffix := range PartialSuffixes {
		p := base + suffix
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("storage: stat %s: %w", doc+suffix, err)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("storage: read %s: %w", doc+suffix, err)
		}
		if len(d.Content) > 0 && d.Content[len(d.Content)-1] != '\n' {
			d.Content = append(d.Content, '\n')
		}
		d.Content = append(d.Content, data...)
		d.Files = append(d.Files, doc+suffix)
		if info.ModTime().After(d.ModTime) {
			d.ModTime = info.ModTime()
		}
	}
	if len(d.Files) == 0 {
		return nil, apperr.NotFound("document " + doc)
	}
	return d, nil
}

// writable reports whether both the file and its directory accept writes,
// as the atomic replace needs to create a sibling temp file.
func writable(path string) bool {
	return unix.Access(path, unix.W_OK) == nil && unix.Access(filepath.Dir(path), unix.W_OK) == nil
}

// List walks dir (relative to root) and returns metadata for every document.
func (f *FS) List(dir string) ([]models.DocumentMetadata, error) {
	base, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	docs := make(map[string]*models.DocumentMetadata)
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(f.root, p)
		ref := DocRef(rel)
		if ref == "" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		m, ok := docs[ref]
		if !ok {
			m = &models.DocumentMetadata{Ref: ref, ReadOnly: true}
			docs[ref] = m
		}
		m.Files = append(m.Files, rel)
		if filepath.Ext(rel) == CombinedSuffix {
			m.ReadOnly = !writable(p)
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			m.Checksum = checksum.Sum(data)
		}
		if info.ModTime().After(m.UpdatedAt) {
			m.UpdatedAt = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}

	out := make([]models.DocumentMetadata, 0, len(docs))
	for _, m := range docs {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out, nil
}

// WriteVerified atomically writes content: tmp file → fsync → verify →
// rename. The original file mode is kept. Every failure is reported as an
// *apperr.PersistenceError and leaves the original file untouched.
func (f *FS) WriteVerified(path string, content []byte, verify func(tmpPath string) error) error {
	abs, err := f.safePath(path)
	if err != nil {
		return &apperr.PersistenceError{Path: path, Op: "resolve", Err: err}
	}
	fail := func(op string, err error) error {
		return &apperr.PersistenceError{Path: path, Op: op, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), tmpPattern)
	if err != nil {
		return fail("create temp", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if info, err := os.Stat(abs); err == nil {
		if err := tmp.Chmod(info.Mode().Perm()); err != nil {
			return fail("chmod temp", err)
		}
	}
	if _, err := tmp.Write(content); err != nil {
		return fail("write temp", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("fsync", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("close temp", err)
	}
	if verify != nil {
		if err := verify(tmpName); err != nil {
			return fail("verify", err)
		}
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fail("rename", err)
	}
	success = true
	return nil
}
