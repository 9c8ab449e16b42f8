// Package templates loads and caches the pattern images the matchers look for.
package templates

import (
	"image"
	_ "image/jpeg" // decoder registration
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
)

// DuplicateDistance is the difference-hash distance at or below which two
// templates are reported as near duplicates.
const DuplicateDistance = 2

// Template is a decoded pattern image. Immutable once loaded.
type Template struct {
	Name  string
	Path  string
	Image *image.RGBA
	Hash  *goimagehash.ImageHash
}

// Size returns the template extent in pixels.
func (t *Template) Size() image.Point { return t.Image.Bounds().Size() }

// Store caches decoded templates by path for the lifetime of the process.
type Store struct {
	mu        sync.RWMutex
	cache     map[string]*Template
	loaded    []*Template
	maxExtent image.Point
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{cache: make(map[string]*Template)}
}

// LoadAll decodes every file in dir (non-recursive) whose extension matches exts,
// sorted by file name. Files that fail to decode are logged and skipped.
func (s *Store) LoadAll(dir string, exts []string) ([]*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeTemplateDirUnreadable, "read template dir %s", dir)
	}

	out := make([]*Template, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name(), exts) {
			continue
		}
		t, err := s.Get(filepath.Join(dir, e.Name()))
		if err != nil {
			slog.Warn("skipping template", "path", filepath.Join(dir, e.Name()), "error", err)
			continue
		}
		out = append(out, t)
	}
	reportDuplicates(out)

	var extent image.Point
	for _, t := range out {
		sz := t.Size()
		extent.X = max(extent.X, sz.X)
		extent.Y = max(extent.Y, sz.Y)
	}

	s.mu.Lock()
	s.loaded = out
	s.maxExtent = extent
	s.mu.Unlock()

	slog.Info("templates loaded", "dir", dir, "count", len(out), "max_extent", extent)
	return out, nil
}

// Get returns the cached template for path, decoding it on first access.
func (s *Store) Get(path string) (*Template, error) {
	s.mu.RLock()
	t, ok := s.cache[path]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := decode(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[path]; ok {
		return cached, nil
	}
	s.cache[path] = t
	return t, nil
}

// Loaded returns the set from the last LoadAll.
func (s *Store) Loaded() []*Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// MaxExtent returns the largest width and height across the last loaded set.
func (s *Store) MaxExtent() image.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxExtent
}

// Len returns the number of cached templates.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// Clear drops every cached template so the next Get re-reads from disk.
func (s *Store) Clear() {
	s.mu.Lock()
	s.cache = make(map[string]*Template)
	s.loaded = nil
	s.maxExtent = image.Point{}
	s.mu.Unlock()
}

func decode(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeTemplateDecodeFailed, "open template").WithMetadata("path", path)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeTemplateDecodeFailed, "decode template").WithMetadata("path", path)
	}
	if img.Bounds().Empty() {
		return nil, apperrors.New(apperrors.CodeTemplateDecodeFailed, "template is empty").WithMetadata("path", path)
	}

	rgba := ToRGBA(img)
	hash, err := goimagehash.DifferenceHash(rgba)
	if err != nil {
		slog.Debug("template hash failed", "path", path, "error", err)
	}

	slog.Debug("template decoded", "path", path, "format", format, "size", rgba.Bounds().Size())
	return &Template{
		Name:  strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path:  path,
		Image: rgba,
		Hash:  hash,
	}, nil
}

// ToRGBA returns img as a contiguous RGBA anchored at the origin, copying only
// when needed. SubImage views are always copied.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) && rgba.Stride == 4*rgba.Bounds().Dx() {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func hasExt(name string, exts []string) bool {
	return slices.Contains(exts, strings.ToLower(filepath.Ext(name)))
}

func reportDuplicates(ts []*Template) {
	for i, t := range ts {
		if t.Hash == nil {
			continue
		}
		for _, earlier := range ts[:i] {
			if earlier.Hash == nil {
				continue
			}
			dist, err := earlier.Hash.Distance(t.Hash)
			if err != nil || dist > DuplicateDistance {
				continue
			}
			slog.Warn("near-duplicate template", "template", t.Name, "duplicate_of", earlier.Name, "distance", dist)
			break
		}
	}
}
