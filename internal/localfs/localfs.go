// Package localfs is the os-backed local storage used by the sync engine.
// All paths it accepts and returns are relative to the sync root,
// slash-separated and NFC-normalized.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/text/unicode/norm"
)

// TrashDir is the hidden directory receiving files deleted remotely. It is
// never enumerated.
const TrashDir = ".trash"

// DefaultCacheTTL bounds how long an enumeration is reused.
const DefaultCacheTTL = 2 * time.Second

const (
	dirPerms  = 0o755
	filePerms = 0o644
)

// snapshotKey is the single cache slot for the enumeration snapshot.
const snapshotKey = "tree"

// ErrNotDirectory is returned when the sync root is not a directory.
var ErrNotDirectory = errors.New("localfs: sync root is not a directory")

// FileInfo describes a supported local file.
type FileInfo struct {
	Path    string
	ModTime int64 // Unix ms
	Size    int64
}

// Options configures enumeration filters and caching.
type Options struct {
	SkipDirs     []string // doublestar patterns matched against name and relative path
	SkipFiles    []string
	SkipDotfiles bool
	CacheTTL     time.Duration
}

type snapshot struct {
	files []FileInfo
	dirs  []string
}

// FS is local storage rooted at one directory.
type FS struct {
	root   string
	opts   Options
	logger *slog.Logger
	cache  *expirable.LRU[string, *snapshot]
}

// New validates root and returns storage rooted there. Patterns are
// validated up front so a typo surfaces at startup.
func New(root string, opts Options, logger *slog.Logger) (*FS, error) {
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("localfs: stat sync root %s: %w", root, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("localfs: %s: %w", root, ErrNotDirectory)
	}

	for _, p := range append(append([]string{}, opts.SkipDirs...), opts.SkipFiles...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("localfs: invalid skip pattern %q", p)
		}
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &FS{
		root:   root,
		opts:   opts,
		logger: logger,
		cache:  expirable.NewLRU[string, *snapshot](1, nil, ttl),
	}, nil
}

// Root returns the absolute sync root.
func (f *FS) Root() string {
	return f.root
}

// IsSupported reports whether a file name has a synced extension.
func IsSupported(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".txt", ".md":
		return true
	default:
		return false
	}
}

// Normalize returns the canonical form of a relative path.
func Normalize(rel string) string {
	rel = filepath.ToSlash(rel)
	rel = strings.Trim(rel, "/")

	return norm.NFC.String(rel)
}

// invalidate drops the cached enumeration after any mutation.
func (f *FS) invalidate() {
	f.cache.Remove(snapshotKey)
}

// ListFiles enumerates every supported file beneath the root.
func (f *FS) ListFiles(ctx context.Context) ([]FileInfo, error) {
	snap, err := f.enumerate(ctx)
	if err != nil {
		return nil, err
	}

	return snap.files, nil
}

// ListDirs enumerates every directory beneath the root (excluding the root).
func (f *FS) ListDirs(ctx context.Context) ([]string, error) {
	snap, err := f.enumerate(ctx)
	if err != nil {
		return nil, err
	}

	return snap.dirs, nil
}

func (f *FS) enumerate(ctx context.Context) (*snapshot, error) {
	if snap, ok := f.cache.Get(snapshotKey); ok {
		return snap, nil
	}

	snap := &snapshot{}

	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if walkErr != nil {
			if p == f.root {
				return walkErr
			}

			f.logger.Warn("skipping unreadable entry", slog.String("path", p), slog.String("error", walkErr.Error()))

			if d != nil && d.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		if p == f.root {
			return nil
		}

		relOS, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}

		rel := Normalize(relOS)
		name := path.Base(rel)

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if d.IsDir() {
			if f.skipDir(rel, name) {
				return fs.SkipDir
			}

			snap.dirs = append(snap.dirs, rel)

			return nil
		}

		if !d.Type().IsRegular() || !IsSupported(name) || f.skipFile(rel, name) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Removed between readdir and stat.
			return nil
		}

		snap.files = append(snap.files, FileInfo{
			Path:    rel,
			ModTime: info.ModTime().UnixMilli(),
			Size:    info.Size(),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("localfs: enumerating %s: %w", f.root, err)
	}

	sort.Slice(snap.files, func(i, j int) bool { return snap.files[i].Path < snap.files[j].Path })
	sort.Strings(snap.dirs)

	f.cache.Add(snapshotKey, snap)

	return snap, nil
}

func (f *FS) skipDir(rel, name string) bool {
	if rel == TrashDir || (f.opts.SkipDotfiles && strings.HasPrefix(name, ".")) {
		return true
	}

	return matchAny(f.opts.SkipDirs, rel, name)
}

func (f *FS) skipFile(rel, name string) bool {
	if f.opts.SkipDotfiles && strings.HasPrefix(name, ".") {
		return true
	}

	return matchAny(f.opts.SkipFiles, rel, name)
}

// Excluded reports whether rel falls under a skipped directory, or, for a
// file, is itself skipped or unsupported. Remote entries are checked
// against it so skipped local paths are never created by a pull.
func (f *FS) Excluded(rel string, isDir bool) bool {
	rel = Normalize(rel)
	if rel == "" {
		return false
	}

	segs := strings.Split(rel, "/")
	dirSegs := segs
	if !isDir {
		dirSegs = segs[:len(segs)-1]
	}

	for i := range dirSegs {
		if f.skipDir(strings.Join(segs[:i+1], "/"), segs[i]) {
			return true
		}
	}

	if isDir {
		return false
	}

	name := segs[len(segs)-1]

	return !IsSupported(name) || f.skipFile(rel, name)
}

func matchAny(patterns []string, rel, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}

		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}

	return false
}

// abs maps a relative path to the on-disk path. When the exact bytes are
// not present it falls back to matching each segment by NFC form, so names
// stored decomposed on disk still resolve.
func (f *FS) abs(rel string) string {
	rel = Normalize(rel)
	direct := filepath.Join(f.root, filepath.FromSlash(rel))

	if rel == "" {
		return f.root
	}

	if _, err := os.Lstat(direct); err == nil {
		return direct
	}

	cur := f.root

	for _, seg := range strings.Split(rel, "/") {
		next := filepath.Join(cur, seg)

		if _, err := os.Lstat(next); err != nil {
			if match, ok := findNFC(cur, seg); ok {
				next = filepath.Join(cur, match)
			}
		}

		cur = next
	}

	return cur
}

func findNFC(dir, want string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	for _, e := range entries {
		if norm.NFC.String(e.Name()) == want {
			return e.Name(), true
		}
	}

	return "", false
}

// Stat returns size and mtime for a file; ok is false when it is absent.
func (f *FS) Stat(rel string) (FileInfo, bool, error) {
	info, err := os.Stat(f.abs(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return FileInfo{}, false, nil
	}

	if err != nil {
		return FileInfo{}, false, fmt.Errorf("localfs: stat %s: %w", rel, err)
	}

	if info.IsDir() {
		return FileInfo{}, false, nil
	}

	return FileInfo{Path: Normalize(rel), ModTime: info.ModTime().UnixMilli(), Size: info.Size()}, true, nil
}

// Exists reports whether a file or directory exists at rel.
func (f *FS) Exists(rel string) bool {
	_, err := os.Lstat(f.abs(rel))

	return err == nil
}

// IsDir reports whether rel is an existing directory.
func (f *FS) IsDir(rel string) bool {
	info, err := os.Stat(f.abs(rel))

	return err == nil && info.IsDir()
}

// ReadFile returns the content of a file.
func (f *FS) ReadFile(rel string) ([]byte, error) {
	data, err := os.ReadFile(f.abs(rel))
	if err != nil {
		return nil, fmt.Errorf("localfs: reading %s: %w", rel, err)
	}

	return data, nil
}

// ListNames returns the names of the direct children of dir.
func (f *FS) ListNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(f.abs(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("localfs: listing %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, norm.NFC.String(e.Name()))
	}

	return names, nil
}

// MkdirAll creates dir and any missing parents.
func (f *FS) MkdirAll(dir string) error {
	if err := os.MkdirAll(f.abs(dir), dirPerms); err != nil {
		return fmt.Errorf("localfs: creating directory %s: %w", dir, err)
	}

	f.invalidate()

	return nil
}

// WriteFile replaces the content of rel atomically (temp file in the same
// directory, fsync, rename), creating parent directories.
func (f *FS) WriteFile(rel string, data []byte) error {
	defer f.invalidate()

	target := f.abs(rel)
	dir := filepath.Dir(target)

	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return fmt.Errorf("localfs: creating directory for %s: %w", rel, err)
	}

	tmp, err := os.CreateTemp(dir, ".notesync-*.tmp")
	if err != nil {
		return fmt.Errorf("localfs: creating temp file for %s: %w", rel, err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("localfs: writing %s: %w", rel, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("localfs: syncing %s: %w", rel, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("localfs: closing %s: %w", rel, err)
	}

	if err := os.Chmod(tmpPath, filePerms); err != nil {
		return fmt.Errorf("localfs: setting permissions on %s: %w", rel, err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("localfs: renaming into %s: %w", rel, err)
	}

	success = true

	return nil
}

// Move renames a file or directory, creating the destination's parents.
func (f *FS) Move(from, to string) error {
	defer f.invalidate()

	dst := filepath.Join(f.root, filepath.FromSlash(Normalize(to)))

	if err := os.MkdirAll(filepath.Dir(dst), dirPerms); err != nil {
		return fmt.Errorf("localfs: creating directory for %s: %w", to, err)
	}

	if err := os.Rename(f.abs(from), dst); err != nil {
		return fmt.Errorf("localfs: moving %s to %s: %w", from, to, err)
	}

	return nil
}

// Copy duplicates a file.
func (f *FS) Copy(from, to string) error {
	src, err := os.Open(f.abs(from))
	if err != nil {
		return fmt.Errorf("localfs: opening %s: %w", from, err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("localfs: reading %s: %w", from, err)
	}

	return f.WriteFile(to, data)
}

// Remove deletes a file. A missing file is not an error.
func (f *FS) Remove(rel string) error {
	defer f.invalidate()

	if err := os.Remove(f.abs(rel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("localfs: removing %s: %w", rel, err)
	}

	return nil
}

// RemoveDirIfEmpty deletes dir when its tree holds no regular files, and
// reports whether it did.
func (f *FS) RemoveDirIfEmpty(dir string) (bool, error) {
	if Normalize(dir) == "" {
		return false, nil
	}

	target := f.abs(dir)

	var hasFiles bool

	err := filepath.WalkDir(target, func(_ string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if !d.IsDir() {
			hasFiles = true

			return fs.SkipAll
		}

		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("localfs: inspecting %s: %w", dir, err)
	}

	if hasFiles {
		return false, nil
	}

	defer f.invalidate()

	if err := os.RemoveAll(target); err != nil {
		return false, fmt.Errorf("localfs: removing %s: %w", dir, err)
	}

	return true, nil
}

// RemoveAll deletes a directory tree. The root itself is never removed.
func (f *FS) RemoveAll(dir string) error {
	if Normalize(dir) == "" {
		return fmt.Errorf("localfs: refusing to remove the sync root")
	}

	defer f.invalidate()

	if err := os.RemoveAll(f.abs(dir)); err != nil {
		return fmt.Errorf("localfs: removing %s: %w", dir, err)
	}

	return nil
}

// Rel returns the root-relative form of an absolute path under the root.
func (f *FS) Rel(absPath string) (string, error) {
	rel, err := filepath.Rel(f.root, absPath)
	if err != nil {
		return "", fmt.Errorf("localfs: relativizing %s: %w", absPath, err)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("localfs: %s is outside the sync root", absPath)
	}

	if rel == "." {
		return "", nil
	}

	return Normalize(rel), nil
}
