package filesystem

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// FileScanner is an iterator over files in a directory tree.
// It provides a simple Next pattern for traversing directory contents.
type FileScanner interface {
	// Next advances to the next entry and returns it.
	// Returns (ScanEntry{}, false) when done or on error.
	// Check Err() after Next() returns false to distinguish between end-of-scan and error.
	Next() (ScanEntry, bool)

	// Err returns any error that occurred during scanning.
	Err() error
}

// ScanEntry is one path found by a scan.
type ScanEntry struct {
	// RelativePath is the slash-separated path relative to the scan root.
	RelativePath string
	Size         int64
	ModTime      time.Time
	IsDir        bool
	Info         FileInfo
}

// ScanOptions filter a scan. Patterns use doublestar syntax ("**/*.log")
// and match against the path relative to the root.
type ScanOptions struct {
	// Include keeps only files matching at least one pattern. Empty keeps all.
	Include []string
	// Exclude drops matching files and prunes matching directories.
	Exclude []string
	// FilesOnly leaves directories out of the results.
	FilesOnly bool
}

// Scan returns an iterator over the tree below root. The walk runs lazily
// on the first call to Next.
func (p *Provider) Scan(ctx context.Context, root string, opts ScanOptions) FileScanner {
	for _, pattern := range append(append([]string(nil), opts.Include...), opts.Exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return &remoteScanner{err: fmt.Errorf("invalid pattern %q: %w", pattern, doublestar.ErrBadPattern), scanned: true}
		}
	}

	return &remoteScanner{provider: p, ctx: ctx, root: p.Resolve(root), opts: opts, index: -1}
}

type remoteScanner struct {
	provider *Provider
	ctx      context.Context //nolint:containedctx // The iterator outlives the Scan call
	root     string
	opts     ScanOptions
	entries  []ScanEntry
	index    int
	err      error
	scanned  bool
}

// Err returns any error that occurred during scanning.
func (s *remoteScanner) Err() error {
	return s.err
}

// Next advances to the next entry and returns it.
func (s *remoteScanner) Next() (ScanEntry, bool) {
	if !s.scanned {
		s.scan()
		s.scanned = true
	}

	if s.err != nil {
		return ScanEntry{}, false
	}

	s.index++
	if s.index >= len(s.entries) {
		return ScanEntry{}, false
	}

	return s.entries[s.index], true
}

func (s *remoteScanner) scan() {
	walker := s.provider.Walk(s.ctx, s.root)

	for walker.Step() {
		if err := walker.Err(); err != nil {
			s.err = fmt.Errorf("error scanning %s: %w", s.root, err)

			return
		}

		fullPath := walker.Path()
		if fullPath == s.root {
			continue
		}

		relPath, err := relativePath(s.root, fullPath)
		if err != nil {
			s.err = err

			return
		}

		info, _ := walker.Stat().(FileInfo)

		if matchAny(s.opts.Exclude, relPath) {
			if info.IsDir() {
				walker.SkipDir()
			}

			continue
		}

		if info.IsDir() {
			if !s.opts.FilesOnly {
				s.entries = append(s.entries, scanEntry(relPath, info))
			}

			continue
		}

		if len(s.opts.Include) > 0 && !matchAny(s.opts.Include, relPath) {
			continue
		}

		s.entries = append(s.entries, scanEntry(relPath, info))
	}
}

func scanEntry(relPath string, info FileInfo) ScanEntry {
	return ScanEntry{
		RelativePath: relPath,
		Size:         info.Size(),
		ModTime:      info.ModTime(),
		IsDir:        info.IsDir(),
		Info:         info,
	}
}

// matchAny reports whether name matches one of the validated patterns.
func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}

	return false
}

// relativePath computes the relative path from root to target.
func relativePath(root, target string) (string, error) {
	root = path.Clean(root)
	target = path.Clean(target)

	if root != "/" {
		root += "/"
	}

	if len(target) < len(root) || target[:len(root)] != root {
		return "", fmt.Errorf("target %s is not under root %s", target, root) //nolint:err113 // Path validation error with actual paths
	}

	relPath := target[len(root):]
	if relPath == "" {
		return ".", nil
	}

	return relPath, nil
}
