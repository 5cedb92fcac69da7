package fileops

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/joe/remotefs/pkg/filesystem"
)

// Remote is the part of a filesystem.Provider that transfers use.
type Remote interface {
	Stat(ctx context.Context, name string) (filesystem.FileInfo, error)
	MkdirAll(ctx context.Context, name string) error
	OpenRead(ctx context.Context, name string) (*filesystem.Channel, error)
	OpenWrite(ctx context.Context, name string, mode filesystem.OpenMode) (*filesystem.Channel, error)
}

// Options tune a transfer.
type Options struct {
	Progress ProgressCallback
	// Hash records the SHA-256 of the transferred bytes in CopyStats.
	Hash bool
	// Mode applies to uploads. Append adds the local file to the remote one.
	Mode filesystem.OpenMode
	// CreateParents creates missing destination directories.
	CreateParents bool
}

// Transfers moves files between the local disk and one remote filesystem.
type Transfers struct {
	remote Remote
}

// NewTransfers creates a Transfers instance for remote.
func NewTransfers(remote Remote) *Transfers {
	return &Transfers{remote: remote}
}

// Download copies the remote file src to the local path dst and preserves
// its modification time. A partial local file is removed on failure.
func (t *Transfers) Download(ctx context.Context, src, dst string, opts Options) (*CopyStats, error) {
	stats := &CopyStats{}

	info, err := t.remote.Stat(ctx, src)
	if err != nil {
		return stats, fmt.Errorf("failed to stat source file %s: %w", src, err)
	}

	channel, err := t.remote.OpenRead(ctx, src)
	if err != nil {
		return stats, fmt.Errorf("failed to open source file %s: %w", src, err)
	}

	defer func() {
		_ = channel.Close()
	}()

	if opts.CreateParents {
		dstDir := filepath.Dir(dst)
		if err := os.MkdirAll(dstDir, DefaultDirPermissions); err != nil {
			return stats, fmt.Errorf("failed to create destination directory %s: %w", dstDir, err)
		}
	}

	destFile, err := os.Create(dst) // #nosec G304 - file path is controlled by caller
	if err != nil {
		return stats, fmt.Errorf("failed to create destination file %s: %w", dst, err)
	}

	copyCompleted := false

	defer func() {
		_ = destFile.Close()

		if !copyCompleted {
			_ = os.Remove(dst)
		}
	}()

	job := copyJob{src: channel, dst: destFile, size: info.Size(), name: src, progress: opts.Progress}
	if opts.Hash {
		job.hash = sha256.New()
	}

	if err := copyLoopWithStats(ctx, job, stats); err != nil {
		return stats, fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}

	if err := destFile.Close(); err != nil {
		return stats, fmt.Errorf("failed to close destination file %s: %w", dst, err)
	}

	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return stats, fmt.Errorf("failed to preserve modification time for %s: %w", dst, err)
	}

	copyCompleted = true

	return stats, nil
}

// Upload copies the local file src to the remote path dst. Nothing reaches
// the server unless the whole file was read.
func (t *Transfers) Upload(ctx context.Context, src, dst string, opts Options) (*CopyStats, error) {
	stats := &CopyStats{}

	sourceFile, err := os.Open(src) // #nosec G304 - file path is controlled by caller
	if err != nil {
		return stats, fmt.Errorf("failed to open source file %s: %w", src, err)
	}

	defer func() {
		_ = sourceFile.Close()
	}()

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return stats, fmt.Errorf("failed to stat source file %s: %w", src, err)
	}

	if opts.CreateParents {
		if err := t.remote.MkdirAll(ctx, path.Dir(dst)); err != nil {
			return stats, fmt.Errorf("failed to create destination directory %s: %w", path.Dir(dst), err)
		}
	}

	channel, err := t.remote.OpenWrite(ctx, dst, opts.Mode)
	if err != nil {
		return stats, fmt.Errorf("failed to open destination file %s: %w", dst, err)
	}

	job := copyJob{src: sourceFile, dst: channel, size: sourceInfo.Size(), name: src, progress: opts.Progress}
	if opts.Hash {
		job.hash = sha256.New()
	}

	if err := copyLoopWithStats(ctx, job, stats); err != nil {
		channel.Abort()

		return stats, fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}

	if err := channel.CloseContext(ctx); err != nil {
		return stats, fmt.Errorf("failed to upload %s: %w", dst, err)
	}

	return stats, nil
}
