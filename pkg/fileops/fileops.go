// Package fileops copies file contents between the local disk and a remote
// filesystem, reporting progress and timing.
package fileops

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"
)

// Exported constants.
const (
	// BufferSize is the size of the buffer used for transfers (32KB)
	BufferSize = 32 * 1024
	// DefaultDirPermissions is the default permission mode for created local directories
	DefaultDirPermissions = 0o750
)

// Exported variables.
var (
	ErrCopyCancelled = errors.New("copy cancelled")
)

// CopyStats contains timing information about a transfer
type CopyStats struct {
	BytesCopied int64
	ReadTime    time.Duration
	WriteTime   time.Duration
	// Hash is the hex SHA-256 of the transferred bytes, when requested.
	Hash string
}

// ProgressCallback is called during transfers to report progress.
// totalBytes is -1 when the size is not known up front.
type ProgressCallback func(bytesTransferred int64, totalBytes int64, currentFile string)

// ComputeHash returns the hex SHA-256 of everything r yields.
func ComputeHash(r io.Reader) (string, error) {
	h := sha256.New()

	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to read for hashing: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyJob is one buffered copy.
type copyJob struct {
	src      io.Reader
	dst      io.Writer
	size     int64
	name     string
	progress ProgressCallback
	hash     hash.Hash
}

// checkCancellation checks if the transfer has been cancelled.
func checkCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCopyCancelled, ctx.Err())
	default:
		return nil
	}
}

// copyLoopWithStats performs the copy with progress tracking and timing.
func copyLoopWithStats(ctx context.Context, job copyJob, stats *CopyStats) error {
	buf := make([]byte, BufferSize)

	for {
		if err := checkCancellation(ctx); err != nil {
			return err
		}

		readStart := time.Now()
		nr, err := job.src.Read(buf) //nolint:varnamelen // nr is idiomatic for bytes read
		stats.ReadTime += time.Since(readStart)

		if nr > 0 {
			writeStart := time.Now()
			nw, werr := job.dst.Write(buf[:nr]) //nolint:varnamelen // nw is idiomatic for bytes written
			stats.WriteTime += time.Since(writeStart)

			if werr != nil {
				return fmt.Errorf("failed to write to destination: %w", werr)
			}

			if nr != nw {
				return fmt.Errorf("short write: %w", io.ErrShortWrite)
			}

			if job.hash != nil {
				_, _ = job.hash.Write(buf[:nr])
			}

			stats.BytesCopied += int64(nw)

			if job.progress != nil {
				job.progress(stats.BytesCopied, job.size, job.name)
			}
		}

		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("failed to read from source: %w", err)
		}
	}

	if job.hash != nil {
		stats.Hash = hex.EncodeToString(job.hash.Sum(nil))
	}

	return nil
}
