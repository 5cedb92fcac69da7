package filesystem

import (
	"io/fs"
	"path"
	"time"

	"github.com/joe/remotefs/pkg/session"
)

// FileInfo is metadata for one remote path. It implements os.FileInfo.
type FileInfo struct {
	path    string
	size    int64
	modTime time.Time
	mode    fs.FileMode
}

func newFileInfo(p string, entry session.Entry) FileInfo {
	return FileInfo{path: p, size: entry.Size, modTime: entry.ModTime, mode: entry.Mode}
}

func rootInfo() FileInfo {
	return FileInfo{path: "/", mode: fs.ModeDir | 0o755}
}

// Path returns the absolute remote path.
func (i FileInfo) Path() string { return i.path }

// Name returns the last element of the path.
func (i FileInfo) Name() string { return path.Base(i.path) }

func (i FileInfo) Size() int64 { return i.size }

func (i FileInfo) Mode() fs.FileMode { return i.mode }

func (i FileInfo) ModTime() time.Time { return i.modTime }

func (i FileInfo) IsDir() bool { return i.mode.IsDir() }

// IsRegular reports whether the path is a plain file.
func (i FileInfo) IsRegular() bool { return i.mode.IsRegular() }

// Sys returns nil.
func (i FileInfo) Sys() any { return nil }
