package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	pkgerrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/session"
)

// OpenMode selects what OpenWrite does with an existing file.
type OpenMode int

// Open modes.
const (
	// Overwrite replaces any existing content.
	Overwrite OpenMode = iota
	// CreateNew fails with ErrAlreadyExists when the file exists.
	CreateNew
	// Append starts from the existing content.
	Append
)

func (m OpenMode) String() string {
	switch m {
	case Overwrite:
		return "overwrite"
	case CreateNew:
		return "create-new"
	case Append:
		return "append"
	default:
		return fmt.Sprintf("OpenMode(%d)", int(m))
	}
}

// Channel is a seekable handle on a remote file, backed by a local staging
// file. Reads are served from a full download taken at open time. Writes
// touch only the staging file until Close uploads it as a whole.
//
// A Channel is safe for concurrent use; Close is idempotent and every other
// method fails with fs.ErrClosed afterwards.
type Channel struct {
	provider *Provider
	path     string
	writable bool

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// OpenRead downloads name into a staging file and returns a read-only
// channel positioned at the start.
func (p *Provider) OpenRead(ctx context.Context, name string) (*Channel, error) {
	name = p.Resolve(name)

	info, err := p.Stat(ctx, name)
	if err != nil {
		return nil, err
	}

	if !info.IsRegular() {
		return nil, fmt.Errorf("open %s: %w", name, pkgerrors.ErrNotAFile)
	}

	file, err := p.createTemp("remotefs-read-*")
	if err != nil {
		return nil, err
	}

	err = p.withSession(ctx, func(s session.Session) error {
		_, err := s.Retrieve(name, file)

		return err
	})
	if err == nil {
		_, err = file.Seek(0, io.SeekStart)
	}

	if err != nil {
		discardTemp(file)

		return nil, err
	}

	return &Channel{provider: p, path: name, file: file}, nil
}

// OpenWrite returns a writable channel for name. Nothing reaches the server
// before Close.
func (p *Provider) OpenWrite(ctx context.Context, name string, mode OpenMode) (*Channel, error) {
	name = p.Resolve(name)

	info, err := p.Stat(ctx, name)
	exists := err == nil

	if err != nil && !errors.Is(err, pkgerrors.ErrNotFound) {
		return nil, err
	}

	if exists && !info.IsRegular() {
		return nil, fmt.Errorf("open %s: %w", name, pkgerrors.ErrNotAFile)
	}

	if exists && mode == CreateNew {
		return nil, fmt.Errorf("open %s: %w", name, pkgerrors.ErrAlreadyExists)
	}

	file, err := p.createTemp("remotefs-write-*")
	if err != nil {
		return nil, err
	}

	if exists && mode == Append {
		err = p.withSession(ctx, func(s session.Session) error {
			_, err := s.Retrieve(name, file)

			return err
		})
		if err != nil {
			discardTemp(file)

			return nil, err
		}
	}

	return &Channel{provider: p, path: name, file: file, writable: true}, nil
}

// Path returns the remote path.
func (c *Channel) Path() string {
	return c.path
}

// Writable reports whether the channel was opened for writing.
func (c *Channel) Writable() bool {
	return c.writable
}

func (c *Channel) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, fs.ErrClosed
	}

	return c.file.Read(b)
}

// ReadAt reads from the staged content without moving the offset.
func (c *Channel) ReadAt(b []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, fs.ErrClosed
	}

	return c.file.ReadAt(b, off)
}

func (c *Channel) Seek(offset int64, whence int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, fs.ErrClosed
	}

	return c.file.Seek(offset, whence)
}

func (c *Channel) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkWritable("write"); err != nil {
		return 0, err
	}

	return c.file.Write(b)
}

// WriteAt writes into the staging file at off.
func (c *Channel) WriteAt(b []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkWritable("write"); err != nil {
		return 0, err
	}

	return c.file.WriteAt(b, off)
}

// Truncate changes the staged size.
func (c *Channel) Truncate(size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkWritable("truncate"); err != nil {
		return err
	}

	return c.file.Truncate(size)
}

// Size returns the staged size.
func (c *Channel) Size() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, fs.ErrClosed
	}

	info, err := c.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat staging file: %w", err)
	}

	return info.Size(), nil
}

// Close is CloseContext with a background context.
func (c *Channel) Close() error {
	return c.CloseContext(context.Background())
}

// CloseContext releases the channel. For a writable channel it replaces the
// remote file with the staged content: the current remote attributes are
// fetched, an existing file is deleted (best-effort) and the whole staging
// file is uploaded. The staging file is always removed.
func (c *Channel) CloseContext(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	defer discardTemp(c.file)

	if !c.writable {
		return nil
	}

	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind staging file: %w", err)
	}

	p := c.provider
	defer p.invalidate(c.path)

	return p.withSession(ctx, func(s session.Session) error {
		info, err := p.statLive(s, c.path)

		switch {
		case err == nil && !info.IsRegular():
			return fmt.Errorf("upload %s: %w", c.path, pkgerrors.ErrNotAFile)
		case err == nil:
			if err := s.Remove(c.path); err != nil && !errors.Is(err, pkgerrors.ErrNotFound) {
				if errors.Is(err, pkgerrors.ErrConnectionLost) {
					return err
				}

				p.logger.WithError(err).WithField("path", c.path).Debug("removing previous version failed")
			}
		case errors.Is(err, pkgerrors.ErrNotFound):
		default:
			return err
		}

		_, err = s.Store(c.path, c.file)

		return err
	})
}

// Abort closes the channel without uploading anything.
func (c *Channel) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	discardTemp(c.file)
}

// checkWritable must be called with mu held.
func (c *Channel) checkWritable(op string) error {
	if c.closed {
		return fs.ErrClosed
	}

	if !c.writable {
		return &fs.PathError{Op: op, Path: c.path, Err: fs.ErrPermission}
	}

	return nil
}

func discardTemp(file *os.File) {
	_ = file.Close()
	_ = os.Remove(file.Name())
}
