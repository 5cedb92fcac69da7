package session

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/joe/remotefs/pkg/errors"
)

// FTP-style reply codes produced by MemSession.
const (
	memCodeUnavailable    = 550
	memCodeNotImplemented = 502
)

type memNode struct {
	dir     bool
	data    []byte
	modTime time.Time
}

// MemServer is an in-memory remote filesystem shared by MemSessions. It
// counts every protocol call so tests can assert round trips.
type MemServer struct {
	mu    sync.Mutex
	nodes map[string]*memNode
	calls map[string]int
	log   []string
	now   func() time.Time
}

// NewMemServer returns a server holding only the root directory.
func NewMemServer() *MemServer {
	return &MemServer{
		nodes: map[string]*memNode{"/": {dir: true, modTime: time.Now()}},
		calls: make(map[string]int),
		now:   time.Now,
	}
}

// SetClock replaces the clock used for modification times.
func (s *MemServer) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = now
}

// AddFile stores a file, creating missing parents.
func (s *MemServer) AddFile(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p = memClean(p)
	s.mkdirAllLocked(path.Dir(p))
	s.nodes[p] = &memNode{data: bytes.Clone(data), modTime: s.now()}
}

// AddDir creates a directory and its missing parents.
func (s *MemServer) AddDir(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mkdirAllLocked(memClean(p))
}

// Exists reports whether p is present.
func (s *MemServer) Exists(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.nodes[memClean(p)]

	return ok
}

// ReadFile returns the content of a file.
func (s *MemServer) ReadFile(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[memClean(p)]
	if !ok || node.dir {
		return nil, false
	}

	return bytes.Clone(node.data), true
}

// Calls returns how often op ("list", "stat", "mkdir", "remove", "rmdir",
// "rename", "retrieve", "store", "keepalive") was called.
func (s *MemServer) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[op]
}

// TotalCalls returns the number of protocol calls of any kind.
func (s *MemServer) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, n := range s.calls {
		total += n
	}

	return total
}

// CallLog returns every protocol call in order, as "op path".
func (s *MemServer) CallLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.log)
}

// ResetCalls zeroes the call counters and the call log.
func (s *MemServer) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = make(map[string]int)
	s.log = nil
}

func (s *MemServer) mkdirAllLocked(p string) {
	for dir := p; ; dir = path.Dir(dir) {
		if _, ok := s.nodes[dir]; !ok {
			s.nodes[dir] = &memNode{dir: true, modTime: s.now()}
		}

		if dir == "/" {
			return
		}
	}
}

func (s *MemServer) childrenLocked(dir string) []string {
	prefix := dir + "/"
	if dir == "/" {
		prefix = "/"
	}

	var names []string

	for p := range s.nodes {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}

		if rest := p[len(prefix):]; !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}

	sort.Strings(names)

	return names
}

// MemFactory opens MemSessions against one MemServer.
type MemFactory struct {
	server *MemServer
	caps   Capabilities

	mu       sync.Mutex
	failures []error
	sessions []*MemSession
}

// NewMemFactory returns a factory whose sessions report caps.
func NewMemFactory(server *MemServer, caps Capabilities) *MemFactory {
	return &MemFactory{server: server, caps: caps}
}

// FailNext makes the next len(errs) calls to NewSession fail in order.
func (f *MemFactory) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures = append(f.failures, errs...)
}

// NewSession implements Factory.
func (f *MemFactory) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]

		return nil, err
	}

	session := &MemSession{id: len(f.sessions) + 1, server: f.server, caps: f.caps}
	f.sessions = append(f.sessions, session)

	return session, nil
}

// Capabilities implements Factory.
func (f *MemFactory) Capabilities() (Capabilities, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.caps, len(f.sessions) > 0
}

// Created returns how many sessions were opened.
func (f *MemFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.sessions)
}

// Sessions returns every session opened so far.
func (f *MemFactory) Sessions() []*MemSession {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*MemSession(nil), f.sessions...)
}

// MemSession is a Session backed by a MemServer. Replies mimic an FTP
// server: failures are *ProtocolError with code 550.
type MemSession struct {
	id     int
	server *MemServer
	caps   Capabilities

	mu           sync.Mutex
	closed       bool
	broken       bool
	keepAliveErr error
}

// ID is the 1-based creation order within the factory.
func (s *MemSession) ID() int {
	return s.id
}

// SetKeepAliveError makes KeepAlive fail with err; nil restores it.
func (s *MemSession) SetKeepAliveError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keepAliveErr = err
}

// Break makes every later call fail as if the connection dropped.
func (s *MemSession) Break() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.broken = true
}

// Closed reports whether Close was called.
func (s *MemSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// Capabilities implements Session.
func (s *MemSession) Capabilities() Capabilities {
	return s.caps
}

// List implements Session. Listings include the "." and ".." entries.
func (s *MemSession) List(dir string) ([]Entry, error) {
	if err := s.begin(opList, dir); err != nil {
		return nil, err
	}

	srv := s.server
	srv.mu.Lock()
	defer srv.mu.Unlock()

	dir = memClean(dir)

	node, ok := srv.nodes[dir]
	if !ok {
		return nil, memNotFound(opList, dir)
	}

	if !node.dir {
		return nil, memFailure(opList, dir, "Not a directory", pkgerrors.ErrNotADirectory)
	}

	entries := []Entry{
		{Name: ".", Mode: fs.ModeDir | 0o755, ModTime: node.modTime},
		{Name: "..", Mode: fs.ModeDir | 0o755},
	}

	for _, name := range srv.childrenLocked(dir) {
		entries = append(entries, memEntry(name, srv.nodes[path.Join(dir, name)]))
	}

	return entries, nil
}

// Stat implements Session.
func (s *MemSession) Stat(p string) (Entry, error) {
	if err := s.begin(opStat, p); err != nil {
		return Entry{}, err
	}

	if !s.caps.StructuredStat {
		return Entry{}, &pkgerrors.ProtocolError{
			Op: opStat, Path: p, Code: memCodeNotImplemented, Status: "Command not implemented", Kind: pkgerrors.ErrUnsupported,
		}
	}

	srv := s.server
	srv.mu.Lock()
	defer srv.mu.Unlock()

	p = memClean(p)

	node, ok := srv.nodes[p]
	if !ok {
		return Entry{}, memNotFound(opStat, p)
	}

	return memEntry(path.Base(p), node), nil
}

// Mkdir implements Session.
func (s *MemSession) Mkdir(p string) error {
	if err := s.begin(opMkdir, p); err != nil {
		return err
	}

	srv := s.server
	srv.mu.Lock()
	defer srv.mu.Unlock()

	p = memClean(p)

	if _, ok := srv.nodes[p]; ok {
		return memFailure(opMkdir, p, "File exists", nil)
	}

	if parent, ok := srv.nodes[path.Dir(p)]; !ok || !parent.dir {
		return memFailure(opMkdir, p, "No such file or directory", nil)
	}

	srv.nodes[p] = &memNode{dir: true, modTime: srv.now()}

	return nil
}

// Remove implements Session.
func (s *MemSession) Remove(p string) error {
	if err := s.begin(opRemove, p); err != nil {
		return err
	}

	srv := s.server
	srv.mu.Lock()
	defer srv.mu.Unlock()

	p = memClean(p)

	node, ok := srv.nodes[p]
	if !ok {
		return memNotFound(opRemove, p)
	}

	if node.dir {
		return memFailure(opRemove, p, "Is a directory", pkgerrors.ErrNotAFile)
	}

	delete(srv.nodes, p)

	return nil
}

// RemoveDir implements Session.
func (s *MemSession) RemoveDir(p string) error {
	if err := s.begin(opRemoveDir, p); err != nil {
		return err
	}

	srv := s.server
	srv.mu.Lock()
	defer srv.mu.Unlock()

	p = memClean(p)

	node, ok := srv.nodes[p]
	if !ok {
		return memNotFound(opRemoveDir, p)
	}

	if !node.dir {
		return memFailure(opRemoveDir, p, "Not a directory", pkgerrors.ErrNotADirectory)
	}

	if p == "/" || len(srv.childrenLocked(p)) > 0 {
		return memFailure(opRemoveDir, p, "Directory not empty", pkgerrors.ErrDirectoryNotEmpty)
	}

	delete(srv.nodes, p)

	return nil
}

// Rename implements Session. An existing target is replaced only when the
// session reports PosixRename.
func (s *MemSession) Rename(from, to string) error {
	if err := s.begin(opRename, from); err != nil {
		return err
	}

	srv := s.server
	srv.mu.Lock()
	defer srv.mu.Unlock()

	from, to = memClean(from), memClean(to)

	node, ok := srv.nodes[from]
	if !ok {
		return memNotFound(opRename, from)
	}

	if parent, ok := srv.nodes[path.Dir(to)]; !ok || !parent.dir {
		return memNotFound(opRename, to)
	}

	if _, exists := srv.nodes[to]; exists && !s.caps.PosixRename {
		return memFailure(opRename, to, "File exists", pkgerrors.ErrAlreadyExists)
	}

	prefix := from + "/"
	if strings.HasPrefix(to, prefix) {
		return memFailure(opRename, to, "Invalid argument", nil)
	}

	// Move the subtree for directories.
	moved := make(map[string]*memNode)

	for p, child := range srv.nodes {
		if strings.HasPrefix(p, prefix) {
			moved[to+"/"+p[len(prefix):]] = child

			delete(srv.nodes, p)
		}
	}

	for p, child := range moved {
		srv.nodes[p] = child
	}

	delete(srv.nodes, from)
	srv.nodes[to] = node

	return nil
}

// Retrieve implements Session.
func (s *MemSession) Retrieve(p string, w io.Writer) (int64, error) {
	if err := s.begin(opRetrieve, p); err != nil {
		return 0, err
	}

	srv := s.server
	srv.mu.Lock()

	p = memClean(p)
	node, ok := srv.nodes[p]

	var data []byte
	if ok && !node.dir {
		data = bytes.Clone(node.data)
	}
	srv.mu.Unlock()

	switch {
	case !ok:
		return 0, memNotFound(opRetrieve, p)
	case node.dir:
		return 0, memFailure(opRetrieve, p, "Is a directory", pkgerrors.ErrNotAFile)
	}

	n, err := w.Write(data)

	return int64(n), err
}

// Store implements Session.
func (s *MemSession) Store(p string, r io.Reader) (int64, error) {
	if err := s.begin(opStore, p); err != nil {
		return 0, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return int64(len(data)), err
	}

	srv := s.server
	srv.mu.Lock()
	defer srv.mu.Unlock()

	p = memClean(p)

	if parent, ok := srv.nodes[path.Dir(p)]; !ok || !parent.dir {
		return 0, memNotFound(opStore, p)
	}

	if node, ok := srv.nodes[p]; ok && node.dir {
		return 0, memFailure(opStore, p, "Is a directory", pkgerrors.ErrNotAFile)
	}

	srv.nodes[p] = &memNode{data: data, modTime: srv.now()}

	return int64(len(data)), nil
}

// KeepAlive implements Session.
func (s *MemSession) KeepAlive() error {
	if err := s.begin(opKeepAlive, ""); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.keepAliveErr
}

// Close implements Session. Closing twice is harmless.
func (s *MemSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}

// begin counts the call and rejects it on a closed or broken session.
func (s *MemSession) begin(op, p string) error {
	s.server.mu.Lock()
	s.server.calls[op]++
	s.server.log = append(s.server.log, op+" "+p)
	s.server.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.broken {
		return connectionLost(op, p, io.ErrClosedPipe)
	}

	return nil
}

func memEntry(name string, node *memNode) Entry {
	if node.dir {
		return Entry{Name: name, Mode: fs.ModeDir | 0o755, ModTime: node.modTime}
	}

	return Entry{Name: name, Size: int64(len(node.data)), Mode: 0o644, ModTime: node.modTime}
}

func memNotFound(op, p string) error {
	return memFailure(op, p, "No such file or directory", pkgerrors.ErrNotFound)
}

func memFailure(op, p, status string, kind error) error {
	return &pkgerrors.ProtocolError{Op: op, Path: p, Code: memCodeUnavailable, Status: status, Kind: kind}
}

func memClean(p string) string {
	return path.Clean("/" + p)
}
