package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/remotefs/internal/config"
	"github.com/joe/remotefs/internal/logging"
	"github.com/joe/remotefs/internal/output"
	pkgerrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/filesystem"
	"github.com/joe/remotefs/pkg/pool"
	"github.com/joe/remotefs/pkg/session"
)

type testApp struct {
	*app
	server *session.MemServer
	out    *bytes.Buffer
}

func newTestApp(t *testing.T, cfg *config.Config) *testApp {
	t.Helper()

	server := session.NewMemServer()
	caps := session.Capabilities{StructuredStat: true}
	factory := session.NewMemFactory(server, caps)

	sessions, err := pool.New[session.Session](pool.Config{
		MinSize: 1, CoreSize: 2, MaxSize: 2, ConnectionTimeout: time.Second,
		IdleCheckInterval: time.Hour, KeepAliveInterval: time.Hour,
	}, factory.NewSession)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}

	if err := sessions.Start(context.Background()); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}

	provider := filesystem.NewProvider(sessions, caps, filesystem.WithTempDir(t.TempDir()))
	t.Cleanup(func() { _ = provider.Close() })

	var out bytes.Buffer

	return &testApp{
		app: &app{
			cfg:     cfg,
			fs:      provider,
			printer: output.NewPrinter(&out, &bytes.Buffer{}, false),
			logger:  logging.Discard(),
			stdout:  &out,
		},
		server: server,
		out:    &out,
	}
}

func TestDispatch_ListAndStat(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	a := newTestApp(t, &config.Config{Ls: &config.LsCmd{Path: "/"}})
	a.server.AddFile("/readme.txt", []byte("hi"))
	a.server.AddDir("/data")

	_, err := a.dispatch(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(a.out.String()).To(Equal("data/\nreadme.txt\n"))

	a.out.Reset()
	a.cfg = &config.Config{Stat: &config.StatCmd{Path: "/readme.txt"}}

	_, err = a.dispatch(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(a.out.String()).To(ContainSubstring("/readme.txt"))
}

func TestDispatch_MkdirAndRecursiveRemove(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	a := newTestApp(t, &config.Config{Mkdir: &config.MkdirCmd{Path: "/a/b/c", Parents: true}})

	_, err := a.dispatch(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(a.server.Exists("/a/b/c")).To(BeTrue())

	a.server.AddFile("/a/b/file.txt", []byte("x"))

	a.cfg = &config.Config{Rm: &config.RmCmd{Path: "/a"}}
	affected, err := a.dispatch(context.Background())
	g.Expect(err).To(MatchError(pkgerrors.ErrDirectoryNotEmpty))
	g.Expect(affected).To(Equal("/a"))

	a.cfg = &config.Config{Rm: &config.RmCmd{Path: "/a", Recursive: true}}
	_, err = a.dispatch(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(a.server.Exists("/a")).To(BeFalse())
}

func TestDispatch_RemoveMissing(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	a := newTestApp(t, &config.Config{Rm: &config.RmCmd{Path: "/ghost"}})

	_, err := a.dispatch(context.Background())
	g.Expect(err).To(MatchError(pkgerrors.ErrNotFound))
}

func TestDispatch_PutGetCat(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "up.txt")
	g.Expect(os.WriteFile(src, []byte("payload"), 0o600)).To(Succeed())

	a := newTestApp(t, &config.Config{Put: &config.PutCmd{Local: src, Remote: "/in/up.txt", Parents: true}})

	_, err := a.dispatch(context.Background())
	g.Expect(err).NotTo(HaveOccurred())

	content, ok := a.server.ReadFile("/in/up.txt")
	g.Expect(ok).To(BeTrue())
	g.Expect(string(content)).To(Equal("payload"))

	dst := filepath.Join(dir, "down")
	g.Expect(os.Mkdir(dst, 0o750)).To(Succeed())

	a.cfg = &config.Config{Get: &config.GetCmd{Remote: "/in/up.txt", Local: dst}}
	_, err = a.dispatch(context.Background())
	g.Expect(err).NotTo(HaveOccurred())

	downloaded, err := os.ReadFile(filepath.Join(dst, "up.txt"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(downloaded)).To(Equal("payload"))

	a.out.Reset()
	a.cfg = &config.Config{Cat: &config.CatCmd{Path: "/in/up.txt"}}
	_, err = a.dispatch(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(a.out.String()).To(Equal("payload"))
}

func TestDispatch_FindAndMove(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	a := newTestApp(t, &config.Config{Mv: &config.MvCmd{From: "/old.log", To: "/logs/new.log"}})
	a.server.AddFile("/old.log", []byte("l"))
	a.server.AddDir("/logs")

	_, err := a.dispatch(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(a.server.Exists("/logs/new.log")).To(BeTrue())

	a.out.Reset()
	a.cfg = &config.Config{Find: &config.FindCmd{Path: "/", Include: []string{"**/*.log"}, FilesOnly: true}}
	_, err = a.dispatch(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(a.out.String()).To(Equal("logs/new.log\n"))
}

func TestDispatch_Pool(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	a := newTestApp(t, &config.Config{Pool: &config.PoolCmd{}})

	_, err := a.dispatch(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(a.out.String()).To(ContainSubstring("min 1, core 2, max 2"))
}
