package fileops_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	pkgerrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/fileops"
	"github.com/joe/remotefs/pkg/filesystem"
	"github.com/joe/remotefs/pkg/pool"
	"github.com/joe/remotefs/pkg/session"
)

// helloHash is the SHA-256 of "hello world".
const helloHash = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

var fixedTime = time.Date(2023, 6, 15, 8, 30, 0, 0, time.UTC)

func newRemote(t *testing.T) (*session.MemServer, *filesystem.Provider) {
	t.Helper()

	server := session.NewMemServer()
	server.SetClock(func() time.Time { return fixedTime })

	caps := session.Capabilities{StructuredStat: true}
	factory := session.NewMemFactory(server, caps)

	sessions, err := pool.New[session.Session](pool.Config{
		MinSize:           1,
		CoreSize:          1,
		MaxSize:           2,
		ConnectionTimeout: time.Second,
		MaxIdleTime:       time.Minute,
		IdleCheckInterval: time.Hour,
		KeepAliveInterval: time.Hour,
	}, factory.NewSession)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}

	if err := sessions.Start(context.Background()); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}

	provider := filesystem.NewProvider(sessions, caps, filesystem.WithTempDir(t.TempDir()))
	t.Cleanup(func() { _ = provider.Close() })

	return server, provider
}

func TestDownload_CopiesContentAndModTime(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	server, remote := newRemote(t)
	server.AddFile("/data/hello.txt", []byte("hello world"))

	dst := filepath.Join(t.TempDir(), "nested", "hello.txt")

	var reports []int64

	stats, err := fileops.NewTransfers(remote).Download(context.Background(), "/data/hello.txt", dst, fileops.Options{
		Hash:          true,
		CreateParents: true,
		Progress: func(done, total int64, name string) {
			g.Expect(total).To(Equal(int64(11)))
			g.Expect(name).To(Equal("/data/hello.txt"))
			reports = append(reports, done)
		},
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(stats.BytesCopied).To(Equal(int64(11)))
	g.Expect(stats.Hash).To(Equal(helloHash))
	g.Expect(reports).To(Equal([]int64{11}))

	content, err := os.ReadFile(dst)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(content)).To(Equal("hello world"))

	info, err := os.Stat(dst)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(info.ModTime().Equal(fixedTime)).To(BeTrue())
}

func TestDownload_MissingSourceLeavesNoFile(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	_, remote := newRemote(t)
	dst := filepath.Join(t.TempDir(), "out.txt")

	_, err := fileops.NewTransfers(remote).Download(context.Background(), "/missing", dst, fileops.Options{})
	g.Expect(err).To(MatchError(pkgerrors.ErrNotFound))

	_, statErr := os.Stat(dst)
	g.Expect(os.IsNotExist(statErr)).To(BeTrue())
}

func TestDownload_CancelledRemovesPartialFile(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	server, remote := newRemote(t)
	server.AddFile("/big.bin", []byte(strings.Repeat("x", 3*fileops.BufferSize)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dst := filepath.Join(t.TempDir(), "big.bin")

	_, err := fileops.NewTransfers(remote).Download(ctx, "/big.bin", dst, fileops.Options{
		Progress: func(int64, int64, string) { cancel() },
	})
	g.Expect(err).To(MatchError(fileops.ErrCopyCancelled))

	_, statErr := os.Stat(dst)
	g.Expect(os.IsNotExist(statErr)).To(BeTrue())
}

func TestUpload_ReplacesRemoteFile(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	server, remote := newRemote(t)
	server.AddFile("/in/hello.txt", []byte("stale"))

	src := filepath.Join(t.TempDir(), "hello.txt")
	g.Expect(os.WriteFile(src, []byte("hello world"), 0o600)).To(Succeed())

	stats, err := fileops.NewTransfers(remote).Upload(context.Background(), src, "/in/hello.txt", fileops.Options{Hash: true})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(stats.BytesCopied).To(Equal(int64(11)))
	g.Expect(stats.Hash).To(Equal(helloHash))

	content, ok := server.ReadFile("/in/hello.txt")
	g.Expect(ok).To(BeTrue())
	g.Expect(string(content)).To(Equal("hello world"))
}

func TestUpload_CreatesParents(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	server, remote := newRemote(t)

	src := filepath.Join(t.TempDir(), "a.txt")
	g.Expect(os.WriteFile(src, []byte("a"), 0o600)).To(Succeed())

	_, err := fileops.NewTransfers(remote).Upload(context.Background(), src, "/x/y/a.txt", fileops.Options{CreateParents: true})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(server.Exists("/x/y")).To(BeTrue())

	content, _ := server.ReadFile("/x/y/a.txt")
	g.Expect(string(content)).To(Equal("a"))
}

func TestUpload_CreateNewRefusesExisting(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	server, remote := newRemote(t)
	server.AddFile("/taken", []byte("mine"))

	src := filepath.Join(t.TempDir(), "taken")
	g.Expect(os.WriteFile(src, []byte("yours"), 0o600)).To(Succeed())

	_, err := fileops.NewTransfers(remote).Upload(context.Background(), src, "/taken", fileops.Options{Mode: filesystem.CreateNew})
	g.Expect(err).To(MatchError(pkgerrors.ErrAlreadyExists))

	content, _ := server.ReadFile("/taken")
	g.Expect(string(content)).To(Equal("mine"))
}

func TestUpload_CancelledNeverStores(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	server, remote := newRemote(t)

	src := filepath.Join(t.TempDir(), "big.bin")
	g.Expect(os.WriteFile(src, []byte(strings.Repeat("y", 2*fileops.BufferSize)), 0o600)).To(Succeed())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := fileops.NewTransfers(remote).Upload(ctx, src, "/big.bin", fileops.Options{
		Progress: func(int64, int64, string) { cancel() },
	})
	g.Expect(err).To(MatchError(fileops.ErrCopyCancelled))
	g.Expect(server.Calls("store")).To(Equal(0))
	g.Expect(server.Exists("/big.bin")).To(BeFalse())
}

func TestComputeHash(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)

	sum, err := fileops.ComputeHash(strings.NewReader("hello world"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sum).To(Equal(helloHash))
}
