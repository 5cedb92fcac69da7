package filesystem_test

import (
	"context"
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	pkgerrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/filesystem"
	"github.com/joe/remotefs/pkg/session"
)

func newTreeHarness(t *testing.T) *harness {
	t.Helper()

	h := newHarness(t, session.Capabilities{StructuredStat: true})
	h.server.AddFile("/proj/README.md", []byte("readme"))
	h.server.AddFile("/proj/src/main.go", []byte("package main"))
	h.server.AddFile("/proj/src/util/helpers.go", []byte("package util"))
	h.server.AddFile("/proj/build/out.log", []byte("log"))
	h.server.AddFile("/proj/build/app", []byte("binary"))

	return h
}

func collect(t *testing.T, scanner filesystem.FileScanner) []string {
	t.Helper()

	var paths []string

	for {
		entry, ok := scanner.Next()
		if !ok {
			break
		}

		paths = append(paths, entry.RelativePath)
	}

	if err := scanner.Err(); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	return paths
}

func TestWalk_VisitsDirectoriesFirst(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	h := newTreeHarness(t)

	var visited []string

	walker := h.fs.Walk(context.Background(), "/proj")
	for walker.Step() {
		g.Expect(walker.Err()).NotTo(HaveOccurred())
		visited = append(visited, walker.Path())
	}

	g.Expect(visited).To(Equal([]string{
		"/proj",
		"/proj/build",
		"/proj/build/app",
		"/proj/build/out.log",
		"/proj/src",
		"/proj/src/util",
		"/proj/src/util/helpers.go",
		"/proj/src/main.go",
		"/proj/README.md",
	}))
}

func TestWalk_MissingRoot(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	h := newTreeHarness(t)

	walker := h.fs.Walk(context.Background(), "/absent")
	g.Expect(walker.Step()).To(BeTrue())
	g.Expect(walker.Err()).To(MatchError(pkgerrors.ErrNotFound))
}

func TestScan_AllEntries(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	h := newTreeHarness(t)

	scanner := h.fs.Scan(context.Background(), "/proj", filesystem.ScanOptions{})

	g.Expect(collect(t, scanner)).To(ConsistOf(
		"build", "build/app", "build/out.log",
		"src", "src/util", "src/util/helpers.go", "src/main.go",
		"README.md",
	))
}

func TestScan_FiltersAndPrunes(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	h := newTreeHarness(t)
	h.server.ResetCalls()

	scanner := h.fs.Scan(context.Background(), "/proj", filesystem.ScanOptions{
		Include:   []string{"**/*.go", "*.md"},
		Exclude:   []string{"build"},
		FilesOnly: true,
	})

	g.Expect(collect(t, scanner)).To(ConsistOf("src/util/helpers.go", "src/main.go", "README.md"))

	// The excluded directory is never listed.
	g.Expect(h.server.Calls("list")).To(Equal(3))
}

func TestScan_RelativeRootUsesWorkingDir(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	h := newTreeHarness(t)

	scanner := h.fs.Scan(context.Background(), "proj/src", filesystem.ScanOptions{FilesOnly: true})

	g.Expect(collect(t, scanner)).To(ConsistOf("util/helpers.go", "main.go"))
}

func TestScan_InvalidPattern(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	h := newTreeHarness(t)

	scanner := h.fs.Scan(context.Background(), "/proj", filesystem.ScanOptions{Include: []string{"[unclosed"}})

	_, ok := scanner.Next()
	g.Expect(ok).To(BeFalse())
	g.Expect(scanner.Err()).To(HaveOccurred())
	g.Expect(h.server.Calls("list")).To(Equal(0))
}
