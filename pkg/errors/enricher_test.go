package errors_test

import (
	"errors"
	"fmt"
	"testing"

	pkgerrors "github.com/joe/remotefs/pkg/errors"
)

func TestEnricher_EnrichAlreadyActionableError(t *testing.T) {
	t.Parallel()

	enricher := pkgerrors.NewEnricher()
	originalActionable := pkgerrors.NewActionableError(
		"permission denied",
		pkgerrors.CategoryPermission,
		[]string{"existing suggestion"},
		"/original/path",
	)

	enriched := enricher.Enrich(originalActionable, "/new/path")

	var actionableErr pkgerrors.ActionableError
	if !errors.As(enriched, &actionableErr) {
		t.Fatalf("expected ActionableError, got %T", enriched)
	}

	if actionableErr != originalActionable {
		t.Error("expected same ActionableError instance when enriching ActionableError")
	}
}

func TestEnricher_ClassifiesByIdentity(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		err      error
		expected pkgerrors.ErrorCategory
	}{
		{
			name:     "wrapped not found",
			err:      fmt.Errorf("failed to stat /a: %w", pkgerrors.ErrNotFound),
			expected: pkgerrors.CategoryNotFound,
		},
		{
			name:     "directory not empty",
			err:      fmt.Errorf("delete /a: %w", pkgerrors.ErrDirectoryNotEmpty),
			expected: pkgerrors.CategoryNotEmpty,
		},
		{
			name:     "timeout",
			err:      fmt.Errorf("failed to acquire session: %w", pkgerrors.ErrTimeout),
			expected: pkgerrors.CategoryTimeout,
		},
		{
			name: "auth stage",
			err: &pkgerrors.ConnectionError{
				Host: "example.com:22", Stage: pkgerrors.StageAuth, Err: errors.New("no methods"),
			},
			expected: pkgerrors.CategoryPermission,
		},
		{
			name: "dial stage",
			err: &pkgerrors.ConnectionError{
				Host: "example.com:22", Stage: pkgerrors.StageDial, Err: errors.New("boom"),
			},
			expected: pkgerrors.CategoryConnection,
		},
		{
			name: "protocol error with kind",
			err: &pkgerrors.ProtocolError{
				Op: "stat", Path: "/a", Code: 550, Status: "nope", Kind: pkgerrors.ErrNotFound,
			},
			expected: pkgerrors.CategoryNotFound,
		},
		{
			name:     "bare protocol error",
			err:      &pkgerrors.ProtocolError{Op: "site", Path: "/a", Code: 500, Status: "Unknown command"},
			expected: pkgerrors.CategoryProtocol,
		},
		{
			name:     "message only",
			err:      errors.New("read tcp: connection reset by peer"),
			expected: pkgerrors.CategoryConnection,
		},
	}

	enricher := pkgerrors.NewEnricher()

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var actionableErr pkgerrors.ActionableError
			if !errors.As(enricher.Enrich(testCase.err, ""), &actionableErr) {
				t.Fatal("expected ActionableError")
			}

			if actionableErr.Category() != testCase.expected {
				t.Errorf("expected category %q, got %q", testCase.expected, actionableErr.Category())
			}

			if actionableErr.OriginalError() != testCase.err.Error() {
				t.Errorf("original message changed: %q", actionableErr.OriginalError())
			}
		})
	}
}

func TestEnricher_ExtractsPathFromMessage(t *testing.T) {
	t.Parallel()

	enricher := pkgerrors.NewEnricher()

	enriched := enricher.Enrich(errors.New("mkdir /uploads/2024: server replied 550: Permission denied"), "")

	var actionableErr pkgerrors.ActionableError
	if !errors.As(enriched, &actionableErr) {
		t.Fatal("expected ActionableError")
	}

	if actionableErr.AffectedPath() != "/uploads/2024" {
		t.Errorf("expected extracted path, got %q", actionableErr.AffectedPath())
	}
}

func TestEnricher_ExplicitPathWins(t *testing.T) {
	t.Parallel()

	enricher := pkgerrors.NewEnricher()

	enriched := enricher.Enrich(errors.New("stat /a: file does not exist"), "/b")

	var actionableErr pkgerrors.ActionableError
	if !errors.As(enriched, &actionableErr) {
		t.Fatal("expected ActionableError")
	}

	if actionableErr.AffectedPath() != "/b" {
		t.Errorf("expected explicit path, got %q", actionableErr.AffectedPath())
	}
}
