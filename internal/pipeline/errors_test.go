package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/seqgrab/seqgrab/internal/fetch"
)

func TestWrapCategory_PreservesExisting(t *testing.T) {
	inner := wrapCategory(CategoryNotFound, errors.New("gone"))
	outer := wrapCategory(CategoryTool, fmt.Errorf("wrapped: %w", inner))
	if CategoryOf(outer) != CategoryNotFound {
		t.Fatalf("outer wrap must not reclassify, got %s", CategoryOf(outer))
	}
}

func TestWrapCategory_NilPassthrough(t *testing.T) {
	if wrapCategory(CategoryTool, nil) != nil {
		t.Fatal("nil error must stay nil")
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{wrapCategory(CategoryInvalidURL, errors.New("x")), 2},
		{wrapCategory(CategoryNetwork, errors.New("x")), 3},
		{wrapCategory(CategoryChallenge, errors.New("x")), 4},
		{wrapCategory(CategoryRestricted, errors.New("x")), 4},
		{wrapCategory(CategoryNotFound, errors.New("x")), 5},
		{wrapCategory(CategoryCancelled, errors.New("x")), 130},
		{errors.New("uncategorized"), 1},
	}
	for _, c := range cases {
		if got := ExitCode(c.err); got != c.want {
			t.Errorf("ExitCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestCategoryExitCode(t *testing.T) {
	cases := []struct {
		cat  Category
		want int
	}{
		{CategoryInvalidURL, 2},
		{CategoryNetwork, 3},
		{CategoryChallenge, 4},
		{CategoryRestricted, 4},
		{CategoryNotFound, 5},
		{CategoryUnsupported, 6},
		{CategoryFilesystem, 7},
		{CategoryCancelled, 130},
		{CategoryTool, 1},
		{Category(""), 1},
	}
	for _, c := range cases {
		if got := CategoryExitCode(c.cat); got != c.want {
			t.Errorf("CategoryExitCode(%q) = %d, want %d", c.cat, got, c.want)
		}
	}
}

func TestClassifyDownloadReason(t *testing.T) {
	err := classifyDownloadReason("ERROR: Unsupported URL: https://cdn.example.test/x")
	if CategoryOf(err) != CategoryUnsupported {
		t.Fatalf("unsupported marker not recognized, got %s", CategoryOf(err))
	}
	err = classifyDownloadReason("segment request returned 500")
	if CategoryOf(err) != CategoryTool {
		t.Fatalf("plain failure should stay tool, got %s", CategoryOf(err))
	}
}

func TestClassifyFetchError(t *testing.T) {
	cases := []struct {
		err  error
		want Category
	}{
		{context.Canceled, CategoryCancelled},
		{fmt.Errorf("%w at url", fetch.ErrChallenge), CategoryChallenge},
		{&fetch.HTTPError{Status: 404}, CategoryNotFound},
		{&fetch.HTTPError{Status: 403}, CategoryRestricted},
		{&fetch.HTTPError{Status: 502}, CategoryNetwork},
		{&fetch.NetworkError{URL: "u", Err: errors.New("reset")}, CategoryNetwork},
		{fmt.Errorf("invalid URL: %w", &url.Error{Op: "parse", URL: "::bad", Err: errors.New("missing scheme")}), CategoryInvalidURL},
	}
	for _, c := range cases {
		if got := CategoryOf(classifyFetchError(c.err)); got != c.want {
			t.Errorf("classifyFetchError(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}
