package pipeline

import (
	"errors"
	"fmt"
)

// Category classifies failures for reporting and exit codes.
type Category string

const (
	CategoryInvalidURL  Category = "invalid-url"
	CategoryNetwork     Category = "network"
	CategoryChallenge   Category = "challenge"
	CategoryNotFound    Category = "not-found"
	CategoryRestricted  Category = "restricted"
	CategoryUnsupported Category = "unsupported"
	CategoryFilesystem  Category = "filesystem"
	CategoryTool        Category = "tool"
	CategoryCancelled   Category = "cancelled"
)

// CategorizedError attaches a failure category to an underlying error.
type CategorizedError struct {
	Category Category
	Err      error
}

func (e *CategorizedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *CategorizedError) Unwrap() error { return e.Err }

func wrapCategory(cat Category, err error) error {
	if err == nil {
		return nil
	}
	var existing *CategorizedError
	if errors.As(err, &existing) {
		return err
	}
	return &CategorizedError{Category: cat, Err: err}
}

// CategoryOf extracts the category from err, defaulting to tool.
func CategoryOf(err error) Category {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryTool
}

// ExitCode maps a run-level error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return CategoryExitCode(CategoryOf(err))
}

// CategoryExitCode maps a failure category to the process exit code.
// Unknown categories (including panic failures, which carry none) map to
// the generic failure code.
func CategoryExitCode(cat Category) int {
	switch cat {
	case CategoryInvalidURL:
		return 2
	case CategoryNetwork:
		return 3
	case CategoryChallenge, CategoryRestricted:
		return 4
	case CategoryNotFound:
		return 5
	case CategoryUnsupported:
		return 6
	case CategoryFilesystem:
		return 7
	case CategoryCancelled:
		return 130
	default:
		return 1
	}
}
