package downloader

import "errors"

// Category classifies a failure for exit codes and JSON output.
type Category string

const (
	CategoryInvalidURL  Category = "invalid_url"
	CategoryPlaylist    Category = "playlist"
	CategoryNetwork     Category = "network"
	CategoryFilesystem  Category = "filesystem"
	CategoryRemux       Category = "remux"
	CategoryUnsupported Category = "unsupported"
	CategoryCancelled   Category = "cancelled"
)

// CategorizedError attaches a failure category to an underlying error.
type CategorizedError struct {
	Category Category
	Err      error
}

func (e CategorizedError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return e.Err.Error()
}

func (e CategorizedError) Unwrap() error { return e.Err }

// wrapCategory tags err with a category. An error already carrying one keeps
// it: the innermost classification is the most specific.
func wrapCategory(category Category, err error) error {
	if err == nil {
		return nil
	}
	var existing CategorizedError
	if errors.As(err, &existing) {
		return err
	}
	return CategorizedError{Category: category, Err: err}
}

// CategoryOf extracts the category of err, defaulting to network for plain
// errors since unclassified failures are almost always transport ones.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var categorized CategorizedError
	if errors.As(err, &categorized) {
		return categorized.Category
	}
	return CategoryNetwork
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CategoryOf(err) {
	case CategoryInvalidURL:
		return 2
	case CategoryPlaylist:
		return 3
	case CategoryNetwork:
		return 4
	case CategoryFilesystem:
		return 5
	case CategoryRemux:
		return 6
	case CategoryUnsupported:
		return 7
	case CategoryCancelled:
		return 130
	default:
		return 1
	}
}
