// =============================================================================
// Report Kapp - Validation
// =============================================================================
//
// The only structural check the converter performs on an uploaded record set
// is column presence: every required column must exist by exact name. Values
// are never rejected here; the transformation engine repairs bad quantities
// and reports bad dates itself.
//
// ERROR HANDLING:
//   - All missing columns are collected before failing, never just the first.
//   - The error lists names in the order they were required, so the message is
//     stable for a given configuration.
//
// =============================================================================

package validation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingColumns is matched by errors.Is for any *MissingColumnsError.
var ErrMissingColumns = errors.New("missing required columns")

// =============================================================================
// MISSING COLUMNS ERROR
// =============================================================================

// MissingColumnsError reports required columns absent from a record set.
type MissingColumnsError struct {
	// Missing holds the absent column names in required order.
	Missing []string
}

// Error implements the error interface.
func (e *MissingColumnsError) Error() string {
	quoted := make([]string, len(e.Missing))
	for i, name := range e.Missing {
		quoted[i] = fmt.Sprintf("%q", name)
	}
	return fmt.Sprintf("%s: %s", ErrMissingColumns, strings.Join(quoted, ", "))
}

// Is lets errors.Is(err, ErrMissingColumns) match.
func (e *MissingColumnsError) Is(target error) bool {
	return target == ErrMissingColumns
}

// =============================================================================
// COLUMN CHECKS
// =============================================================================

// RequireColumns checks that every name in required appears in headers.
//
// PARAMETERS:
//   - headers: The column names found in the input.
//   - required: The column names the caller needs, in canonical order.
//
// RETURNS:
//   - nil when all columns are present.
//   - A *MissingColumnsError naming every absent column otherwise.
func RequireColumns(headers, required []string) error {
	present := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		present[h] = struct{}{}
	}

	var missing []string
	seen := make(map[string]struct{}, len(required))
	for _, name := range required {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return &MissingColumnsError{Missing: missing}
	}
	return nil
}

// MissingColumns returns the missing names carried by err, or nil if err is
// not (and does not wrap) a *MissingColumnsError.
func MissingColumns(err error) []string {
	var mce *MissingColumnsError
	if errors.As(err, &mce) {
		return mce.Missing
	}
	return nil
}
