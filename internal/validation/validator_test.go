package validation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var required = []string{"a", "b", "c", "d", "e", "f"}

func TestRequireColumns_AllPresent(t *testing.T) {
	err := RequireColumns([]string{"f", "e", "d", "c", "b", "a", "extra"}, required)
	assert.NoError(t, err)
}

func TestRequireColumns_ReportsEverySubset(t *testing.T) {
	// Every subset of required columns removed from the header set must be
	// reported exactly, in required order.
	for mask := 1; mask < 1<<len(required); mask++ {
		var headers, want []string
		for i, name := range required {
			if mask&(1<<i) != 0 {
				want = append(want, name)
			} else {
				headers = append(headers, name)
			}
		}

		t.Run(fmt.Sprintf("mask_%02d", mask), func(t *testing.T) {
			err := RequireColumns(headers, required)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingColumns))
			assert.Equal(t, want, MissingColumns(err))
		})
	}
}

func TestRequireColumns_ExactMatch(t *testing.T) {
	err := RequireColumns([]string{"A", " b", "c", "d", "e", "f"}, required)
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, MissingColumns(err))
}

func TestMissingColumnsError_Wrapped(t *testing.T) {
	inner := RequireColumns(nil, []string{"x"})
	err := fmt.Errorf("reading upload: %w", inner)

	assert.True(t, errors.Is(err, ErrMissingColumns))
	assert.Equal(t, []string{"x"}, MissingColumns(err))
	assert.Contains(t, err.Error(), `"x"`)
	assert.Nil(t, MissingColumns(errors.New("other")))
}
