package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		in   string
		want Range
	}{
		{"A2:W5000", Range{StartCol: 0, EndCol: 22, StartRow: 2, EndRow: 5000}},
		{"A9:AU5000", Range{StartCol: 0, EndCol: 46, StartRow: 9, EndRow: 5000}},
		{"a2:n", Range{StartCol: 0, EndCol: 13, StartRow: 2, EndRow: 0}},
		{"B:D", Range{StartCol: 1, EndCol: 3, StartRow: 1, EndRow: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRange(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRangeRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "A2", "A2:", "2:W", "W2:A5", "A5:B2", "A0:B2", "A2:B-1"} {
		_, err := ParseRange(in)
		assert.Error(t, err, in)
	}
}

func TestColumnNameRoundTrip(t *testing.T) {
	for _, name := range []string{"A", "Z", "AA", "AU", "AZ", "BA", "ZZ", "AAA"} {
		idx, err := ColumnIndex(name)
		require.NoError(t, err)
		assert.Equal(t, name, ColumnName(idx))
	}

	idx, err := ColumnIndex("AU")
	require.NoError(t, err)
	assert.Equal(t, 46, idx)
}

func TestRangeContainsAndString(t *testing.T) {
	r, err := ParseRange("A2:V500")
	require.NoError(t, err)

	assert.False(t, r.Contains(1))
	assert.True(t, r.Contains(2))
	assert.True(t, r.Contains(500))
	assert.False(t, r.Contains(501))
	assert.Equal(t, 22, r.Width())
	assert.Equal(t, "A2:V500", r.String())

	open, err := ParseRange("A2:W")
	require.NoError(t, err)
	assert.True(t, open.Contains(100000))
	assert.Equal(t, "A2:W", open.String())
}

func TestA1QuotesSheetName(t *testing.T) {
	assert.Equal(t, "'Container Status'!A2:V500", a1("Container Status", "A2:V500"))
	assert.Equal(t, "'Bob''s'!A1:B", a1("Bob's", "A1:B"))
}
