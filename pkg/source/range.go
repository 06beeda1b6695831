// pkg/source/range.go
package source

import (
	"fmt"
	"strconv"
	"strings"
)

// Range is a parsed A1 range without the sheet prefix. Columns are 0-based,
// rows 1-based. EndRow 0 means open-ended.
type Range struct {
	StartCol int
	EndCol   int
	StartRow int
	EndRow   int
}

// ParseRange parses "A2:W5000", "A2:W" or "A:W".
func ParseRange(s string) (Range, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(s)), ":")
	if len(parts) != 2 {
		return Range{}, fmt.Errorf("invalid range %q: expected START:END", s)
	}

	startCol, startRow, err := parseCell(parts[0])
	if err != nil {
		return Range{}, fmt.Errorf("invalid range %q: %w", s, err)
	}
	endCol, endRow, err := parseCell(parts[1])
	if err != nil {
		return Range{}, fmt.Errorf("invalid range %q: %w", s, err)
	}

	if startRow == 0 {
		startRow = 1
	}
	if endCol < startCol {
		return Range{}, fmt.Errorf("invalid range %q: end column before start column", s)
	}
	if endRow != 0 && endRow < startRow {
		return Range{}, fmt.Errorf("invalid range %q: end row before start row", s)
	}

	return Range{StartCol: startCol, EndCol: endCol, StartRow: startRow, EndRow: endRow}, nil
}

// Width is the number of columns in the range.
func (r Range) Width() int {
	return r.EndCol - r.StartCol + 1
}

// Contains reports whether the 1-based row number falls inside the range.
func (r Range) Contains(row int) bool {
	if row < r.StartRow {
		return false
	}
	return r.EndRow == 0 || row <= r.EndRow
}

// String renders the range back in A1 form.
func (r Range) String() string {
	end := ColumnName(r.EndCol)
	if r.EndRow > 0 {
		end += strconv.Itoa(r.EndRow)
	}
	return fmt.Sprintf("%s%d:%s", ColumnName(r.StartCol), r.StartRow, end)
}

// ColumnIndex converts a column name ("A", "AU") to its 0-based index.
func ColumnIndex(name string) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("empty column")
	}
	idx := 0
	for _, ch := range strings.ToUpper(name) {
		if ch < 'A' || ch > 'Z' {
			return 0, fmt.Errorf("invalid column %q", name)
		}
		idx = idx*26 + int(ch-'A'+1)
	}
	return idx - 1, nil
}

// ColumnName converts a 0-based index to its column name.
func ColumnName(idx int) string {
	var b []byte
	for n := idx + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// parseCell splits "AU12" into column 46 and row 12. The row is 0 when absent.
func parseCell(cell string) (int, int, error) {
	i := 0
	for i < len(cell) && cell[i] >= 'A' && cell[i] <= 'Z' {
		i++
	}
	col, err := ColumnIndex(cell[:i])
	if err != nil {
		return 0, 0, err
	}
	if i == len(cell) {
		return col, 0, nil
	}
	row, err := strconv.Atoi(cell[i:])
	if err != nil || row <= 0 {
		return 0, 0, fmt.Errorf("invalid row in %q", cell)
	}
	return col, row, nil
}

// a1 joins a sheet name and range, quoting the sheet name.
func a1(sheet, rng string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + rng
}
