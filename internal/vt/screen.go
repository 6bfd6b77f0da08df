package vt

// Cell is one character position in the grid: a rune plus the style it
// was written with.
type Cell struct {
	Ch    rune
	Style CellStyle
}

// CursorPosition is a zero-indexed row/column plus visibility.
type CursorPosition struct {
	Row     int
	Col     int
	Visible bool
}

// ScreenSnapshot is an immutable copy of a Terminal's screen, safe to read
// without holding the terminal's lock.
type ScreenSnapshot struct {
	Cols   int
	Rows   int
	Cells  [][]Cell
	Cursor CursorPosition
}

func blankCell() Cell {
	return Cell{Ch: ' '}
}

func newGrid(cols, rows int) [][]Cell {
	grid := make([][]Cell, rows)
	for r := range grid {
		row := make([]Cell, cols)
		for c := range row {
			row[c] = blankCell()
		}
		grid[r] = row
	}
	return grid
}
