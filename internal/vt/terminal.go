// Package vt implements the daemon's virtual terminal: a small ANSI/VT100
// screen model that turns raw child-process output into a cell grid with
// styles and a cursor. It intentionally covers the control subset documented
// in the session runtime spec rather than aiming for full terminfo fidelity.
package vt

import (
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/muesli/termenv"
)

type parseState int

const (
	stateNormal parseState = iota
	stateEsc
	stateCSI
	stateOSC
	stateOSCEsc
)

// Terminal owns the cell grid, cursor, and SGR parsing state for one PTY
// session. All mutating methods are safe for concurrent use; the caller is
// still expected to serialize access at the session-lock level so that a
// snapshot always reflects a coherent prefix of processed output.
type Terminal struct {
	mu sync.Mutex

	cols, rows int
	grid       [][]Cell
	cursor     CursorPosition
	pending    CellStyle // style that new characters are written with

	state    parseState
	params   []byte
	private  byte // '?' when the CSI sequence carries a private-mode marker

	// utf8Pending buffers printable bytes that don't yet form a complete
	// rune, since a multi-byte UTF-8 sequence can be split across two
	// separate Process calls (e.g. a PTY read landing mid-sequence).
	utf8Pending []byte
}

// New creates a Terminal with the given dimensions. Dimensions below 1 are
// clamped to 1x1 per the resize boundary rule.
func New(cols, rows int) *Terminal {
	cols, rows = clampDims(cols, rows)
	return &Terminal{
		cols:   cols,
		rows:   rows,
		grid:   newGrid(cols, rows),
		cursor: CursorPosition{Visible: true},
	}
}

func clampDims(cols, rows int) (int, int) {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return cols, rows
}

// Process feeds raw child output through the parser, updating the grid and
// cursor. It never fails: malformed or unrecognized escape sequences are
// consumed and ignored rather than surfaced as errors.
func (t *Terminal) Process(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range data {
		t.step(b)
	}
}

func (t *Terminal) step(b byte) {
	switch t.state {
	case stateEsc:
		switch b {
		case '[':
			t.state = stateCSI
			t.params = t.params[:0]
			t.private = 0
		case ']':
			t.state = stateOSC
		default:
			// Unrecognized single-char escape (e.g. DECSC '7'); consumed and
			// ignored per the "unknown escapes are consumed" rule.
			t.state = stateNormal
		}
		return
	case stateCSI:
		if b == '?' && len(t.params) == 0 {
			t.private = '?'
			return
		}
		if b >= 0x40 && b <= 0x7E {
			t.runCSI(b)
			t.state = stateNormal
			return
		}
		t.params = append(t.params, b)
		return
	case stateOSC:
		switch b {
		case 0x07:
			t.state = stateNormal
		case 0x1B:
			t.state = stateOSCEsc
		}
		return
	case stateOSCEsc:
		if b == '\\' {
			t.state = stateNormal
		} else if b != 0x1B {
			t.state = stateOSC
		}
		return
	}

	// stateNormal
	switch b {
	case 0x1B:
		t.state = stateEsc
	case '\r':
		t.cursor.Col = 0
	case '\n':
		t.lineFeed()
	case 0x08: // BS
		if t.cursor.Col > 0 {
			t.cursor.Col--
		}
	case 0x09: // HT
		next := (t.cursor.Col/8 + 1) * 8
		if next > t.cols-1 {
			next = t.cols - 1
		}
		t.cursor.Col = next
	case 0x07: // BEL, ignored
	default:
		if b >= 0x20 {
			t.feedUTF8(b)
		}
	}
}

// feedUTF8 buffers one printable byte and decodes as many complete runes
// as the buffer now holds, writing each to the grid. Bytes belonging to a
// sequence still awaiting its continuation bytes stay buffered until the
// next Process call supplies them.
func (t *Terminal) feedUTF8(b byte) {
	t.utf8Pending = append(t.utf8Pending, b)
	for len(t.utf8Pending) > 0 {
		need := utf8SeqLen(t.utf8Pending[0])
		if len(t.utf8Pending) < need {
			return
		}
		r, size := utf8.DecodeRune(t.utf8Pending[:need])
		if r == utf8.RuneError && size == 1 && need > 1 {
			t.putChar(utf8.RuneError)
			t.utf8Pending = t.utf8Pending[1:]
			continue
		}
		t.putChar(r)
		t.utf8Pending = t.utf8Pending[size:]
	}
}

// utf8SeqLen reports the number of bytes the encoding starting with lead
// should occupy, per the UTF-8 lead-byte prefix. Invalid lead bytes are
// treated as a one-byte sequence so they can't wedge the buffer forever.
func utf8SeqLen(lead byte) int {
	switch {
	case lead&0x80 == 0x00:
		return 1
	case lead&0xE0 == 0xC0:
		return 2
	case lead&0xF0 == 0xE0:
		return 3
	case lead&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}

// putChar writes one rune at the cursor and advances it, wrapping to the
// next line (with scroll) at the right margin. Wide characters are a
// documented limitation (single-cell, see spec §4.1).
func (t *Terminal) putChar(r rune) {
	t.grid[t.cursor.Row][t.cursor.Col] = Cell{Ch: r, Style: t.pending}
	t.cursor.Col++
	if t.cursor.Col >= t.cols {
		t.cursor.Col = 0
		t.lineFeed()
	}
}

func (t *Terminal) lineFeed() {
	t.cursor.Row++
	if t.cursor.Row >= t.rows {
		t.cursor.Row = t.rows - 1
		t.scrollUp(1)
	}
}

func (t *Terminal) scrollUp(n int) {
	for i := 0; i < n; i++ {
		copy(t.grid, t.grid[1:])
		last := make([]Cell, t.cols)
		for c := range last {
			last[c] = blankCell()
		}
		t.grid[t.rows-1] = last
	}
}

func (t *Terminal) csiNums(defaultVal int) []int {
	if len(t.params) == 0 {
		return []int{defaultVal}
	}
	parts := strings.Split(string(t.params), ";")
	nums := make([]int, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			nums = append(nums, defaultVal)
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			nums = append(nums, defaultVal)
			continue
		}
		nums = append(nums, n)
	}
	return nums
}

func (t *Terminal) csiNum(defaultVal int) int {
	nums := t.csiNums(defaultVal)
	if len(nums) == 0 {
		return defaultVal
	}
	if nums[0] == 0 {
		return defaultVal
	}
	return nums[0]
}

func (t *Terminal) runCSI(final byte) {
	switch final {
	case 'H', 'f':
		nums := t.csiNums(1)
		row, col := 1, 1
		if len(nums) > 0 {
			row = nums[0]
		}
		if len(nums) > 1 {
			col = nums[1]
		}
		t.setCursor(row-1, col-1)
	case 'A':
		t.setCursor(t.cursor.Row-t.csiNum(1), t.cursor.Col)
	case 'B':
		t.setCursor(t.cursor.Row+t.csiNum(1), t.cursor.Col)
	case 'C':
		t.setCursor(t.cursor.Row, t.cursor.Col+t.csiNum(1))
	case 'D':
		t.setCursor(t.cursor.Row, t.cursor.Col-t.csiNum(1))
	case 'J':
		t.eraseDisplay(t.csiNum(0))
	case 'K':
		t.eraseLine(t.csiNum(0))
	case 'm':
		t.applySGR()
	case 'h', 'l':
		if t.private == '?' {
			// DEC private modes (cursor visibility, alt screen, ...).
			t.applyDECMode(final == 'h')
		}
	default:
		// Unsupported CSI final byte (scroll regions, device status, etc.):
		// consumed and ignored.
	}
}

func (t *Terminal) applyDECMode(set bool) {
	for _, n := range t.csiNums(0) {
		if n == 25 { // cursor visibility (DECTCEM)
			t.cursor.Visible = set
		}
	}
}

func (t *Terminal) setCursor(row, col int) {
	if row < 0 {
		row = 0
	}
	if row >= t.rows {
		row = t.rows - 1
	}
	if col < 0 {
		col = 0
	}
	if col >= t.cols {
		col = t.cols - 1
	}
	t.cursor.Row = row
	t.cursor.Col = col
}

func (t *Terminal) eraseDisplay(mode int) {
	switch mode {
	case 0:
		t.eraseLine(0)
		for r := t.cursor.Row + 1; r < t.rows; r++ {
			t.clearRow(r)
		}
	case 1:
		t.eraseLine(1)
		for r := 0; r < t.cursor.Row; r++ {
			t.clearRow(r)
		}
	case 2, 3:
		for r := 0; r < t.rows; r++ {
			t.clearRow(r)
		}
	}
}

func (t *Terminal) eraseLine(mode int) {
	row := t.grid[t.cursor.Row]
	switch mode {
	case 0:
		for c := t.cursor.Col; c < t.cols; c++ {
			row[c] = blankCell()
		}
	case 1:
		for c := 0; c <= t.cursor.Col && c < t.cols; c++ {
			row[c] = blankCell()
		}
	case 2:
		t.clearRow(t.cursor.Row)
	}
}

func (t *Terminal) clearRow(r int) {
	row := t.grid[r]
	for c := range row {
		row[c] = blankCell()
	}
}

// applySGR updates t.pending from the accumulated CSI params, supporting
// reset, bold, underline, inverse, 16/256-color indexed, and 24-bit RGB
// foreground/background (38;5;n, 48;5;n, 38;2;r;g;b, 48;2;r;g;b).
func (t *Terminal) applySGR() {
	nums := t.csiNums(0)
	if len(t.params) == 0 {
		nums = []int{0}
	}
	for i := 0; i < len(nums); i++ {
		n := nums[i]
		switch {
		case n == 0:
			t.pending = CellStyle{}
		case n == 1:
			t.pending.Bold = true
		case n == 4:
			t.pending.Underline = true
		case n == 7:
			t.pending.Inverse = true
		case n == 22:
			t.pending.Bold = false
		case n == 24:
			t.pending.Underline = false
		case n == 27:
			t.pending.Inverse = false
		case n >= 30 && n <= 37:
			c := IndexedColor(uint8(n - 30))
			t.pending.Fg = &c
		case n == 39:
			t.pending.Fg = nil
		case n >= 40 && n <= 47:
			c := IndexedColor(uint8(n - 40))
			t.pending.Bg = &c
		case n == 49:
			t.pending.Bg = nil
		case n >= 90 && n <= 97:
			c := IndexedColor(uint8(n - 90 + 8))
			t.pending.Fg = &c
		case n >= 100 && n <= 107:
			c := IndexedColor(uint8(n - 100 + 8))
			t.pending.Bg = &c
		case n == 38 || n == 48:
			consumed := t.applyExtendedColor(n, nums[i+1:])
			i += consumed
		}
	}
}

// applyExtendedColor parses the 38;5;n / 38;2;r;g;b (and 48;...) forms
// starting after the leading 38/48, returning how many extra params it
// consumed.
func (t *Terminal) applyExtendedColor(which int, rest []int) int {
	if len(rest) == 0 {
		return 0
	}
	switch rest[0] {
	case 5:
		if len(rest) < 2 {
			return len(rest)
		}
		c := IndexedColor(uint8(rest[1]))
		if which == 38 {
			t.pending.Fg = &c
		} else {
			t.pending.Bg = &c
		}
		return 2
	case 2:
		if len(rest) < 4 {
			return len(rest)
		}
		c := RGBColor(uint8(rest[1]), uint8(rest[2]), uint8(rest[3]))
		if which == 38 {
			t.pending.Fg = &c
		} else {
			t.pending.Bg = &c
		}
		return 4
	}
	return 1
}

// Resize changes the terminal's dimensions, preserving top-left content up
// to the overlap and padding/truncating the rest. The cursor is clamped
// into the new bounds. 0x0 is clamped to 1x1.
func (t *Terminal) Resize(cols, rows int) {
	cols, rows = clampDims(cols, rows)
	t.mu.Lock()
	defer t.mu.Unlock()

	newGridBuf := newGrid(cols, rows)
	overlapRows := min(rows, t.rows)
	overlapCols := min(cols, t.cols)
	for r := 0; r < overlapRows; r++ {
		copy(newGridBuf[r][:overlapCols], t.grid[r][:overlapCols])
	}
	t.grid = newGridBuf
	t.cols = cols
	t.rows = rows
	t.setCursor(t.cursor.Row, t.cursor.Col)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Snapshot returns an independent copy of the screen, safe to read without
// the caller holding any lock on the Terminal.
func (t *Terminal) Snapshot() ScreenSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	cells := make([][]Cell, t.rows)
	for r := range cells {
		row := make([]Cell, t.cols)
		copy(row, t.grid[r])
		cells[r] = row
	}
	return ScreenSnapshot{
		Cols:   t.cols,
		Rows:   t.rows,
		Cells:  cells,
		Cursor: t.cursor,
	}
}

// Dims returns the current column/row counts.
func (t *Terminal) Dims() (cols, rows int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cols, t.rows
}

// PlainText renders the grid as line-joined text without style, each row
// trimmed of trailing spaces.
func (t *Terminal) PlainText() string {
	snap := t.Snapshot()
	return PlainText(snap)
}

// PlainText is the pure function form, usable on a snapshot taken earlier.
func PlainText(snap ScreenSnapshot) string {
	lines := make([]string, snap.Rows)
	for r, row := range snap.Cells {
		var b strings.Builder
		for _, cell := range row {
			b.WriteRune(cell.Ch)
		}
		lines[r] = strings.TrimRight(b.String(), " ")
	}
	return strings.Join(lines, "\n")
}

// Render returns the grid as text with ANSI SGR sequences reconstructed,
// resetting style between regions so colors never bleed across cells that
// should be unstyled.
func (t *Terminal) Render() string {
	snap := t.Snapshot()
	return Render(snap)
}

// Render is the pure function form of Terminal.Render.
func Render(snap ScreenSnapshot) string {
	var b strings.Builder
	profile := termenv.ANSI256
	for r, row := range snap.Cells {
		if r > 0 {
			b.WriteByte('\n')
		}
		renderRow(&b, profile, row)
	}
	return b.String()
}

// renderRow groups consecutive cells that share a style into one run and
// lets termenv build the SGR wrapper (which always ends in a reset), so
// style never bleeds from one run into the next.
func renderRow(b *strings.Builder, profile termenv.Profile, row []Cell) {
	var run strings.Builder
	var runStyle CellStyle
	haveRun := false

	flush := func() {
		if !haveRun {
			return
		}
		b.WriteString(applyStyle(profile, runStyle, run.String()))
		run.Reset()
		haveRun = false
	}

	for _, cell := range row {
		if !haveRun || !cell.Style.equal(runStyle) {
			flush()
			runStyle = cell.Style
			haveRun = true
		}
		run.WriteRune(cell.Ch)
	}
	flush()
}

func applyStyle(profile termenv.Profile, style CellStyle, text string) string {
	if style == (CellStyle{}) {
		return text
	}
	styled := termenv.String(text)
	if style.Bold {
		styled = styled.Bold()
	}
	if style.Underline {
		styled = styled.Underline()
	}
	if style.Inverse {
		styled = styled.Reverse()
	}
	if style.Fg != nil {
		styled = styled.Foreground(toTermenvColor(profile, *style.Fg))
	}
	if style.Bg != nil {
		styled = styled.Background(toTermenvColor(profile, *style.Bg))
	}
	return styled.String()
}

func toTermenvColor(profile termenv.Profile, c Color) termenv.Color {
	switch c.Kind {
	case ColorIndexed:
		return profile.Color(strconv.Itoa(int(c.Index)))
	case ColorRGB:
		return profile.Color(rgbHex(c.R, c.G, c.B))
	default:
		return termenv.NoColor{}
	}
}

func rgbHex(r, g, b uint8) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 7)
	buf[0] = '#'
	put := func(i int, v uint8) {
		buf[i] = hexDigits[v>>4]
		buf[i+1] = hexDigits[v&0xF]
	}
	put(1, r)
	put(3, g)
	put(5, b)
	return string(buf)
}
