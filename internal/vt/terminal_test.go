package vt

import (
	"strings"
	"testing"
)

func TestProcessPlainText(t *testing.T) {
	term := New(80, 24)
	term.Process([]byte("hi\r\n"))

	text := term.PlainText()
	lines := strings.Split(text, "\n")
	if lines[0] != "hi" {
		t.Fatalf("expected first line %q, got %q", "hi", lines[0])
	}
}

func TestCursorStaysInBounds(t *testing.T) {
	term := New(4, 2)
	term.Process([]byte("abcdefgh"))

	snap := term.Snapshot()
	if snap.Cursor.Row < 0 || snap.Cursor.Row >= snap.Rows {
		t.Fatalf("cursor row out of bounds: %+v", snap.Cursor)
	}
	if snap.Cursor.Col < 0 || snap.Cursor.Col >= snap.Cols {
		t.Fatalf("cursor col out of bounds: %+v", snap.Cursor)
	}
}

func TestGridSizeMatchesDims(t *testing.T) {
	term := New(10, 5)
	snap := term.Snapshot()
	if len(snap.Cells) != snap.Rows {
		t.Fatalf("expected %d rows, got %d", snap.Rows, len(snap.Cells))
	}
	for _, row := range snap.Cells {
		if len(row) != snap.Cols {
			t.Fatalf("expected %d cols, got %d", snap.Cols, len(row))
		}
	}
}

func TestCUPPositionsCursor(t *testing.T) {
	term := New(80, 24)
	term.Process([]byte("\x1b[5;10H"))
	snap := term.Snapshot()
	if snap.Cursor.Row != 4 || snap.Cursor.Col != 9 {
		t.Fatalf("expected cursor at (4,9), got (%d,%d)", snap.Cursor.Row, snap.Cursor.Col)
	}
}

func TestSGRIndexedColor(t *testing.T) {
	term := New(10, 1)
	term.Process([]byte("\x1b[31mred\x1b[0m"))
	snap := term.Snapshot()
	cell := snap.Cells[0][0]
	if cell.Style.Fg == nil || cell.Style.Fg.Kind != ColorIndexed || cell.Style.Fg.Index != 1 {
		t.Fatalf("expected indexed fg color 1, got %+v", cell.Style.Fg)
	}
}

func TestSGRTrueColor(t *testing.T) {
	term := New(10, 1)
	term.Process([]byte("\x1b[38;2;10;20;30mx\x1b[0m"))
	snap := term.Snapshot()
	cell := snap.Cells[0][0]
	if cell.Style.Fg == nil || cell.Style.Fg.Kind != ColorRGB {
		t.Fatalf("expected rgb fg color, got %+v", cell.Style.Fg)
	}
	if cell.Style.Fg.R != 10 || cell.Style.Fg.G != 20 || cell.Style.Fg.B != 30 {
		t.Fatalf("unexpected rgb value: %+v", cell.Style.Fg)
	}
}

func TestResizeZeroClampsToOneByOne(t *testing.T) {
	term := New(80, 24)
	term.Resize(0, 0)
	snap := term.Snapshot()
	if snap.Cols != 1 || snap.Rows != 1 {
		t.Fatalf("expected 1x1 after resize(0,0), got %dx%d", snap.Cols, snap.Rows)
	}
}

func TestResizePreservesOverlap(t *testing.T) {
	term := New(10, 5)
	term.Process([]byte("hello"))
	term.Resize(20, 10)
	snap := term.Snapshot()
	if snap.Cells[0][0].Ch != 'h' {
		t.Fatalf("expected top-left content preserved, got %q", snap.Cells[0][0].Ch)
	}
}

func TestResizeShrinkDoesNotCorruptFutureWrites(t *testing.T) {
	term := New(10, 5)
	term.Resize(3, 2)
	term.Process([]byte("abc"))
	snap := term.Snapshot()
	if snap.Cols != 3 || snap.Rows != 2 {
		t.Fatalf("unexpected dims after shrink: %dx%d", snap.Cols, snap.Rows)
	}
	if len(snap.Cells) != 2 || len(snap.Cells[0]) != 3 {
		t.Fatalf("grid size mismatch after shrink: %+v", snap.Cells)
	}
}

func TestUnknownEscapeSequenceTerminates(t *testing.T) {
	term := New(10, 2)
	// A CSI sequence left open at the end of one Process call, then closed
	// by the next; Process must return rather than loop forever.
	term.Process([]byte("\x1b[999"))
	term.Process([]byte("z"))
	// 'z' (0x7A) falls in the CSI final-byte range, so it ends the open
	// sequence as an unsupported command and is not printed; the check is
	// that parsing terminated and the grid kept its dimensions.
	snap := term.Snapshot()
	if len(snap.Cells) != snap.Rows || len(snap.Cells[0]) != snap.Cols {
		t.Fatalf("grid corrupted after malformed CSI: %+v", snap)
	}
}

func TestRoundTripRenderProcessPreservesText(t *testing.T) {
	term := New(20, 3)
	term.Process([]byte("\x1b[31mhello\x1b[0m world"))
	rendered := term.Render()

	replay := New(20, 3)
	replay.Process([]byte(rendered))

	if got, want := replay.PlainText(), term.PlainText(); got != want {
		t.Fatalf("round trip mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestPlainTextTrimsTrailingSpaces(t *testing.T) {
	term := New(10, 1)
	term.Process([]byte("hi"))
	if got := term.PlainText(); got != "hi" {
		t.Fatalf("expected trailing spaces trimmed, got %q", got)
	}
}

func TestProcessDecodesMultiByteUTF8(t *testing.T) {
	term := New(10, 1)
	term.Process([]byte("caf\xc3\xa9")) // "café"
	if got, want := term.PlainText(), "café"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestProcessDecodesUTF8SplitAcrossCalls(t *testing.T) {
	term := New(10, 1)
	// é is 0xC3 0xA9; feed the lead byte and continuation byte in two
	// separate Process calls, as a PTY read boundary could split them.
	term.Process([]byte("e\xc3"))
	term.Process([]byte("\xa9"))
	if got, want := term.PlainText(), "eé"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
