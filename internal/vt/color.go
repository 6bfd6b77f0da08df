package vt

// ColorKind identifies which member of Color is meaningful.
type ColorKind int

const (
	ColorDefault ColorKind = iota
	ColorIndexed
	ColorRGB
)

// Color is either the terminal default, one of the 256 indexed palette
// entries, or a 24-bit RGB triple.
type Color struct {
	Kind  ColorKind
	Index uint8 // valid when Kind == ColorIndexed
	R, G, B uint8 // valid when Kind == ColorRGB
}

// DefaultColor is the terminal's default foreground/background.
var DefaultColor = Color{Kind: ColorDefault}

// IndexedColor builds a 0-255 palette color.
func IndexedColor(n uint8) Color {
	return Color{Kind: ColorIndexed, Index: n}
}

// RGBColor builds a 24-bit true color.
func RGBColor(r, g, b uint8) Color {
	return Color{Kind: ColorRGB, R: r, G: g, B: b}
}

// CellStyle carries the SGR attributes in effect for one cell.
type CellStyle struct {
	Bold      bool
	Underline bool
	Inverse   bool
	Fg        *Color
	Bg        *Color
}

// equal reports whether two styles render identically.
func (s CellStyle) equal(o CellStyle) bool {
	if s.Bold != o.Bold || s.Underline != o.Underline || s.Inverse != o.Inverse {
		return false
	}
	if !colorPtrEqual(s.Fg, o.Fg) {
		return false
	}
	return colorPtrEqual(s.Bg, o.Bg)
}

func colorPtrEqual(a, b *Color) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
