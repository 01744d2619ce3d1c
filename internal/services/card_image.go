package services

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/HammerMeetNail/bingohall/internal/bingo"
	"github.com/HammerMeetNail/bingohall/internal/models"
)

// RenderOptions controls card image rendering.
type RenderOptions struct {
	// HighlightReach tints the missing square of every line one short of bingo.
	HighlightReach bool
}

var (
	fontOnce      sync.Once
	parsedGoFont  *opentype.Font
	parsedGoError error
)

var (
	colorBackground = color.RGBA{0xFA, 0xF9, 0xF7, 0xFF}
	colorInk        = color.RGBA{0x2D, 0x2D, 0x2D, 0xFF}
	colorMuted      = color.RGBA{0x6B, 0x6B, 0x6B, 0xFF}
	colorBorder     = color.RGBA{0x3A, 0x3A, 0x3A, 0xFF}
	colorHeader     = color.RGBA{0x1F, 0x3A, 0x5F, 0xFF}
	colorCell       = color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}
	colorFree       = color.RGBA{0xF1, 0xF0, 0xEB, 0xFF}
	colorMarked     = color.RGBA{0xD7, 0xF3, 0xE3, 0xFF}
	colorMarkedInk  = color.RGBA{0x1B, 0x4D, 0x3E, 0xFF}
	colorReach      = color.RGBA{0xFF, 0xE8, 0xB0, 0xFF}
)

// RenderCardPNG draws a participant's card marked against drawn.
func RenderCardPNG(p models.Participant, drawn []int, opts RenderOptions) ([]byte, error) {
	if p.Card == nil {
		return nil, ErrNoCard
	}

	const width = 720
	const height = 860
	const padding = 40
	const titleHeight = 110
	const borderWidth = 2

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: colorBackground}, image.Point{}, draw.Src)

	titleFace, err := newFontFace(32)
	if err != nil {
		return nil, err
	}
	defer func() { _ = titleFace.Close() }()

	numberFace, err := newFontFace(40)
	if err != nil {
		return nil, err
	}
	defer func() { _ = numberFace.Close() }()

	statsFace, err := newFontFace(18)
	if err != nil {
		return nil, err
	}
	defer func() { _ = statsFace.Close() }()

	eval := bingo.Evaluate(*p.Card, drawn)
	name := clampLines(titleFace, []string{p.UserName}, 1, width-padding*2)
	drawText(img, titleFace, padding, 50, name[0], colorInk)
	drawText(img, statsFace, padding, 82, cardStatusLine(p, eval, drawn), colorMuted)

	cellSize := (width - padding*2) / models.GridSize
	gridLeft := (width - cellSize*models.GridSize) / 2
	headerTop := titleHeight
	gridTop := headerTop + cellSize

	for col := 0; col < models.GridSize; col++ {
		rect := image.Rect(gridLeft+col*cellSize, headerTop, gridLeft+(col+1)*cellSize, gridTop)
		draw.Draw(img, rect, &image.Uniform{C: colorHeader}, image.Point{}, draw.Src)
		drawCentered(img, numberFace, rect, models.ColumnLetters[col:col+1], colorCell)
	}

	reach := map[bingo.Coord]bool{}
	if opts.HighlightReach {
		for _, c := range eval.ReachSquares {
			reach[c] = true
		}
	}

	for row := 0; row < models.GridSize; row++ {
		for col := 0; col < models.GridSize; col++ {
			sq := eval.Card.Squares[row][col]
			rect := image.Rect(
				gridLeft+col*cellSize,
				gridTop+row*cellSize,
				gridLeft+(col+1)*cellSize,
				gridTop+(row+1)*cellSize,
			)

			bg, ink := colorCell, colorInk
			label := strconv.Itoa(sq.Value)
			switch {
			case sq.IsFree():
				bg, label = colorFree, "FREE"
			case sq.Marked:
				bg, ink = colorMarked, colorMarkedInk
			case reach[bingo.Coord{Row: row, Col: col}]:
				bg = colorReach
			}

			draw.Draw(img, rect, &image.Uniform{C: bg}, image.Point{}, draw.Src)
			drawBorder(img, rect, borderWidth, colorBorder)
			face := numberFace
			if sq.IsFree() {
				face = statsFace
			}
			drawCentered(img, face, rect, label, ink)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func cardStatusLine(p models.Participant, eval bingo.Evaluation, drawn []int) string {
	parts := []string{fmt.Sprintf("%d drawn", len(drawn))}
	if last := len(drawn); last > 0 {
		parts = append(parts, "last "+models.Label(drawn[last-1]))
	}
	switch {
	case p.BingoRank != nil:
		parts = append(parts, fmt.Sprintf("BINGO #%d", *p.BingoRank))
	case eval.Bingo:
		parts = append(parts, "BINGO")
	case eval.Reach:
		parts = append(parts, "REACH")
	}
	return strings.Join(parts, " - ")
}

func newFontFace(size float64) (*opentype.Face, error) {
	fontOnce.Do(func() {
		parsedGoFont, parsedGoError = opentype.Parse(goregular.TTF)
	})
	if parsedGoError != nil {
		return nil, fmt.Errorf("parse font: %w", parsedGoError)
	}
	face, err := opentype.NewFace(parsedGoFont, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("load font face: %w", err)
	}
	otFace, ok := face.(*opentype.Face)
	if !ok {
		return nil, fmt.Errorf("load font face: unexpected type")
	}
	return otFace, nil
}

func drawText(img draw.Image, face font.Face, x, y int, text string, clr color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(clr),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func drawCentered(img draw.Image, face font.Face, rect image.Rectangle, text string, clr color.Color) {
	metrics := face.Metrics()
	w := font.MeasureString(face, text).Ceil()
	x := rect.Min.X + (rect.Dx()-w)/2
	y := rect.Min.Y + (rect.Dy()-metrics.Height.Ceil())/2 + metrics.Ascent.Ceil()
	drawText(img, face, x, y, text, clr)
}

func drawBorder(img draw.Image, rect image.Rectangle, width int, clr color.Color) {
	border := image.NewUniform(clr)
	draw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+width), border, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(rect.Min.X, rect.Max.Y-width, rect.Max.X, rect.Max.Y), border, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+width, rect.Max.Y), border, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(rect.Max.X-width, rect.Min.Y, rect.Max.X, rect.Max.Y), border, image.Point{}, draw.Src)
}

// clampLines keeps at most maxLines, ending the last kept line with an
// ellipsis when anything was cut or it overflows maxWidth.
func clampLines(face font.Face, lines []string, maxLines int, maxWidth int) []string {
	d := &font.Drawer{Face: face}
	if len(lines) <= maxLines && (len(lines) == 0 || d.MeasureString(lines[len(lines)-1]).Ceil() <= maxWidth) {
		return lines
	}
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	last := lines[len(lines)-1]
	ellipsis := "..."

	runes := []rune(last)
	for d.MeasureString(string(runes)+ellipsis).Ceil() > maxWidth && len(runes) > 0 {
		runes = runes[:len(runes)-1]
	}
	lines[len(lines)-1] = strings.TrimSpace(string(runes)) + ellipsis
	return lines
}
