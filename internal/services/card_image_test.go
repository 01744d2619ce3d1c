package services

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"
	"unicode/utf8"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/HammerMeetNail/bingohall/internal/bingo"
	"github.com/HammerMeetNail/bingohall/internal/models"
)

func TestClampLines_TruncatesWithValidUTF8(t *testing.T) {
	face := basicfont.Face7x13
	d := &font.Drawer{Face: face}

	original := "こんにちは世界😀😀😀"
	maxWidth := d.MeasureString("こんにちは...").Ceil()

	lines := []string{original, "unused"}
	out := clampLines(face, lines, 1, maxWidth)
	if len(out) != 1 {
		t.Fatalf("expected 1 line, got %d", len(out))
	}
	if !strings.HasSuffix(out[0], "...") {
		t.Fatalf("expected ellipsis suffix, got %q", out[0])
	}
	if !utf8.ValidString(out[0]) {
		t.Fatalf("expected valid UTF-8, got %q", out[0])
	}
	if !strings.Contains(out[0], "こ") {
		t.Fatalf("expected some original content preserved, got %q", out[0])
	}
}

func TestClampLines_ShortLineUntouched(t *testing.T) {
	out := clampLines(basicfont.Face7x13, []string{"alice"}, 1, 500)
	if out[0] != "alice" {
		t.Fatalf("expected unchanged line, got %q", out[0])
	}
}

func TestRenderCardPNG(t *testing.T) {
	card := rowCard()
	rank := 1
	p := models.Participant{UserName: "alice", Card: &card, BingoRank: &rank}

	data, err := RenderCardPNG(p, []int{7, 23, 41, 58, 61}, RenderOptions{HighlightReach: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 720, 860) {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
}

func TestRenderCardPNG_NoCard(t *testing.T) {
	if _, err := RenderCardPNG(models.Participant{UserName: "bob"}, nil, RenderOptions{}); !errors.Is(err, ErrNoCard) {
		t.Fatalf("expected ErrNoCard, got %v", err)
	}
}

func TestCardStatusLine(t *testing.T) {
	card := rowCard()
	drawn := []int{7, 23, 41, 58}
	eval := bingo.Evaluate(card, drawn)
	got := cardStatusLine(models.Participant{Card: &card}, eval, drawn)
	if got != "4 drawn - last G-58 - REACH" {
		t.Fatalf("unexpected status %q", got)
	}
}
