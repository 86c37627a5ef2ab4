package ui

import (
	"fmt"
	"strings"
	"testing"
)

// TestBannerPreview prints the banner so `go test ./pkg/ui -run TestBannerPreview` shows it.
func TestBannerPreview(t *testing.T) {
	fmt.Println(Banner())
}

func TestBannerIncludesWordmark(t *testing.T) {
	banner := Banner()
	if !strings.Contains(banner, "jitterlens") {
		t.Fatalf("banner missing jitterlens wordmark: %q", banner)
	}
	if !strings.Contains(banner, "real-time latency under load") {
		t.Fatalf("banner missing tagline")
	}
	lines := strings.Split(strings.TrimSpace(banner), "\n")
	if len(lines) < 8 {
		t.Fatalf("expected multi-line banner, got %d lines", len(lines))
	}
}

func TestBannerHasEveryLetter(t *testing.T) {
	for _, r := range "jitterlens" {
		if _, ok := letters[r]; !ok {
			t.Fatalf("no glyph for %q", r)
		}
	}
	for r, rows := range letters {
		if len(rows) != 6 {
			t.Fatalf("glyph %q has %d rows", r, len(rows))
		}
	}
}

func TestBannerUsesGradientColors(t *testing.T) {
	banner := Banner()
	colors := []string{bold, signalRed, ember, amber, lime, mint, seafoam, cobalt, deepIndigo, fuchsia, frost}
	for _, color := range colors {
		if !strings.Contains(banner, color) {
			t.Fatalf("banner missing color code %q", color)
		}
	}
}
