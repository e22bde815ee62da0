package tui

import (
	"testing"
	"unicode/utf8"
)

func TestSparklineWidth(t *testing.T) {
	tests := []struct {
		name    string
		samples []uint64
		width   int
	}{
		{"empty padded", nil, 10},
		{"short padded", []uint64{1, 2}, 10},
		{"exact", []uint64{1, 2, 3}, 3},
		{"overflow trimmed", []uint64{1, 2, 3, 4, 5}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sparkline(tt.samples, 10, tt.width)
			if n := utf8.RuneCountInString(got); n != tt.width {
				t.Errorf("rune width = %d, want %d", n, tt.width)
			}
		})
	}
}

func TestSparklineZeroWidth(t *testing.T) {
	if got := Sparkline([]uint64{1, 2}, 10, 0); got != "" {
		t.Errorf("Sparkline with zero width = %q, want empty", got)
	}
}

func TestSparklineKeepsNewestSamples(t *testing.T) {
	// With scale 10 and eight bar levels, 9 maps near the top and 1 to
	// the bottom. The newest samples must survive the left trim.
	got := []rune(Sparkline([]uint64{9, 1, 1, 1}, 10, 3))
	if got[0] != '▁' {
		t.Errorf("oldest visible rune = %q, want low bar", got[0])
	}
}

func TestSparklineFlatWithoutScale(t *testing.T) {
	got := Sparkline([]uint64{5, 9, 2}, 0, 3)
	for _, r := range got {
		if r != '▁' {
			t.Errorf("rune = %q, want flat line without scale", r)
		}
	}
}

func TestSparklineMaxClamped(t *testing.T) {
	// A sample above scale still renders the highest bar, not a panic
	// or an out-of-range rune.
	got := []rune(Sparkline([]uint64{100}, 10, 1))
	if got[0] != '█' {
		t.Errorf("clamped rune = %q, want full bar", got[0])
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    uint64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1048576, "1.0 MiB"},
		{3221225472, "3.0 GiB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
