package util

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "keeps valid text unchanged",
			input: "hello world",
			want:  "hello world",
		},
		{
			name:  "removes invalid utf8 bytes",
			input: string([]byte{'A', 0xe2, '.', '.', 'B'}),
			want:  "A..B",
		},
		{
			name:  "removes null bytes",
			input: "prefix\x00suffix",
			want:  "prefixsuffix",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeText(tt.input)

			if got != tt.want {
				t.Fatalf("unexpected sanitized value: got %q, want %q", got, tt.want)
			}

			if !utf8.ValidString(got) {
				t.Fatalf("sanitized value must be valid utf-8: %q", got)
			}

			if strings.Contains(got, "\x00") {
				t.Fatalf("sanitized value must not contain null bytes: %q", got)
			}
		})
	}
}

func TestCollapseWhitespace(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  a   b\tc  ", "a b c"},
		{"single", "single"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		if got := CollapseWhitespace(tt.input); got != tt.want {
			t.Fatalf("CollapseWhitespace(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		input string
		max   int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
		{"项目进度", 2, "项目"},
		{"hello", 0, ""},
	}

	for _, tt := range tests {
		if got := TruncateRunes(tt.input, tt.max); got != tt.want {
			t.Fatalf("TruncateRunes(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
		}
	}
}
