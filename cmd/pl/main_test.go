package main

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateMessage(t *testing.T) {
	short := "Read one chapter a day"
	if got := truncateMessage(short, 40); got != short {
		t.Fatalf("short message altered: %q", got)
	}

	long := strings.Repeat("läs en bok, ", 10)
	got := truncateMessage(long, 40)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
	if want := 40; len([]rune(got)) != want {
		t.Fatalf("rune length = %d, want %d", len([]rune(got)), want)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("missing ellipsis: %q", got)
	}
}
