package telegram

import (
	"strings"
	"testing"

	"reportbot/pkg/logx"
)

func TestSplitTextShortPassthrough(t *testing.T) {
	t.Parallel()
	got := splitText("hello\nworld", 100)
	if len(got) != 1 || got[0] != "hello\nworld" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextPrefersNewlineBoundary(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("row one\n", 10) // 80 runes
	got := splitText(text, 30)
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}
	for i, c := range got {
		if len([]rune(c)) > 30 {
			t.Fatalf("chunk %d exceeds limit: %q", i, c)
		}
		if strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d keeps trailing newline: %q", i, c)
		}
		// Rows stay intact when newlines are available.
		for _, line := range strings.Split(c, "\n") {
			if line != "row one" {
				t.Fatalf("chunk %d broke a row: %q", i, c)
			}
		}
	}
}

func TestSplitTextNoNewlines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 95)
	got := splitText(text, 30)
	var total int
	for _, c := range got {
		if len([]rune(c)) > 30 {
			t.Fatalf("chunk exceeds limit: %d", len(c))
		}
		total += len(c)
	}
	if total != 95 {
		t.Fatalf("content lost: %d of 95 runes", total)
	}
}

func TestSplitTextMultibyte(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("世", 25)
	got := splitText(text, 10)
	var rejoined strings.Builder
	for _, c := range got {
		if n := len([]rune(c)); n > 10 {
			t.Fatalf("chunk exceeds rune limit: %d", n)
		}
		rejoined.WriteString(c)
	}
	if rejoined.String() != text {
		t.Fatal("multibyte content mangled")
	}
}

func TestFilenameOf(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"/var/reports/sales-20260829.html", "sales-20260829.html"},
		{`C:\reports\sales.html`, "sales.html"},
		{"plain.html", "plain.html"},
	}
	for _, tc := range tests {
		if got := filenameOf(tc.in); got != tc.want {
			t.Fatalf("filenameOf(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
