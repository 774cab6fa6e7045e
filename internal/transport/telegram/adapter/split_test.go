package adapter

import (
	"strings"
	"testing"
)

func TestSplitTextShort(t *testing.T) {
	got := SplitText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := SplitText(s, 10, "")
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextKeepsTagsWhole(t *testing.T) {
	s := "abcdef<b>bold</b>"
	got := SplitText(s, 8, "HTML")
	if got[0] != "abcdef" {
		t.Fatalf("first chunk = %q", got[0])
	}
	if strings.Join(got, "") != s {
		t.Fatalf("chunks lost text: %q", got)
	}
}

func TestSplitTextRunes(t *testing.T) {
	s := strings.Repeat("é", 25)
	got := SplitText(s, 10, "")
	if len(got) != 3 {
		t.Fatalf("chunks = %d", len(got))
	}
	for _, c := range got {
		if n := len([]rune(c)); n > 10 {
			t.Fatalf("chunk has %d runes", n)
		}
	}
}
