package similarity

import "testing"

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"ação", "acao", 2},
	}
	for _, tt := range tests {
		if got := Levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("Levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRatio(t *testing.T) {
	if r := Ratio("same", "same"); r != 1.0 {
		t.Errorf("identical strings: got %f", r)
	}
	if r := Ratio("abcd", "abce"); r != 0.75 {
		t.Errorf("one substitution in four: got %f", r)
	}
	if r := Ratio("", ""); r != 1.0 {
		t.Errorf("empty strings: got %f", r)
	}
}

func TestLengthBound(t *testing.T) {
	if b := LengthBound("aaaa", "aa"); b != 0.5 {
		t.Errorf("got %f", b)
	}
	if Ratio("aaaa", "bb") > LengthBound("aaaa", "bb") {
		t.Error("ratio must never exceed the length bound")
	}
}

func TestNormalizeSpace(t *testing.T) {
	if got := NormalizeSpace("  a \n\t b  "); got != "a b" {
		t.Errorf("got %q", got)
	}
}
