package markdown

import (
	"strings"
	"testing"
)

func TestToHTML(t *testing.T) {
	got := ToHTML([]byte("# Título\n\nTexto com *ênfase*."))
	if !strings.Contains(got, "<h1") || !strings.Contains(got, "<em>ênfase</em>") {
		t.Errorf("unexpected html %q", got)
	}
}

func TestDocument(t *testing.T) {
	got := Document([]byte("Olá"), "Livro")
	for _, want := range []string{"<html", "<title>Livro</title>", "utf-8", "<p>Olá</p>"} {
		if !strings.Contains(got, want) {
			t.Errorf("document lacks %q:\n%s", want, got)
		}
	}
}

func TestSplitSections(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Section
	}{
		{"no headings", "Texto.\n\nMais.", []Section{{Body: "Texto.\n\nMais."}}},
		{
			"two sections",
			"## Um\n\nPrimeiro.\n\n## Dois\nSegundo.",
			[]Section{{Heading: "## Um", Body: "Primeiro."}, {Heading: "## Dois", Body: "Segundo."}},
		},
		{
			"preamble kept",
			"Intro.\n\n## Um\nCorpo.",
			[]Section{{Body: "Intro."}, {Heading: "## Um", Body: "Corpo."}},
		},
		{"level three ignored", "### Sub\nCorpo.", []Section{{Body: "### Sub\nCorpo."}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSections(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("section %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitChapters(t *testing.T) {
	text := strings.Join([]string{
		"Contents",
		"Chapter 1",
		"3",
		"Chapter 2",
		"",
		"Prologue",
		"It began at night.",
		"Chapter 1: The Road",
		"They walked.",
		"Chapter 2 - Home",
		"They slept.",
	}, "\n")

	sections, found := SplitChapters(text)
	if !found {
		t.Fatal("expected chapter markers to be found")
	}
	want := []Section{
		{Body: "Contents"},
		{Heading: "# Prologue", Body: "It began at night."},
		{Heading: "# Chapter 1: The Road", Body: "They walked."},
		{Heading: "# Chapter 2 - Home", Body: "They slept."},
	}
	if len(sections) != len(want) {
		t.Fatalf("got %+v", sections)
	}
	for i := range want {
		if sections[i] != want[i] {
			t.Errorf("section %d = %+v, want %+v", i, sections[i], want[i])
		}
	}

	if _, found := SplitChapters("No markers here."); found {
		t.Error("unexpected markers")
	}
}

func TestIsChapterMarker(t *testing.T) {
	tests := map[string]bool{
		"Chapter 12":           true,
		"  EPILOGUE ":          true,
		"Chapter 3 — The End":  true,
		"Chapter one":          false,
		"The chapter 3 begins": false,
	}
	for line, want := range tests {
		if got := IsChapterMarker(line); got != want {
			t.Errorf("IsChapterMarker(%q) = %v, want %v", line, got, want)
		}
	}
}

func TestJoin(t *testing.T) {
	got := Join([]Section{{Body: "Intro."}, {Heading: "## A", Body: "x"}, {Heading: "## B"}})
	if got != "Intro.\n\n## A\n\nx\n\n## B" {
		t.Errorf("Join = %q", got)
	}
}
