package reflow

import (
	"strings"
	"testing"
)

func TestSafeReflow(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple continuation", "Primeira parte\ncontinua aqui.", "Primeira parte continua aqui."},
		{"hyphen joins without space", "palavra-\nquebrada no meio", "palavraquebrada no meio"},
		{"short line is not a title", "Em uma linha\ncontinua sem titulo", "Em uma linha continua sem titulo"},
		{
			"dialogue and blank lines kept",
			"\"Oi.\"\nela respondeu.\n\n\"Nova fala\"\nsegue aqui",
			"\"Oi.\"\nela respondeu.\n\n\"Nova fala\"\nsegue aqui",
		},
		{
			"em dash dialogue start",
			"Linha anterior\n— Então comecou.\ncontinua aqui",
			"Linha anterior\n— Então comecou.\ncontinua aqui",
		},
		{
			"uppercase and titles block joins",
			"final de frase\nProximo Paragrafo\nCAPITULO UM\ntexto inicia",
			"final de frase\nProximo Paragrafo\nCAPITULO UM\ntexto inicia",
		},
		{"smart gap skip", "a frase segue\n\n\nem outra linha", "a frase segue em outra linha"},
		{"blank lines compressed", "Fim.\n\n\n\nOutro.", "Fim.\n\nOutro."},
		{"crlf", "linha-\r\nseguinte", "linhaseguinte"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeReflow(tt.in); got != tt.want {
				t.Errorf("SafeReflow(%q)\n got %q\nwant %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSafeReflow_Idempotent(t *testing.T) {
	in := "Era uma vez\numa linha quebrada\n\n\"Fala\"\ncontinua\n\nCAPITULO DOIS\ntexto"
	once := SafeReflow(in)
	if twice := SafeReflow(once); twice != once {
		t.Errorf("not idempotent:\n once %q\ntwice %q", once, twice)
	}
}

func TestIsTitleLike(t *testing.T) {
	tests := map[string]bool{
		"CAPITULO UM":         true,
		"Proximo Paragrafo":   true,
		"Prologue":            true,
		"Em uma linha":        false,
		"Fim.":                false,
		"uma frase comprida":  false,
		"1234":                false,
		"Black-Haired Knight": true,
	}
	for in, want := range tests {
		if got := isTitleLike(in); got != want {
			t.Errorf("isTitleLike(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestUnbreak(t *testing.T) {
	got := Unbreak("“devices.”\n\n“Oh, what…”")
	if got != "“devices.”\n\n“Oh, what…”" {
		t.Errorf("unexpected: %q", got)
	}
	got = Unbreak("alpha\n***\nomega")
	if got != "alpha\n\n***\n\nomega" {
		t.Errorf("scene separator not isolated: %q", got)
	}
}

func TestNormalizeHardwrapJoins(t *testing.T) {
	out, joins := NormalizeHardwrapJoins("... voice, which\nmysteriously came ...")
	if !strings.Contains(out, "which mysteriously") || joins != 1 {
		t.Errorf("got %q joins=%d", out, joins)
	}

	in := "Ele parou.\ndepois seguiu"
	if out, joins := NormalizeHardwrapJoins(in); out != in || joins != 0 {
		t.Errorf("terminal punctuation must block: %q joins=%d", out, joins)
	}
}

func TestJoinHyphenLinewrap(t *testing.T) {
	out, n := JoinHyphenLinewrap("hang-\nups")
	if out != "hang-ups" || n != 1 {
		t.Errorf("got %q n=%d", out, n)
	}
}

func TestFixStutter(t *testing.T) {
	tests := []struct {
		in    string
		want  string
		fixes int
	}{
		{"D- do.", "D-do.", 1},
		{"Ele disse: I- it was", "Ele disse: I-it was", 1},
		{"A- bola", "A- bola", 0},
	}
	for _, tt := range tests {
		out, n := FixStutter(tt.in)
		if out != tt.want || n != tt.fixes {
			t.Errorf("FixStutter(%q) = %q,%d want %q,%d", tt.in, out, n, tt.want, tt.fixes)
		}
	}
}

func TestNormalizeHyphenDominance(t *testing.T) {
	out, n := NormalizeHyphenDominance("understand\nunderstand\nunderstand\nunder-stand")
	if strings.Contains(out, "under-stand") || n < 1 {
		t.Errorf("dominant joined form not applied: %q n=%d", out, n)
	}

	in := "demi-humans are here.\nDemihumans are rare."
	if out, n := NormalizeHyphenDominance(in); out != in || n != 0 {
		t.Errorf("legit compound changed: %q n=%d", out, n)
	}

	in = "Zine-sama greeted everyone. Zinesama Zinesama Zinesama"
	if out, n := NormalizeHyphenDominance(in); !strings.Contains(out, "Zine-sama") || n != 0 {
		t.Errorf("honorific joined: %q n=%d", out, n)
	}
}

func TestNormalizeSceneSeparators(t *testing.T) {
	out, fixes := NormalizeSceneSeparators("Line A\n***\nLine B")
	if !strings.Contains(out, "\n\n***\n\n") || fixes < 1 {
		t.Errorf("got %q fixes=%d", out, fixes)
	}
	again, fixes := NormalizeSceneSeparators(out)
	if again != out || fixes != 0 {
		t.Errorf("second pass changed text: %q fixes=%d", again, fixes)
	}
}

func TestRemoveStrayQuoteLines(t *testing.T) {
	out, n := RemoveStrayQuoteLines("“devices.”\n\"\n“Oh, what…”")
	if out != "“devices.”\n“Oh, what…”" || n != 1 {
		t.Errorf("got %q n=%d", out, n)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"D- do.", "D-do."},
		{"hang-\nups", "hang-ups"},
		{"alpha\n***\nomega", "alpha\n\n***\n\nomega"},
	}
	for _, tt := range tests {
		if got, _ := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
