package neardup

import (
	"sync"
	"testing"
)

const (
	para100 = "This is a test paragraph with number 100 that should not be reused."
	para200 = "This is a test paragraph with number 200 that should not be reused."
	out100  = "Numero detectado: 100. Este e um paragrafo de teste com o numero 100."
)

func TestIndex_Lookup(t *testing.T) {
	tests := []struct {
		name   string
		added  string
		output string
		query  string
		want   string
		wantOK bool
	}{
		{"exact after whitespace", "Hello   world,\nagain.", "Olá mundo, de novo.", "Hello world, again.", "Olá mundo, de novo.", true},
		{"number substituted", para100, out100, para200, "Numero detectado: 200. Este e um paragrafo de teste com o numero 200.", true},
		{"number absent from output", para100, "Numero detectado: cem.", para200, "", false},
		{"too short to be similar", "Page 1", "Página 1", "Page 9", "", false},
		{"different text", para100, out100, "Something else entirely with 100 words.", "", false},
		{"inconsistent mapping", "Rooms 100 and 100 were closed for the winter season this year.", "Salas 100 e 100.", "Rooms 100 and 200 were closed for the winter season this year.", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix := New()
			ix.Add(tt.added, tt.output)
			got, ok := ix.Lookup(tt.query)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Lookup(%q) = %q, %v; want %q, %v", tt.query, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		oldNums []string
		newNums []string
		want    string
		wantOK  bool
	}{
		{"unchanged", "Ano 1999.", []string{"1999"}, []string{"1999"}, "Ano 1999.", true},
		{"swap", "De 1 a 2.", []string{"1", "2"}, []string{"2", "3"}, "De 2 a 3.", true},
		{"count mismatch", "De 1 a 2.", []string{"1", "2"}, []string{"1"}, "", false},
		{"whole numbers only", "Sala 10 e 100.", []string{"10"}, []string{"11"}, "Sala 11 e 100.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Substitute(tt.output, tt.oldNums, tt.newNums)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Substitute = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestKey_MasksNumbers(t *testing.T) {
	if Key(para100) != Key(para200) {
		t.Error("keys should ignore numeric literals")
	}
	if Key("a b") != Key("a\n\nb") {
		t.Error("keys should ignore whitespace")
	}
	if Key("a b") == Key("a c") {
		t.Error("distinct texts share a key")
	}
}

func TestIndex_AddReplacesAndConcurrency(t *testing.T) {
	ix := New()
	ix.Add("chunk", "first")
	ix.Add("chunk", "second")
	ix.Add("", "ignored")
	if ix.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ix.Len())
	}
	if got, _ := ix.Lookup("chunk"); got != "second" {
		t.Errorf("Lookup = %q, want second", got)
	}

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ix.Add(para100, out100)
			ix.Lookup(para200)
		}()
	}
	wg.Wait()
}
