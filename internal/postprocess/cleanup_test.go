package postprocess

import "testing"

func TestCleanupBeforeRefine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		check    func(t *testing.T, st CleanupStats)
	}{
		{
			name:     "onomatopoeia survives",
			input:    "Crack!\nCrack!\nCrack!\nCrack!",
			expected: "Crack!\nCrack!\nCrack!\nCrack!",
		},
		{
			name:     "bare dialogue marks survive",
			input:    "— ?\n— ?",
			expected: "— ?\n— ?",
		},
		{
			name:     "duplicate line",
			input:    "Ele abriu a porta devagar.\nEle abriu a porta devagar.\nDepois saiu.",
			expected: "Ele abriu a porta devagar.\nDepois saiu.",
			check: func(t *testing.T, st CleanupStats) {
				if st.LinesRemoved != 1 {
					t.Errorf("LinesRemoved = %d, want 1", st.LinesRemoved)
				}
			},
		},
		{
			name:     "truncated prefix line",
			input:    "Ele abriu a porta e\nEle abriu a porta e saiu.",
			expected: "Ele abriu a porta e saiu.",
			check: func(t *testing.T, st CleanupStats) {
				if st.PrefixLinesRemoved != 1 {
					t.Errorf("PrefixLinesRemoved = %d, want 1", st.PrefixLinesRemoved)
				}
			},
		},
		{
			name:     "glued sentences",
			input:    "Ele saiu. Ela ficou.",
			expected: "Ele saiu.\nEla ficou.",
			check: func(t *testing.T, st CleanupStats) {
				if st.BreaksInserted != 1 {
					t.Errorf("BreaksInserted = %d, want 1", st.BreaksInserted)
				}
			},
		},
		{
			name:     "repeated fragment",
			input:    "Ele correu até a porta. Ele correu até a porta. Depois parou.",
			expected: "Ele correu até a porta.\nDepois parou.",
			check: func(t *testing.T, st CleanupStats) {
				if st.FragmentsRemoved != 1 {
					t.Errorf("FragmentsRemoved = %d, want 1", st.FragmentsRemoved)
				}
			},
		},
		{
			name:     "heading untouched",
			input:    "## Parte um. Início\n\nTexto.",
			expected: "## Parte um. Início\n\nTexto.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, st := CleanupBeforeRefine(tt.input)
			if got != tt.expected {
				t.Errorf("CleanupBeforeRefine(%q) = %q, want %q", tt.input, got, tt.expected)
			}
			if tt.check != nil {
				tt.check(t, st)
			}

			again, st2 := CleanupBeforeRefine(got)
			if again != got || st2.Changed() {
				t.Errorf("second pass changed %q to %q (%+v)", got, again, st2)
			}
		})
	}
}

func TestIsProtectedShortLine(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"Crack!", true},
		{"Hein?", true},
		{"— ?", true},
		{"— Não!", true},
		{"", false},
		{"Ele saiu pela porta dos fundos!", false},
		{"Texto.", false},
	}
	for _, tt := range tests {
		if got := isProtectedShortLine(tt.line); got != tt.want {
			t.Errorf("isProtectedShortLine(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
