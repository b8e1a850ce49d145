package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/valpere/tradutor/internal/generator"
	"github.com/valpere/tradutor/internal/store"
	"github.com/valpere/tradutor/internal/validator"
)

func TestTranslate_RejectedChunkIsMarked(t *testing.T) {
	cfg := testConfig()
	cfg.SplitBySections = false
	cfg.TranslateMaxRatio = 1.5
	gen := &mockGenerator{outputs: []string{translated(strings.Repeat("Hello again. ", 20))}}
	e := newTestEngine(t, cfg, StageTranslate, gen)

	res, err := e.Translate(context.Background(), "sample", "Hello again.")
	require.NoError(t, err)

	assert.Contains(t, res.Text, RejectedMarker(1))
	assert.Contains(t, res.Text, "Hello again.")
	assert.Equal(t, cfg.MaxRetries, gen.calls())
	assert.Equal(t, string(validator.ReasonRunawayExpansion), res.Stats.Blocks[0].Reason)
}

func TestTranslate_RejectedChunkFailsDocument(t *testing.T) {
	cfg := testConfig()
	cfg.SplitBySections = false
	cfg.TranslateMaxRatio = 1.5
	cfg.FailOnChunkError = true
	gen := &mockGenerator{outputs: []string{translated(strings.Repeat("Hello world. ", 20))}}
	e := newTestEngine(t, cfg, StageTranslate, gen)

	_, err := e.Translate(context.Background(), "sample", "Hello world.")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChunkFailed))
}

func TestTranslate_RepetitionRejected(t *testing.T) {
	source := "He walked along the deserted road while the rain fell without pause over the fields. " +
		"The night was long and cold, and nobody answered when he called out. He kept going anyway."
	block := "Ele caminhou pela estrada deserta enquanto a chuva caía sem parar sobre os campos. " +
		"A noite era longa e fria, e ninguém respondeu quando ele chamou."

	tests := []struct {
		name   string
		source string
		output string
	}{
		{
			name:   "sentence three times",
			source: "She opened the door slowly. She waited. Then she sat down by the window.",
			output: "Ela abriu a porta devagar. Ela abriu a porta devagar. Ela abriu a porta devagar.",
		},
		{
			name:   "block back to back",
			source: source,
			output: block + " " + block,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.SplitBySections = false
			gen := &mockGenerator{outputs: []string{translated(tt.output)}}
			e := newTestEngine(t, cfg, StageTranslate, gen)

			res, err := e.Translate(context.Background(), "sample", tt.source)
			require.NoError(t, err)

			assert.Equal(t, cfg.MaxRetries, gen.calls())
			assert.Contains(t, res.Text, RejectedMarker(1))
			assert.Equal(t, string(validator.ReasonRepetition), res.Stats.Blocks[0].Reason)
		})
	}
}

func TestTranslate_TransportFailure(t *testing.T) {
	failing := func(context.Context, string) (generator.Response, error) {
		return generator.Response{}, generator.ErrEmptyResponse
	}

	t.Run("placeholder", func(t *testing.T) {
		cfg := testConfig()
		gen := &mockGenerator{generateFunc: failing}
		e := newTestEngine(t, cfg, StageTranslate, gen)

		res, err := e.Translate(context.Background(), "sample", "Nothing answers here.")
		require.NoError(t, err)
		assert.Equal(t, RejectedMarker(1)+"\n\nNothing answers here.", res.Text)
		assert.Equal(t, string(validator.ReasonGenerationFailed), res.Stats.Blocks[0].Reason)
	})

	t.Run("abort", func(t *testing.T) {
		cfg := testConfig()
		cfg.FailOnChunkError = true
		gen := &mockGenerator{generateFunc: failing}
		e := newTestEngine(t, cfg, StageTranslate, gen)

		_, err := e.Translate(context.Background(), "sample", "Nothing answers here.")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrChunkFailed))
		assert.True(t, errors.Is(err, generator.ErrEmptyResponse))
		assert.Equal(t, cfg.MaxRetries, gen.calls())
	})
}

func TestTranslate_RetriesOnDialogueOmission(t *testing.T) {
	cfg := testConfig()
	cfg.SplitBySections = false
	input := "\"A\"\n\"B\"\n\"C\"\n\"D\""
	gen := &mockGenerator{outputs: []string{
		translated("\"A\"\n\"B\""),
		translated(input),
	}}
	e := newTestEngine(t, cfg, StageTranslate, gen)

	res, err := e.Translate(context.Background(), "sample", input)
	require.NoError(t, err)

	assert.Equal(t, 2, gen.calls())
	assert.Contains(t, res.Text, `"C"`)
	assert.Contains(t, res.Text, `"D"`)
	assert.Equal(t, 0, res.Stats.Fallbacks)
}

func TestTranslate_CollapseRevertsToOriginal(t *testing.T) {
	cfg := testConfig()
	cfg.SplitBySections = false
	input := "Simple narrative text without any dialogue at all."
	gen := &mockGenerator{outputs: []string{translated("Texto narrativo simples 简单的叙述文本没有任何对话 sem diálogo algum.")}}
	e := newTestEngine(t, cfg, StageTranslate, gen)

	res, err := e.Translate(context.Background(), "sample", input)
	require.NoError(t, err)

	assert.Equal(t, input, res.Text)
	assert.Equal(t, 1, gen.calls(), "collapse is not retried")
	assert.Equal(t, 1, res.Stats.CollapseDetected)
}

func TestTranslate_NearDuplicateReuse(t *testing.T) {
	cfg := testConfig()
	text := "Chapter 1\n\nThe detector reported number 100 at the northern gate of the old city.\n\n" +
		"Chapter 2\n\nThe detector reported number 200 at the northern gate of the old city."
	gen := &mockGenerator{outputs: []string{
		translated("# Capítulo 1\n\nO detector registrou o número 100 no portão norte da cidade velha."),
	}}
	e := newTestEngine(t, cfg, StageTranslate, gen)

	res, err := e.Translate(context.Background(), "sample", text)
	require.NoError(t, err)

	assert.Equal(t, 1, gen.calls())
	assert.Equal(t, 1, res.Stats.DuplicatesReused)
	assert.Contains(t, res.Text, "número 100")
	assert.Contains(t, res.Text, "número 200")
	assert.Contains(t, res.Text, "# Capítulo 2")
}

func TestTranslate_PlaceholdersSurvive(t *testing.T) {
	cfg := testConfig()
	cfg.SplitBySections = false
	input := "See the page at https://example.com/guide for the full story."
	var prompt string
	gen := &mockGenerator{generateFunc: func(_ context.Context, p string) (generator.Response, error) {
		prompt = p
		return generator.Response{Text: translated("Veja a página em [PH0] para a história completa.")}, nil
	}}
	e := newTestEngine(t, cfg, StageTranslate, gen)

	res, err := e.Translate(context.Background(), "sample", input)
	require.NoError(t, err)

	assert.NotContains(t, promptBody(prompt), "https://")
	assert.Contains(t, prompt, "[PHn]")
	assert.Equal(t, "Veja a página em https://example.com/guide para a história completa.", res.Text)
}

func TestTranslate_PlaceholderLoss(t *testing.T) {
	cfg := testConfig()
	cfg.SplitBySections = false
	core, logs := observer.New(zap.WarnLevel)
	gen := &mockGenerator{outputs: []string{translated("Veja a página para a história completa, sem o link.")}}
	e := newTestEngine(t, cfg, StageTranslate, gen, WithLogger(zap.New(core)))

	res, err := e.Translate(context.Background(), "sample", "See the page at https://example.com/guide for the full story.")
	require.NoError(t, err)

	assert.Equal(t, string(validator.ReasonPlaceholderLoss), res.Stats.Blocks[0].Reason)
	lost := logs.FilterMessage("placeholders lost in translation").All()
	require.Len(t, lost, cfg.MaxRetries)
	assert.Equal(t, []any{0}, lost[0].ContextMap()["missing"])
}

func TestTranslate_ContextAndOrderWithWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.SplitBySections = false
	cfg.Translate.ChunkChars = 20
	cfg.Workers = 4

	sources := []string{
		"Paragraph one is right here.",
		"Paragraph two sits below it.",
		"Paragraph three follows on.",
		"Paragraph four is quieter.",
		"Paragraph five comes next.",
		"Paragraph six ends it all.",
	}
	targets := []string{
		"Parágrafo um está bem aqui.",
		"Parágrafo dois fica abaixo.",
		"Parágrafo três vem depois.",
		"Parágrafo quatro é calmo.",
		"Parágrafo cinco vem a seguir.",
		"Parágrafo seis encerra tudo.",
	}
	answers := make(map[string]string, len(sources))
	for i, s := range sources {
		answers[s] = targets[i]
	}

	prompts := make(chan string, len(sources))
	reply := replyBySource(func(s string) string { return translated(s) }, answers)
	gen := &mockGenerator{generateFunc: func(ctx context.Context, p string) (generator.Response, error) {
		prompts <- p
		return reply(ctx, p)
	}}
	e := newTestEngine(t, cfg, StageTranslate, gen)

	res, err := e.Translate(context.Background(), "sample", strings.Join(sources, "\n\n"))
	require.NoError(t, err)
	close(prompts)

	assert.Equal(t, strings.Join(targets, "\n\n"), res.Text)
	require.Len(t, res.Stats.Blocks, len(sources))
	for i, b := range res.Stats.Blocks {
		assert.Equal(t, i+1, b.Index)
	}
	for p := range prompts {
		if strings.Contains(p, "Paragraph four") {
			assert.Contains(t, p, "CONTEXT (DO NOT TRANSLATE OR REWRITE):\n\"Paragraph three follows on.\"")
		}
	}
}

func TestTranslate_EqualChunksKeepTheirContext(t *testing.T) {
	cfg := testConfig()
	cfg.SplitBySections = false
	cfg.Translate.ChunkChars = 20
	cfg.Workers = 4

	same := "The same line again here."
	text := strings.Join([]string{"Alpha paragraph comes first.", same, "Beta paragraph sits here.", same}, "\n\n")
	reply := replyBySource(translated, map[string]string{
		"Alpha paragraph comes first.": "Parágrafo alfa vem primeiro.",
		"Beta paragraph sits here.":    "Parágrafo beta fica aqui.",
		same:                           "A mesma linha de novo aqui.",
	})

	var inFlight atomic.Int32
	both := make(chan struct{})
	contexts := make(chan string, 2)
	gen := &mockGenerator{generateFunc: func(ctx context.Context, p string) (generator.Response, error) {
		if promptBody(p) == same {
			contexts <- p
			if inFlight.Add(1) == 2 {
				close(both)
			}
			select {
			case <-both:
			case <-time.After(time.Second):
			}
		}
		return reply(ctx, p)
	}}
	e := newTestEngine(t, cfg, StageTranslate, gen)

	res, err := e.Translate(context.Background(), "sample", text)
	require.NoError(t, err)
	close(contexts)

	assert.Equal(t, int32(2), inFlight.Load(), "each copy is generated with its own context")
	var seen []string
	for p := range contexts {
		switch {
		case strings.Contains(p, "\"Alpha paragraph comes first.\""):
			seen = append(seen, "alpha")
		case strings.Contains(p, "\"Beta paragraph sits here.\""):
			seen = append(seen, "beta")
		}
	}
	assert.ElementsMatch(t, []string{"alpha", "beta"}, seen)
	assert.Equal(t, 0, res.Stats.Fallbacks)
}

func TestTranslate_SplitFallsBackOnOversizedSection(t *testing.T) {
	cfg := testConfig()
	cfg.Translate.ChunkChars = 100
	long := strings.Repeat("A long preamble sentence. ", 10)
	text := long + "\n\nEpilogue\n\nThe end came quietly."

	e := New(cfg)
	sections := e.translationSections(text, cfg.Translate.ChunkChars)
	assert.Equal(t, []string{strings.TrimSpace(text)}, sections)

	short := "Prologue\n\nIt began.\n\nChapter 1\n\nThe middle part."
	sections = e.translationSections(short, cfg.Translate.ChunkChars)
	assert.Equal(t, []string{"# Prologue\n\nIt began.", "# Chapter 1\n\nThe middle part."}, sections)
}

func TestTranslate_GlossaryInPrompt(t *testing.T) {
	st, err := store.New(t.TempDir() + "/tradutor.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	_, err = st.AddGlossaryTerm(ctx, "en", "pt", "Shadow Guild", "Guilda das Sombras")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.SplitBySections = false
	var prompt string
	gen := &mockGenerator{generateFunc: func(_ context.Context, p string) (generator.Response, error) {
		prompt = p
		return generator.Response{Text: translated("A Guilda das Sombras chegou cedo.")}, nil
	}}
	e := newTestEngine(t, cfg, StageTranslate, gen, WithStore(st))

	_, err = e.Translate(ctx, "sample", "The Shadow Guild arrived early.")
	require.NoError(t, err)
	assert.Contains(t, prompt, "- Shadow Guild -> Guilda das Sombras")
}

func TestTranslate_Resume(t *testing.T) {
	st, err := store.New(t.TempDir() + "/tradutor.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := testConfig()
	cfg.SplitBySections = false
	cfg.FailOnChunkError = true
	cfg.MaxRetries = 1
	cfg.Translate.ChunkChars = 20
	text := "First paragraph is here.\n\nSecond paragraph is here."
	answers := map[string]string{
		"First paragraph is here.":  "Primeiro parágrafo está aqui.",
		"Second paragraph is here.": "Segundo parágrafo está aqui.",
	}

	first := &mockGenerator{generateFunc: func(ctx context.Context, p string) (generator.Response, error) {
		if strings.Contains(p, "Second paragraph") {
			return generator.Response{}, errors.New("backend went away")
		}
		return replyBySource(translated, answers)(ctx, p)
	}}
	_, err = newTestEngine(t, cfg, StageTranslate, first, WithStore(st)).Translate(context.Background(), "book", text)
	require.ErrorIs(t, err, ErrChunkFailed)

	second := &mockGenerator{generateFunc: replyBySource(translated, answers)}
	res, err := newTestEngine(t, cfg, StageTranslate, second, WithStore(st), WithResume(true)).
		Translate(context.Background(), "book", text)
	require.NoError(t, err)

	assert.Equal(t, 1, second.calls())
	assert.Equal(t, 1, res.Stats.Resumed)
	assert.Equal(t, "Primeiro parágrafo está aqui.\n\nSegundo parágrafo está aqui.", res.Text)
}

func TestTranslate_FailedRunReport(t *testing.T) {
	st, err := store.New(t.TempDir() + "/tradutor.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := testConfig()
	cfg.SplitBySections = false
	cfg.FailOnChunkError = true
	cfg.MaxRetries = 1
	cfg.Translate.ChunkChars = 20
	text := "First paragraph is here.\n\nSecond paragraph is here."

	gen := &mockGenerator{generateFunc: func(ctx context.Context, p string) (generator.Response, error) {
		if strings.Contains(p, "Second paragraph") {
			return generator.Response{}, errors.New("backend went away")
		}
		return replyBySource(translated, map[string]string{
			"First paragraph is here.": "Primeiro parágrafo está aqui.",
		})(ctx, p)
	}}
	_, err = newTestEngine(t, cfg, StageTranslate, gen, WithStore(st)).Translate(context.Background(), "book", text)
	require.ErrorIs(t, err, ErrChunkFailed)

	run, found, err := st.FindResumableRun(context.Background(), StageTranslate, store.Fingerprint(text), 2)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, store.StatusFailed, run.Status)

	var report Stats
	require.NoError(t, json.Unmarshal([]byte(run.Report), &report))
	assert.Equal(t, 2, report.TotalChunks)
	require.Len(t, report.Blocks, 1)
	assert.Equal(t, 1, report.Blocks[0].Index)
	assert.Equal(t, runeLen("First paragraph is here."), report.CharsIn)
}

func TestTranslate_EmptyInput(t *testing.T) {
	e := newTestEngine(t, testConfig(), StageTranslate, &mockGenerator{})
	_, err := e.Translate(context.Background(), "sample", "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTranslate_CancelledContext(t *testing.T) {
	cfg := testConfig()
	cfg.SplitBySections = false
	gen := &mockGenerator{generateFunc: func(ctx context.Context, _ string) (generator.Response, error) {
		<-ctx.Done()
		return generator.Response{}, ctx.Err()
	}}
	e := newTestEngine(t, cfg, StageTranslate, gen)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Translate(ctx, "sample", "This never gets an answer.")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), fmt.Sprint(err))
}
