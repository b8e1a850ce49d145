package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/tradutor/internal/config"
	"github.com/valpere/tradutor/internal/generator"
	"github.com/valpere/tradutor/internal/validator"
)

func refineConfig() config.Config {
	cfg := testConfig()
	cfg.CleanupBeforeRefine = false
	return cfg
}

func TestRefine_KeepsSectionStructure(t *testing.T) {
	md := "## One\n\nFirst section text here.\n\n## Two\n\nSecond section text here."
	gen := &mockGenerator{generateFunc: replyBySource(refined, map[string]string{
		"First section text here.":  "First section text here.",
		"Second section text here.": "Second section text, here.",
	})}
	e := newTestEngine(t, refineConfig(), StageRefine, gen)

	res, err := e.Refine(context.Background(), "sample", md)
	require.NoError(t, err)

	assert.Equal(t, 2, gen.calls())
	assert.Equal(t, "## One\n\nFirst section text here.\n\n## Two\n\nSecond section text, here.", res.Text)
	assert.Equal(t, 0, res.Stats.Fallbacks)
}

func TestRefine_CollapseKeepsOriginal(t *testing.T) {
	md := "Ela abriu a janela e olhou para a rua vazia."
	gen := &mockGenerator{outputs: []string{refined("Ela abriu a janela 她打开窗户看着空荡荡的街道 e olhou.")}}
	e := newTestEngine(t, refineConfig(), StageRefine, gen)

	res, err := e.Refine(context.Background(), "sample", md)
	require.NoError(t, err)

	assert.Equal(t, md, res.Text)
	assert.Equal(t, 1, gen.calls())
	assert.Equal(t, 1, res.Stats.CollapseDetected)
	assert.Equal(t, string(validator.ReasonCollapseDetected), res.Stats.Blocks[0].Reason)
}

func TestRefine_CollapsesRepeatedParagraph(t *testing.T) {
	md := "Ela abriu a janela e olhou para a rua vazia.\n\nDepois fechou a porta."
	first := "Ela abriu a janela e olhou para a rua vazia lá fora."
	gen := &mockGenerator{outputs: []string{refined(first + "\n\n" + first + "\n\nDepois fechou a porta.")}}
	e := newTestEngine(t, refineConfig(), StageRefine, gen)

	res, err := e.Refine(context.Background(), "sample", md)
	require.NoError(t, err)

	assert.Equal(t, first+"\n\nDepois fechou a porta.", res.Text)
	assert.Equal(t, 0, res.Stats.Fallbacks)
}

func TestRefine_SingleAttempt(t *testing.T) {
	md := "Ela abriu a janela e olhou para a rua vazia."

	t.Run("rejected", func(t *testing.T) {
		gen := &mockGenerator{outputs: []string{refined("Ela abriu.")}}
		e := newTestEngine(t, refineConfig(), StageRefine, gen)

		res, err := e.Refine(context.Background(), "sample", md)
		require.NoError(t, err)
		assert.Equal(t, md, res.Text)
		assert.Equal(t, 1, gen.calls())
		assert.Equal(t, string(validator.ReasonTruncatedOutput), res.Stats.Blocks[0].Reason)
	})

	t.Run("transport failure", func(t *testing.T) {
		gen := &mockGenerator{generateFunc: func(context.Context, string) (generator.Response, error) {
			return generator.Response{}, errors.New("connection reset")
		}}
		e := newTestEngine(t, refineConfig(), StageRefine, gen)

		res, err := e.Refine(context.Background(), "sample", md)
		require.NoError(t, err)
		assert.Equal(t, md, res.Text)
		assert.Equal(t, 1, gen.calls())
		assert.Equal(t, string(validator.ReasonGenerationFailed), res.Stats.Blocks[0].Reason)
	})
}

func TestRefine_NearDuplicateReuse(t *testing.T) {
	md := "## One\n\nThe detector reported number 100 at the northern gate of the old city.\n\n" +
		"## Two\n\nThe detector reported number 200 at the northern gate of the old city."
	gen := &mockGenerator{outputs: []string{
		refined("The detector reported number 100 at the northern gate of the old city!"),
	}}
	e := newTestEngine(t, refineConfig(), StageRefine, gen)

	res, err := e.Refine(context.Background(), "sample", md)
	require.NoError(t, err)

	assert.Equal(t, 1, gen.calls())
	assert.Equal(t, 1, res.Stats.DuplicatesReused)
	assert.Contains(t, res.Text, "## Two\n\nThe detector reported number 200 at the northern gate of the old city!")
}

func TestRefine_EmptyInput(t *testing.T) {
	gen := &mockGenerator{}
	e := newTestEngine(t, refineConfig(), StageRefine, gen)

	res, err := e.Refine(context.Background(), "sample", "\n\n")
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Equal(t, 0, gen.calls())
}

func TestRun_ChainsStages(t *testing.T) {
	cfg := refineConfig()
	cfg.SplitBySections = false
	desq := &mockGenerator{outputs: []string{"The line was broken in the middle."}}
	trans := &mockGenerator{outputs: []string{translated("A linha foi quebrada no meio.")}}
	ref := &mockGenerator{outputs: []string{refined("A linha foi quebrada ao meio.")}}
	e := New(cfg,
		WithSleeper(noSleep),
		WithGenerators(StageDesquebrar, desq),
		WithGenerators(StageTranslate, trans),
		WithGenerators(StageRefine, ref))

	res, err := e.Run(context.Background(), "sample", "The line was broken\nin the middle.", RunOptions{Desquebrar: true, Refine: true})
	require.NoError(t, err)

	assert.Equal(t, "The line was broken in the middle.", res.Desquebrado)
	assert.Equal(t, "A linha foi quebrada no meio.", res.Translated)
	assert.Equal(t, "A linha foi quebrada ao meio.", res.Final())
	require.Len(t, res.Stages, 3)

	total := res.Total()
	assert.Equal(t, "run", total.Stage)
	assert.Equal(t, 3, total.TotalChunks)
	assert.Equal(t, []int{1, 2, 3}, []int{total.Blocks[0].Index, total.Blocks[1].Index, total.Blocks[2].Index})
}
