package cache

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testSignature() Signature {
	return Signature{
		Backend:            "ollama",
		Model:              "qwen3:14b-q4_K_M",
		NumPredict:         1024,
		Temperature:        0,
		RepeatPenalty:      1.05,
		ChunkChars:         2400,
		PostprocessVersion: "v3",
	}
}

func TestHash(t *testing.T) {
	h := Hash("abc")
	assert.Equal(t, "ba7816bf8f01cfea", h)
	assert.Len(t, Hash(""), 16)
	assert.NotEqual(t, Hash("a"), Hash("b"))
}

func TestSignature_Digest(t *testing.T) {
	a := testSignature()
	b := testSignature()
	assert.Equal(t, a.Digest(), b.Digest())
	assert.Len(t, a.Digest(), 16)

	b.Model = "qwen3:8b"
	assert.NotEqual(t, a.Digest(), b.Digest())
	b = testSignature()
	b.PostprocessVersion = "v4"
	assert.NotEqual(t, a.Digest(), b.Digest())
}

func TestCache_PutGet(t *testing.T) {
	c, err := New(t.TempDir(), "desquebrar", zaptest.NewLogger(t))
	require.NoError(t, err)

	sig := testSignature()
	h := Hash("texto quebrado")
	c.Put(h, "raw", "final", sig)

	e, ok := c.Get(h, sig)
	require.True(t, ok)
	assert.Equal(t, "final", e.FinalOutput)
	assert.Equal(t, "raw", e.RawOutput)

	data, err := os.ReadFile(filepath.Join(c.Dir(), h+".json"))
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(data, &onDisk))
	for _, key := range []string{"hash", "raw_output", "final_output", "timestamp", "metadata"} {
		assert.Contains(t, onDisk, key)
	}
	meta := onDisk["metadata"].(map[string]any)
	assert.Equal(t, "v3", meta["postprocess_version"])
	assert.EqualValues(t, 2400, meta["chunk_chars"])
}

func TestCache_SignatureIsolation(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, "translate", nil)
	require.NoError(t, err)

	sigA := testSignature()
	sigB := sigA
	sigB.Temperature = 0.15

	h := Hash("chunk")
	c.Put(h, "raw", "under A", sigA)

	_, ok := c.Get(h, sigB)
	assert.False(t, ok, "entry must be ignored under another signature")

	// a fresh handle has no memory front
	fresh, err := New(dir, "translate", nil)
	require.NoError(t, err)
	_, ok = fresh.Get(h, sigB)
	assert.False(t, ok)
	e, ok := fresh.Get(h, sigA)
	require.True(t, ok)
	assert.Equal(t, "under A", e.FinalOutput)

	// overwritten on the next success
	fresh.Put(h, "raw", "under B", sigB)
	e, ok = fresh.Get(h, sigB)
	require.True(t, ok)
	assert.Equal(t, "under B", e.FinalOutput)
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	c, err := New(t.TempDir(), "refine", nil)
	require.NoError(t, err)

	h := Hash("x")
	require.NoError(t, os.WriteFile(filepath.Join(c.Dir(), h+".json"), []byte("{not json"), 0o644))

	_, ok := c.Get(h, testSignature())
	assert.False(t, ok)
}

func TestCache_PutErrorIsSwallowed(t *testing.T) {
	c, err := New(t.TempDir(), "refine", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(c.Dir()))

	assert.NotPanics(t, func() { c.Put(Hash("x"), "raw", "final", testSignature()) })
}

func TestCache_ConcurrentPut(t *testing.T) {
	c, err := New(t.TempDir(), "translate", nil)
	require.NoError(t, err)

	sig := testSignature()
	h := Hash("same chunk")
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Put(h, "raw", "final", sig)
		}()
	}
	wg.Wait()

	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
	n, err := c.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCache_DeleteAndClear(t *testing.T) {
	c, err := New(t.TempDir(), "translate", nil)
	require.NoError(t, err)
	sig := testSignature()

	for _, s := range []string{"a", "b", "c"} {
		c.Put(Hash(s), "", s, sig)
	}
	require.NoError(t, c.Delete(Hash("a")))
	require.NoError(t, c.Delete(Hash("missing")))
	_, ok := c.Get(Hash("a"), sig)
	assert.False(t, ok)

	removed, err := c.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	_, ok = c.Get(Hash("b"), sig)
	assert.False(t, ok)
}

func TestNew_EmptyDir(t *testing.T) {
	_, err := New("", "x", nil)
	assert.Error(t, err)
}
