// Package neardup reuses accepted output for chunks that repeat an earlier
// chunk up to whitespace and numeric literals.
package neardup

import (
	"regexp"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/valpere/tradutor/internal/similarity"
)

// DefaultThreshold is the minimum similarity of the unmasked texts.
const DefaultThreshold = 0.95

const numberMask = "\x00"

var reNumber = regexp.MustCompile(`\d+`)

type entry struct {
	norm    string
	numbers []string
	final   string
}

// Index maps masked chunk keys to accepted outputs. It is safe for
// concurrent use.
type Index struct {
	mu        sync.RWMutex
	entries   map[uint64][]entry
	threshold float64
}

func New() *Index {
	return &Index{entries: make(map[uint64][]entry), threshold: DefaultThreshold}
}

// Normalize applies NFC and collapses whitespace.
func Normalize(text string) string {
	return similarity.NormalizeSpace(norm.NFC.String(text))
}

// Mask replaces every numeric literal of a normalized text and returns the
// literals in order.
func Mask(normalized string) (string, []string) {
	return reNumber.ReplaceAllString(normalized, numberMask), reNumber.FindAllString(normalized, -1)
}

// Key is the dedup key of a chunk: xxhash of its masked normal form.
func Key(chunk string) uint64 {
	masked, _ := Mask(Normalize(chunk))
	return xxhash.Sum64String(masked)
}

// Add records the accepted output of chunk.
func (ix *Index) Add(chunk, final string) {
	n := Normalize(chunk)
	if n == "" || final == "" {
		return
	}
	masked, numbers := Mask(n)
	key := xxhash.Sum64String(masked)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i, e := range ix.entries[key] {
		if e.norm == n {
			ix.entries[key][i].final = final
			return
		}
	}
	ix.entries[key] = append(ix.entries[key], entry{norm: n, numbers: numbers, final: final})
}

// Len is the number of distinct chunks indexed.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, es := range ix.entries {
		n += len(es)
	}
	return n
}

// Lookup returns an earlier output adapted to chunk. The chunk must equal
// an indexed one once numbers are masked and be at least 95% similar to
// it; the old output then gets each changed number replaced by the new one.
func (ix *Index) Lookup(chunk string) (string, bool) {
	n := Normalize(chunk)
	if n == "" {
		return "", false
	}
	masked, numbers := Mask(n)
	key := xxhash.Sum64String(masked)

	ix.mu.RLock()
	candidates := append([]entry(nil), ix.entries[key]...)
	ix.mu.RUnlock()

	for _, e := range candidates {
		if e.norm == n {
			return e.final, true
		}
		if oldMasked, _ := Mask(e.norm); oldMasked != masked {
			continue
		}
		if similarity.LengthBound(e.norm, n) < ix.threshold || similarity.Ratio(e.norm, n) < ix.threshold {
			continue
		}
		if out, ok := Substitute(e.final, e.numbers, numbers); ok {
			return out, true
		}
	}
	return "", false
}

// Substitute rewrites the numbers of output that changed between oldNums
// and newNums, position by position. It fails when the lists differ in
// length, when one old number maps to two new ones or when a changed number
// does not occur in output.
func Substitute(output string, oldNums, newNums []string) (string, bool) {
	if len(oldNums) != len(newNums) {
		return "", false
	}
	mapping := make(map[string]string)
	for i, old := range oldNums {
		if prev, seen := mapping[old]; seen && prev != newNums[i] {
			return "", false
		}
		mapping[old] = newNums[i]
	}

	changed := false
	present := make(map[string]bool)
	for _, m := range reNumber.FindAllString(output, -1) {
		present[m] = true
	}
	for old, repl := range mapping {
		if old == repl {
			continue
		}
		changed = true
		if !present[old] {
			return "", false
		}
	}
	if !changed {
		return output, true
	}

	var sb strings.Builder
	last := 0
	for _, loc := range reNumber.FindAllStringIndex(output, -1) {
		sb.WriteString(output[last:loc[0]])
		num := output[loc[0]:loc[1]]
		if repl, ok := mapping[num]; ok {
			sb.WriteString(repl)
		} else {
			sb.WriteString(num)
		}
		last = loc[1]
	}
	sb.WriteString(output[last:])
	return sb.String(), true
}
