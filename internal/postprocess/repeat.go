package postprocess

import "unicode"

// repeatedBlock locates the first run of at least minLen runes that is
// immediately followed, after whitespace, by one or more copies of itself.
// It returns the block bounds [start, start+size) and the end of the last
// copy. RE2 has no backreferences, so the scan is done by hand.
func repeatedBlock(runes []rune, from, minLen int) (start, size, end int, ok bool) {
	n := len(runes)
	for i := from; i+2*minLen < n; i++ {
		for j := i + minLen + 1; j+minLen <= n; j++ {
			if runes[j] != runes[i] || !unicode.IsSpace(runes[j-1]) {
				continue
			}
			k := j - 1
			for k > i && unicode.IsSpace(runes[k-1]) {
				k--
			}
			size := k - i
			if size < minLen || j+size > n || !equalRunes(runes[i:k], runes[j:j+size]) {
				continue
			}

			end := j + size
			for {
				w := end
				for w < n && unicode.IsSpace(runes[w]) {
					w++
				}
				if w == end || w+size > n || !equalRunes(runes[i:k], runes[w:w+size]) {
					break
				}
				end = w + size
			}
			return i, size, end, true
		}
	}
	return 0, 0, 0, false
}

func equalRunes(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// HasRepeatedBlock reports whether text contains a block of at least minLen
// runes immediately repeated.
func HasRepeatedBlock(text string, minLen int) bool {
	_, _, _, ok := repeatedBlock([]rune(text), 0, minLen)
	return ok
}

// RemoveRepeatedBlocks keeps a single copy of every immediately repeated
// block of at least minLen runes and returns the number of collapses.
func RemoveRepeatedBlocks(text string, minLen int) (string, int) {
	runes := []rune(text)
	count := 0
	from := 0
	for {
		start, size, end, ok := repeatedBlock(runes, from, minLen)
		if !ok {
			break
		}
		out := make([]rune, 0, len(runes)-(end-start-size))
		out = append(out, runes[:start+size]...)
		out = append(out, runes[end:]...)
		runes = out
		from = start + size
		count++
	}
	if count == 0 {
		return text, 0
	}
	return string(runes), count
}
