package mapping

// Similarity scores two strings in [0, 1] using Ratcliff/Obershelp: twice the
// number of matching characters over the combined length, where matches are
// found by recursively anchoring on the longest common substring. Callers
// normalize inputs first so the score reflects content, not formatting.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	return 2 * float64(matchingRunes(ra, rb)) / float64(len(ra)+len(rb))
}

type span struct {
	a, b []rune
}

func matchingRunes(a, b []rune) int {
	total := 0
	stack := []span{{a, b}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(s.a) == 0 || len(s.b) == 0 {
			continue
		}
		ai, bi, size := longestCommonSubstring(s.a, s.b)
		if size == 0 {
			continue
		}
		total += size
		stack = append(stack,
			span{s.a[:ai], s.b[:bi]},
			span{s.a[ai+size:], s.b[bi+size:]},
		)
	}
	return total
}

func longestCommonSubstring(a, b []rune) (ai, bi, size int) {
	// prev[j] is the run length of the common substring ending at a[i-1], b[j-1].
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > size {
					size = cur[j]
					ai = i - size
					bi = j - size
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return ai, bi, size
}
