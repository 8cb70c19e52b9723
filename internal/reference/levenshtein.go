package reference

// levenshteinDistance counts single-rune insertions, deletions and substitutions.
func levenshteinDistance(s1, s2 []rune) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 0
			if s1[i-1] != s2[j-1] {
				cost = 1
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}

	return prev[len(s2)]
}

// fuzzyThreshold is the largest edit distance accepted for a query of n runes.
func fuzzyThreshold(n int) int {
	return max(3, n/5)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
