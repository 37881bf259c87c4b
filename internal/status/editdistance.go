package status

// EditDistance computes the edit distance between two strings counting
// insertions and deletions, plus substitutions when allowReplacements is
// true (plain Levenshtein); transpositions are not counted as a single
// edit. It is used to suggest "did you
// mean" targets when a requested one doesn't exist. maxEditDistance, if
// non-zero, lets the caller bail out early once a row's best value
// already exceeds it.
func EditDistance(s1, s2 string, allowReplacements bool, maxEditDistance int) int {
	m, n := len(s1), len(s2)
	row := make([]int, n+1)
	for i := 1; i <= n; i++ {
		row[i] = i
	}

	for y := 1; y <= m; y++ {
		row[0] = y
		bestThisRow := row[0]

		previous := y - 1
		for x := 1; x <= n; x++ {
			oldRow := row[x]
			match := s1[y-1] == s2[x-1]
			switch {
			case allowReplacements && match:
				row[x] = min3(previous, row[x-1]+1, row[x]+1)
			case allowReplacements:
				row[x] = min3(previous+1, row[x-1]+1, row[x]+1)
			case match:
				row[x] = previous
			default:
				row[x] = min2(row[x-1], row[x]) + 1
			}
			previous = oldRow
			if row[x] < bestThisRow {
				bestThisRow = row[x]
			}
		}

		if maxEditDistance != 0 && bestThisRow > maxEditDistance {
			return maxEditDistance + 1
		}
	}

	return row[n]
}

// SuggestTarget finds the closest name to want among candidates, returning
// "" if nothing is within a reasonable edit distance to be worth
// suggesting.
func SuggestTarget(want string, candidates []string) string {
	best := ""
	bestDist := len(want)/2 + 1
	if bestDist < 1 {
		bestDist = 1
	}
	for _, c := range candidates {
		d := EditDistance(want, c, true, bestDist)
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func min3(a, b, c int) int {
	return min2(a, min2(b, c))
}
