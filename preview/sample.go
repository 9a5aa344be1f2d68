package preview

// sample selects an evenly spaced subset of items whose measured size
// fits the budget. The sample count is found with a binary search:
// each probe renders a candidate subset and measures it, so the
// largest fitting count wins in O(log n) sizing passes.
func (g *Generator) sample(items []any, cfg Config) []any {
	if len(items) == 0 {
		return items
	}

	fits := func(n int) ([]any, bool) {
		candidate := evenSample(items, n, cfg.IncludeEdges)
		return candidate, g.measurer.Measure(candidate) <= cfg.MaxSize
	}

	lo, hi := 1, len(items)
	var best []any
	for lo <= hi {
		mid := (lo + hi) / 2
		if candidate, ok := fits(mid); ok {
			best = candidate
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	if best == nil {
		// Even a single element blows the budget; shrink its rendering
		// until the wrapped form fits, measuring with the brackets and
		// quoting the one-element slice adds back.
		single := evenSample(items, 1, false)
		runes := []rune(Render(single[0]))
		lo, hi := 0, len(runes)
		best = []any{Ellipsis}
		for lo <= hi {
			mid := (lo + hi) / 2
			candidate := []any{string(runes[:mid]) + Ellipsis}
			if g.measurer.Measure(candidate) <= cfg.MaxSize {
				best = candidate
				lo = mid + 1
			} else {
				hi = mid - 1
			}
		}
	}
	return best
}

// evenSample picks n evenly spaced elements. With includeEdges the
// first and last element are always present (for n >= 2).
func evenSample(items []any, n int, includeEdges bool) []any {
	if n >= len(items) {
		out := make([]any, len(items))
		copy(out, items)
		return out
	}
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []any{items[0]}
	}

	out := make([]any, 0, n)
	if includeEdges {
		// First and last fixed; the rest spread over the interior.
		out = append(out, items[0])
		interior := n - 2
		for i := 0; i < interior; i++ {
			idx := (i + 1) * (len(items) - 1) / (interior + 1)
			out = append(out, items[idx])
		}
		out = append(out, items[len(items)-1])
		return out
	}

	for i := 0; i < n; i++ {
		idx := i * len(items) / n
		out = append(out, items[idx])
	}
	return out
}
