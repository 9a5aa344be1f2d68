package preview

// Ellipsis marks a truncated string rendering.
const Ellipsis = "..."

// truncateText cuts text so that the result (ellipsis included)
// measures at or below maxSize. Character mode cuts directly; token
// mode binary-searches the cut point since token counts are not
// proportional to rune counts.
func truncateText(text string, maxSize int, m Measurer) string {
	if maxSize <= 0 {
		return Ellipsis
	}
	if m.MeasureText(text) <= maxSize {
		return text
	}

	runes := []rune(text)
	lo, hi := 0, len(runes)
	best := ""
	for lo <= hi {
		mid := (lo + hi) / 2
		candidate := string(runes[:mid]) + Ellipsis
		if m.MeasureText(candidate) <= maxSize {
			best = candidate
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best == "" {
		return Ellipsis
	}
	return best
}
