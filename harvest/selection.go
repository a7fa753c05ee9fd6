package harvest

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pevans/novelfetch/toc"
)

// maxOrdinal bounds selection ranges to ordinals a TOC can assign.
const maxOrdinal = toc.MaxChapters

// ParseSelection parses a chapter selection such as "1-5,8,10-12" into
// sorted, unique 1-based ordinals. Malformed parts, non-positive numbers and
// reversed ranges are returned in invalid and otherwise ignored. An empty
// result means every chapter.
func ParseSelection(s string) (ordinals []int, invalid []string) {
	set := make(map[int]bool)

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, ok := parseRange(part)
		if !ok {
			invalid = append(invalid, part)
			continue
		}
		for n := lo; n <= hi; n++ {
			set[n] = true
		}
	}

	for n := range set {
		ordinals = append(ordinals, n)
	}
	sort.Ints(ordinals)
	return ordinals, invalid
}

func parseRange(part string) (int, int, bool) {
	from, to, isRange := strings.Cut(part, "-")
	lo, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil || lo <= 0 || lo > maxOrdinal {
		return 0, 0, false
	}
	if !isRange {
		return lo, lo, true
	}

	hi, err := strconv.Atoi(strings.TrimSpace(to))
	if err != nil || hi < lo || hi > maxOrdinal {
		return 0, 0, false
	}
	return lo, hi, true
}
