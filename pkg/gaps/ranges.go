package gaps

import (
	"fmt"
	"strconv"
	"strings"
)

// Range represents an inclusive epoch range.
type Range struct {
	Start uint64
	End   uint64
}

// String returns the range in "start-end" format, or "start" for a single epoch.
func (r Range) String() string {
	if r.Start == r.End {
		return strconv.FormatUint(r.Start, 10)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Size returns the number of epochs in the range.
func (r Range) Size() uint64 {
	return r.End - r.Start + 1
}

// Ranges compresses ascending, distinct epochs into maximal runs.
func Ranges(sorted []uint64) []Range {
	if len(sorted) == 0 {
		return nil
	}

	ranges := []Range{{Start: sorted[0], End: sorted[0]}}
	for _, epoch := range sorted[1:] {
		last := &ranges[len(ranges)-1]
		if epoch == last.End+1 {
			last.End = epoch
			continue
		}
		ranges = append(ranges, Range{Start: epoch, End: epoch})
	}
	return ranges
}

// ParseRange parses "start-end" or a single "epoch" into a Range.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	startStr, endStr, found := strings.Cut(s, "-")
	if !found {
		endStr = startStr
	}

	start, err := strconv.ParseUint(strings.TrimSpace(startStr), 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("invalid range format: %s", s)
	}
	end, err := strconv.ParseUint(strings.TrimSpace(endStr), 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("invalid range format: %s", s)
	}
	if start > end {
		return Range{}, fmt.Errorf("start > end: %d > %d", start, end)
	}
	return Range{Start: start, End: end}, nil
}
