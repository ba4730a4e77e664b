package dataset

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteEpochList writes one epoch per line. No trailing newline follows the
// last epoch, matching the lists produced by earlier tooling.
func WriteEpochList(w io.Writer, epochs []uint64) error {
	bw := bufio.NewWriter(w)
	for i, epoch := range epochs {
		if i > 0 {
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString(strconv.FormatUint(epoch, 10)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadEpochList reads one epoch per line. Blank lines are skipped and
// surrounding whitespace is ignored. Order and duplicates are preserved.
func ReadEpochList(r io.Reader) ([]uint64, error) {
	var epochs []uint64

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		epoch, err := parseEpoch(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		epochs = append(epochs, epoch)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read epoch list: %w", err)
	}

	return epochs, nil
}
