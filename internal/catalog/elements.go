package catalog

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/ephemeris"
)

// ParseElements reads 3-line element sets from r and returns tracked objects.
// Malformed entries are skipped with a warning log.
func ParseElements(r io.Reader, defaultRCSM2 float64, logger *slog.Logger) ([]TrackedObject, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading element data: %w", err)
	}

	var objects []TrackedObject
	for i := 0; i+2 < len(lines); {
		name := lines[i]
		line1 := lines[i+1]
		line2 := lines[i+2]

		if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
			// Try to find the next valid triplet.
			logger.Warn("skipping malformed element entry", "line_index", i, "name", name)
			i++
			continue
		}

		// Catalog number from line1 cols 3-7 (0-indexed: 2..7).
		catStr := strings.TrimSpace(line1[2:7])
		if _, err := strconv.Atoi(catStr); err != nil {
			logger.Warn("skipping element entry with invalid catalog number", "catalog_str", catStr, "name", name)
			i += 3
			continue
		}

		// Epoch from line1 cols 19-32 (0-indexed: 18..32).
		if len(line1) < 32 {
			logger.Warn("skipping element entry with short line1", "name", name)
			i += 3
			continue
		}
		epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
		if err != nil {
			logger.Warn("skipping element entry with invalid epoch", "name", name, "error", err)
			i += 3
			continue
		}

		objects = append(objects, TrackedObject{
			ID:   catStr,
			Name: strings.TrimSpace(name),
			Elements: ephemeris.ElementSet{
				Line1: line1,
				Line2: line2,
				Epoch: epoch,
			},
			RadarCrossSectionM2: defaultRCSM2,
		})
		i += 3
	}

	return objects, nil
}

// parseEpoch converts an element-set epoch string in YYDDD.DDDDDDDD format
// to time.Time. Year 00-56 → 2000s, 57-99 → 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", s[2:], err)
	}

	// dayOfYear is 1-based: day 1 = Jan 1.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}
