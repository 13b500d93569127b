package util

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

func ByteCountSI(b int64) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(b)/float64(div), "kMGTPE"[exp])
}

// BitRateSI formats a rate given in kilobits per second.
func BitRateSI(kbps float64) string {
	switch {
	case kbps >= 1_000_000:
		return fmt.Sprintf("%.2f Gbit/s", kbps/1_000_000)
	case kbps >= 1_000:
		return fmt.Sprintf("%.2f Mbit/s", kbps/1_000)
	default:
		return fmt.Sprintf("%.0f kbit/s", kbps)
	}
}

var rateRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([a-z/]*)$`)

// ParseRateKbps parses a bit-rate into kilobits per second. A bare number is
// taken as kbit/s. Units are SI: k=1000.
//
//	8400      -> 8400
//	8.4mbit   -> 8400
//	1g        -> 1000000
//	100kb/s   -> 800 (bytes)
func ParseRateKbps(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty rate")
	}

	matches := rateRe.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid rate format: %s", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, err
	}

	var bits float64
	switch unit := matches[2]; unit {
	case "", "k", "kbit", "kbps", "kbit/s":
		bits = value * 1_000
	case "bit", "bps", "bit/s":
		bits = value
	case "m", "mbit", "mbps", "mbit/s":
		bits = value * 1_000_000
	case "g", "gbit", "gbps", "gbit/s":
		bits = value * 1_000_000_000
	case "kb", "kb/s":
		bits = value * 1_000 * 8
	case "mb", "mb/s":
		bits = value * 1_000_000 * 8
	default:
		return 0, fmt.Errorf("unknown rate unit: %s", unit)
	}

	kbps := int64(math.Round(bits)) / 1_000
	if kbps <= 0 {
		return 0, fmt.Errorf("rate %s is below 1 kbit/s", s)
	}
	return kbps, nil
}
