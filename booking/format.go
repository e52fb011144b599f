package booking

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// formatPrice renders an amount in minor units, e.g. 123456 MYR as
// "MYR 1,234.56".
func formatPrice(amount float64, currency string) string {
	major := math.Round(amount) / 100
	neg := major < 0
	whole := strconv.FormatFloat(math.Abs(major), 'f', 2, 64)
	intPart, frac, _ := strings.Cut(whole, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%s %s%s.%s", currency, sign, b.String(), frac)
}

// isoLayouts are the timestamp shapes the booking API emits.
var isoLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"}

func parseISO(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// formatTime renders the wall-clock time of an ISO timestamp in its own
// offset, e.g. "09:05". Unparseable input is returned unchanged.
func formatTime(iso string) string {
	t, ok := parseISO(iso)
	if !ok {
		return iso
	}
	return t.Format("15:04")
}

// formatDate renders the calendar date of an ISO timestamp, e.g.
// "Sep 30, 2025".
func formatDate(iso string) string {
	t, ok := parseISO(iso)
	if !ok {
		return iso
	}
	return t.Format("Jan 2, 2006")
}

// formatDuration renders seconds as "Xh Ym".
func formatDuration(seconds int64) string {
	return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
}
