package tender

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// rocEpochOffset converts between Republic-of-China era years and Gregorian
// years (ROC year 1 = 1912).
const rocEpochOffset = 1911

// ParseROCDate converts a ROC era date string such as "113/10/30" into a
// Gregorian time.Time (UTC, midnight).
func ParseROCDate(s string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("parse roc date %q: want yyy/mm/dd", s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse roc year %q: %w", parts[0], err)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse roc month %q: %w", parts[1], err)
	}
	day, err := strconv.Atoi(parts[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse roc day %q: %w", parts[2], err)
	}
	if year <= 0 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("roc date %q out of range", s)
	}
	t := time.Date(year+rocEpochOffset, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (e.g. 2/30 -> 3/2); reject that here.
	if t.Day() != day || t.Month() != time.Month(month) {
		return time.Time{}, fmt.Errorf("roc date %q does not exist", s)
	}
	return t, nil
}

// FormatROCDate renders a Gregorian date in the site's ROC form, e.g.
// "113/10/30". The zero time renders as "".
func FormatROCDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d/%02d/%02d", t.Year()-rocEpochOffset, int(t.Month()), t.Day())
}
