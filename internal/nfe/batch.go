package nfe

import (
	"fmt"
	"time"
)

// BatchSequence returns the run token YYYYMMDD.SSSSS, where the fractional
// part is seconds since local midnight divided by 1e5. It sorts by time
// within a day and is stamped on every row of one run. It is not unique.
func BatchSequence(now time.Time, loc *time.Location) float64 {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	seconds := int64(local.Sub(midnight) / time.Second)
	day := int64(local.Year())*10000 + int64(local.Month())*100 + int64(local.Day())
	return float64(day*100000+seconds) / 1e5
}

// FormatBatchSequence renders a batch sequence with all five fractional digits.
func FormatBatchSequence(seq float64) string {
	return fmt.Sprintf("%.5f", seq)
}
