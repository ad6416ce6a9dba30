package runner

import (
	"strings"
	"time"
)

// PickCategory rotates through categories by day of year.
func PickCategory(categories []string, now time.Time) string {
	var pool []string
	for _, c := range categories {
		if c = strings.TrimSpace(c); c != "" {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		return ""
	}
	return pool[now.YearDay()%len(pool)]
}
