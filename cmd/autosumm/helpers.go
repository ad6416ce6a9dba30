package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const stampLayout = "2006-01-02 15:04"

func humanBytes(v int64) string {
	if v < 0 {
		v = 0
	}
	return humanize.IBytes(uint64(v))
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(stampLayout)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func itoa(v int) string { return strconv.Itoa(v) }

func itoa64(v int64) string { return strconv.FormatInt(v, 10) }

// truncate shortens s to n runes with an ellipsis.
func truncate(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if n <= 1 || len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n-1]) + "…"
}
