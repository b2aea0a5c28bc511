package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// formatDuration renders a duration as whole days, hours and minutes, the
// granularity that matters for link lifetimes.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}

	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)

	var parts []string
	if days > 0 {
		parts = append(parts, strconv.Itoa(days)+" days")
	}
	if hours > 0 {
		parts = append(parts, strconv.Itoa(hours)+" hours")
	}
	if minutes > 0 {
		parts = append(parts, strconv.Itoa(minutes)+" minutes")
	}
	return strings.Join(parts, " ")
}

func formatSizeMiB(miB int64) string {
	return humanize.IBytes(uint64(miB) * 1024 * 1024)
}

func formatSizeBytes(b int64) string {
	if b < 0 {
		return ""
	}
	return humanize.IBytes(uint64(b))
}
