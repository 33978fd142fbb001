package timeparser

import (
	"fmt"
	"strings"
	"time"
)

// ParseBillingDate attempts to parse a historical billing date with multiple formats
func ParseBillingDate(dateStr string) (time.Time, error) {
	formats := []string{
		"2006-01-02", // YYYY-MM-DD
		"02/01/2006", // DD/MM/YYYY
		time.RFC3339, // Standard RFC3339
	}

	dateStr = strings.TrimSpace(dateStr)
	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse date '%s': %w", dateStr, lastErr)
}

// IsWithinTolerance checks if two instants are at most toleranceMinutes apart
func IsWithinTolerance(a, b time.Time, toleranceMinutes int) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(toleranceMinutes)*time.Minute
}
