// Package util contains misc internal utilities.
package util

import (
	"time"
	"unicode"
)

// Clamp limits x to the range [low, high]
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// SecsToDuration converts a floating point number of seconds to a Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * 1e9)
}

// AllElementsNumbers returns true if every rune in the string is a digit,
// decimal point, or sign.  Used to detect bare numbers in duration query
// parameters so a unit can be appended.
func AllElementsNumbers(s string) bool {
	for _, r := range s {
		if !unicode.IsNumber(r) && r != '.' && r != '-' && r != '+' {
			return false
		}
	}
	return len(s) > 0
}
