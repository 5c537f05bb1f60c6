package main

import (
	"strconv"
	"time"
)

// shortAge renders how long ago something happened as "just now", "5s",
// "3m", "2h" or "4d".
func shortAge(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return ageUnit(int(d/time.Second), "s")
	case d < time.Hour:
		return ageUnit(int(d/time.Minute), "m")
	case d < 24*time.Hour:
		return ageUnit(int(d/time.Hour), "h")
	}
	return ageUnit(int(d/(24*time.Hour)), "d")
}

func ageUnit(v int, suffix string) string {
	if v <= 0 {
		v = 1
	}
	return strconv.Itoa(v) + suffix
}
