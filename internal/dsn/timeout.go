package dsn

import (
	"math"
	"strconv"
	"time"
)

// Timeval is a (seconds, microseconds) pair. The zero value means "not set"
// and drivers treat it as "block indefinitely".
type Timeval struct {
	Sec  int64
	Usec int64
}

// IsZero reports whether neither component is set.
func (tv Timeval) IsZero() bool {
	return tv.Sec == 0 && tv.Usec == 0
}

// Duration converts the pair to a time.Duration.
func (tv Timeval) Duration() time.Duration {
	return time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
}

// ParseTimeout parses "<number>[s|ms]".
//
// A bare number or an "s" suffix is seconds and may be fractional:
// "2.5" is {2, 500000}. An "ms" suffix stores the truncated number in Usec
// only, so "1500ms" is {0, 1500}; existing configurations depend on that.
//
// Any other suffix, a negative or non-finite number, or an empty string fails
// and returns the zero Timeval.
func ParseTimeout(s string) (Timeval, bool) {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	n := scanFloat(s[i:])
	if n == 0 {
		return Timeval{}, false
	}
	d, err := strconv.ParseFloat(s[i:i+n], 64)
	if err != nil || math.IsInf(d, 0) || math.IsNaN(d) || d < 0 {
		return Timeval{}, false
	}

	switch s[i+n:] {
	case "", "s":
		sec := int64(d)
		return Timeval{Sec: sec, Usec: int64((d - float64(sec)) * 1e6)}, true
	case "ms":
		return Timeval{Usec: int64(d)}, true
	default:
		return Timeval{}, false
	}
}

// scanFloat returns the length of the longest decimal floating point prefix
// of s, or 0 if s does not start with a number.
func scanFloat(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			i = j
		}
	}
	return i
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
