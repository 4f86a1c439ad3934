// Package clp converts Chilean peso amounts between the localized
// display form ("1.234.567") and the integer form stored on orders.
package clp

import "strconv"

// Unformat parses a localized amount string into whole pesos. Every
// non-digit character is stripped; empty or unparseable input yields 0.
func Unformat(s string) int64 {
	digits := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i])
		}
	}
	if len(digits) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Format renders whole pesos with es-CL thousands grouping (dots).
func Format(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.FormatInt(n, 10)

	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, '.')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
