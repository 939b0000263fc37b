package pool

import "unsafe"

// unsafeString views b as a string without copying, in the manner of the
// teacher's core/http/parser.go unsafeString helper. Safe here because the
// byte slice is carved out of a Pool region that nothing else writes to
// until the next Reset.
func unsafeString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
