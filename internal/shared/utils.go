// Package shared provides small helpers for handling secrets in memory.
package shared

// WipeByteArray zeroes a password buffer once it has been sent.
func WipeByteArray(b []byte) {
	clear(b)
}
