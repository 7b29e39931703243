// Package fingerprint derives stable identities for application errors
// so repeat occurrences collapse onto one cache entry and one in-flight
// advice call.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Compute returns a hex digest identifying an error by its stack frames
// and message. Frame order matters: the same frames in a different order
// produce a different digest.
func Compute(message string, stack []string) string {
	h := sha256.New()
	for _, frame := range stack {
		h.Write([]byte(frame))
		h.Write([]byte{'\n'})
	}
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
