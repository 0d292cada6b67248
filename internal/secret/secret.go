// Package secret generates the throwaway credentials used for the
// restricted role.
package secret

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GeneratePassword returns a fresh random password on every call. Each
// backend draws one when it is constructed, so the restricted credentials
// can never collide with the privileged ones.
func GeneratePassword() (string, error) {
	var buf [24]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
