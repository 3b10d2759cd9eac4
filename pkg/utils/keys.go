package utils

import (
	"crypto/rand"
	"math/big"
)

const (
	keyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	KeyLength   = 20
)

// RandomKey returns an alphanumeric key used for activation, password reset
// and trial links.
func RandomKey() (string, error) {
	buf := make([]byte, KeyLength)
	limit := big.NewInt(int64(len(keyAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = keyAlphabet[n.Int64()]
	}
	return string(buf), nil
}
