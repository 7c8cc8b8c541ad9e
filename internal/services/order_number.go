package services

import "crypto/rand"

const (
	orderNumberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	orderNumberLength   = 10
)

// NewOrderNumber returns 10 uniformly random characters from [A-Z0-9]. Uniqueness
// is enforced by the database, not by this function.
func NewOrderNumber() string {
	// 252 is the largest multiple of 36 below 256.
	const limit = 252
	out := make([]byte, 0, orderNumberLength)
	buf := make([]byte, orderNumberLength*2)
	for len(out) < orderNumberLength {
		_, _ = rand.Read(buf)
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, orderNumberAlphabet[int(b)%len(orderNumberAlphabet)])
			if len(out) == orderNumberLength {
				break
			}
		}
	}
	return string(out)
}
