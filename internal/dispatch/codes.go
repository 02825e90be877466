package dispatch

import "crypto/rand"

// codeAlphabet drops 0/O and 1/I so codes survive being read off a phone screen.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

// NewResponseCode returns a random code a driver can type into an SMS reply.
func NewResponseCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		// 256 is a multiple of len(codeAlphabet), so this is unbiased
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
