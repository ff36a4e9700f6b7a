package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// labelPrefix domain-separates every derivation in the engine from any
// other use of HKDF-SHA256. Bump the version token if the schedule ever
// changes incompatibly.
const labelPrefix = "conclave v1 "

// ExpandWithLabel derives length bytes from secret with HKDF-Expand. The
// info input is labelPrefix plus the label, a zero byte, and the context,
// so distinct labels can never collide regardless of context contents.
func ExpandWithLabel(secret []byte, label string, context []byte, length int) []byte {
	info := make([]byte, 0, len(labelPrefix)+len(label)+1+len(context))
	info = append(info, labelPrefix...)
	info = append(info, label...)
	info = append(info, 0)
	info = append(info, context...)

	out := make([]byte, length)
	_, _ = io.ReadFull(hkdf.Expand(sha256.New, secret, info), out)
	return out
}

// Extract condenses input keying material against a salt (HKDF-Extract).
// A nil salt is the all-zero salt.
func Extract(salt, ikm []byte) []byte {
	return hkdf.Extract(sha256.New, ikm, salt)
}
