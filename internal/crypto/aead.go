package crypto

import (
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// AEADKeyBytes is the ChaCha20-Poly1305 key length.
	AEADKeyBytes = chacha20poly1305.KeySize
	// AEADNonceBytes is the ChaCha20-Poly1305 nonce length.
	AEADNonceBytes = chacha20poly1305.NonceSize
)

// AEADSeal encrypts plaintext under key and nonce, binding ad. Nonces here
// are always derived alongside the key, never random, so a key/nonce pair
// is used at most once.
func AEADSeal(key, nonce, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, ad), nil
}

// AEADOpen decrypts ciphertext under key and nonce, authenticating ad.
func AEADOpen(key, nonce, ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, ad)
}
