package pulse

import (
	"crypto/aes"
	"fmt"
)

// encryptChallenge answers a nonce with its AES-128-ECB ciphertext. A nonce
// is exactly one block, so ECB reduces to a single block encryption.
func encryptChallenge(key []byte, nonce []byte) ([]byte, error) {
	if len(nonce) != aes.BlockSize {
		return nil, fmt.Errorf("challenge must be %d bytes, got %d", aes.BlockSize, len(nonce))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes key: %w", err)
	}

	out := make([]byte, aes.BlockSize)
	block.Encrypt(out, nonce)
	return out, nil
}
