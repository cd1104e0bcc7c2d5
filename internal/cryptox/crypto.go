// Package cryptox holds the key-at-rest primitives the agent CLI uses to
// protect its signing key: argon2id passphrase derivation and AES-GCM
// sealed JSON blobs.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"

	"golang.org/x/crypto/argon2"

	"github.com/moltnet/diaryd/internal/common"
)

// DeriveKey stretches a passphrase into a 32-byte AES key. The salt must be
// random per keystore file and stored alongside the ciphertext.
func DeriveKey(passphrase []byte, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

// Seal serializes v to JSON and encrypts it with AES-256-GCM under key. A
// fresh 12-byte nonce is generated per call and returned separately.
func Seal(v any, key []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	nonce = common.GenerateRandByteArray(aesgcm.NonceSize())
	ciphertext = aesgcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Open decrypts a Seal-produced ciphertext and unmarshals the JSON into v.
// A wrong key or tampered ciphertext fails GCM authentication.
func Open(ciphertext, nonce, key []byte, v any) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, v)
}
