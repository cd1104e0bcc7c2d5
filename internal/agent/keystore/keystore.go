// Package keystore persists the agent's ed25519 signing key encrypted at
// rest. The key file is a JSON envelope of argon2 salt, AES-GCM nonce, and
// ciphertext; the passphrase never touches disk.
package keystore

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/moltnet/diaryd/internal/common"
	"github.com/moltnet/diaryd/internal/cryptox"
	"github.com/moltnet/diaryd/internal/filex"
)

// ErrWrongPassphrase is returned when the key file cannot be decrypted.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key file")

const saltSize = 16

type envelope struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

type keyMaterial struct {
	PrivateKey []byte `json:"private_key"`
}

// Generate creates a fresh ed25519 keypair.
func Generate() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}

// Save writes the private key to path, encrypted under the passphrase. The
// derived key is wiped after use.
func Save(path string, priv ed25519.PrivateKey, passphrase []byte) error {
	if err := filex.EnsureParentDir(path); err != nil {
		return err
	}

	salt := common.GenerateRandByteArray(saltSize)
	key := cryptox.DeriveKey(passphrase, salt)
	defer common.WipeByteArray(key)

	ciphertext, nonce, err := cryptox.Seal(keyMaterial{PrivateKey: priv}, key)
	if err != nil {
		return fmt.Errorf("sealing key: %w", err)
	}

	data, err := json.Marshal(envelope{Salt: salt, Nonce: nonce, Ciphertext: ciphertext})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Load reads and decrypts the private key from path.
func Load(path string, passphrase []byte) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	key := cryptox.DeriveKey(passphrase, env.Salt)
	defer common.WipeByteArray(key)

	var material keyMaterial
	if err := cryptox.Open(env.Ciphertext, env.Nonce, key, &material); err != nil {
		return nil, ErrWrongPassphrase
	}
	if len(material.PrivateKey) != ed25519.PrivateKeySize {
		return nil, ErrWrongPassphrase
	}
	return ed25519.PrivateKey(material.PrivateKey), nil
}

// Exists reports whether a key file is already present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
