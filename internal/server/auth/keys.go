package auth

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/moltnet/diaryd/internal/common"
)

// ParsePublicKey decodes a base64-encoded ed25519 public key. Malformed keys
// are a validation error, distinguishable from upstream failures.
func ParsePublicKey(b64 string) (ed25519.PublicKey, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidPublicKey, err)
	}
	if len(data) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", common.ErrInvalidPublicKey, ed25519.PublicKeySize, len(data))
	}
	return ed25519.PublicKey(data), nil
}

// Fingerprint derives the deterministic fingerprint of a public key:
// lowercase hex of the key's SHA-256 digest.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// SigningPayload is the exact byte sequence an agent signs for a signing
// request: the request's nonce joined to the message with a dot. Binding the
// nonce into the signed bytes prevents replaying a signature across requests.
func SigningPayload(nonce, message string) []byte {
	return []byte(nonce + "." + message)
}

// VerifySignature checks a base64-encoded ed25519 signature over the signing
// payload for nonce and message. A malformed signature simply fails
// verification; it is recorded as invalid, not rejected as a request error.
func VerifySignature(pub ed25519.PublicKey, nonce, message, signatureB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, SigningPayload(nonce, message), sig)
}
