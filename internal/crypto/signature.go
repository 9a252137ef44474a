package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// SigAlgEd25519 is the only algorithm written today.
const SigAlgEd25519 = "ed25519"

// SignatureSuffix is appended to a file path to name its detached signature.
const SignatureSuffix = ".sig"

var (
	ErrSignatureMissing = errors.New("signature file missing")
	ErrSignatureInvalid = errors.New("signature does not match")
)

// SignatureHeader metadata
type SignatureHeader struct {
	Alg   string `json:"alg"`
	KeyID string `json:"key_id,omitempty"`
}

// Envelope is a parsed detached signature: a JSON header line followed by
// the hex signature.
type Envelope struct {
	Header    SignatureHeader
	Signature []byte
}

// EncodeEnvelope renders sig with its header.
func EncodeEnvelope(sig []byte, keyID string) []byte {
	header, _ := json.Marshal(SignatureHeader{Alg: SigAlgEd25519, KeyID: keyID})
	return []byte(string(header) + "\n" + hex.EncodeToString(sig) + "\n")
}

// DecodeEnvelope parses a detached signature.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	if len(lines) != 2 {
		return nil, fmt.Errorf("invalid signature format: expected header and payload")
	}
	var env Envelope
	if err := json.Unmarshal([]byte(lines[0]), &env.Header); err != nil {
		return nil, fmt.Errorf("invalid signature header: %w", err)
	}
	if env.Header.Alg != SigAlgEd25519 {
		return nil, fmt.Errorf("unsupported signature algorithm %q", env.Header.Alg)
	}
	sig, err := hex.DecodeString(strings.TrimSpace(lines[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	env.Signature = sig
	return &env, nil
}

// SignFile writes path+".sig" holding a signature over the file's bytes.
func SignFile(path, privateKeyPath string) error {
	key, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	pub := key.Public().(ed25519.PublicKey)
	env := EncodeEnvelope(ed25519.Sign(key, data), KeyID(pub))
	if err := os.WriteFile(path+SignatureSuffix, env, 0644); err != nil {
		return fmt.Errorf("failed to write signature: %w", err)
	}
	return nil
}

// VerifyFile checks path against path+".sig". It returns ErrSignatureMissing
// or ErrSignatureInvalid (wrapped) on failure.
func VerifyFile(path, publicKeyPath string) error {
	pub, err := LoadPublicKey(publicKeyPath)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(path + SignatureSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s%s", ErrSignatureMissing, path, SignatureSuffix)
	}
	if err != nil {
		return fmt.Errorf("failed to read signature: %w", err)
	}
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return err
	}
	if env.Header.KeyID != "" && env.Header.KeyID != KeyID(pub) {
		return fmt.Errorf("%w: signed by key %s, expected %s", ErrSignatureInvalid, env.Header.KeyID, KeyID(pub))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !ed25519.Verify(pub, data, env.Signature) {
		return fmt.Errorf("%w: %s", ErrSignatureInvalid, path)
	}
	return nil
}
