// Package crypto signs and verifies files with externally managed Ed25519
// keys. Keys are PEM encoded, either PKCS#8/PKIX (openssl genpkey) or raw
// "ED25519 PRIVATE KEY"/"ED25519 PUBLIC KEY" blocks.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
)

const (
	privateKeyType = "ED25519 PRIVATE KEY"
	publicKeyType  = "ED25519 PUBLIC KEY"
	pkcs8Type      = "PRIVATE KEY"
	pkixType       = "PUBLIC KEY"
)

func readBlock(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block in %s", path)
	}
	return block, nil
}

// LoadPrivateKey reads an Ed25519 private key.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	block, err := readBlock(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	switch block.Type {
	case privateKeyType:
		if len(block.Bytes) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("invalid private key size in %s", path)
		}
		return ed25519.PrivateKey(block.Bytes), nil
	case pkcs8Type:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		ed, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%s is not an Ed25519 key", path)
		}
		return ed, nil
	default:
		return nil, fmt.Errorf("invalid key type %q in %s", block.Type, path)
	}
}

// LoadPublicKey reads an Ed25519 public key.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	block, err := readBlock(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	switch block.Type {
	case publicKeyType:
		if len(block.Bytes) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid public key size in %s", path)
		}
		return ed25519.PublicKey(block.Bytes), nil
	case pkixType:
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		ed, ok := key.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%s is not an Ed25519 key", path)
		}
		return ed, nil
	default:
		return nil, fmt.Errorf("invalid key type %q in %s", block.Type, path)
	}
}

// KeyID is a short fingerprint of a public key.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}
