// Package security adds an optional tamper-proof wrapper around matrix
// responses for consumers that verify payloads downstream.
package security

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// ResponseSigner signs response payloads with an ephemeral secp256k1 key.
// The key lives for the process lifetime; verifiers pick the public key up
// from the wrapper itself or from /status.
type ResponseSigner struct {
	privateKey   *ecdsa.PrivateKey
	publicKeyHex string
}

// NewResponseSigner generates a fresh signing key.
func NewResponseSigner() (*ResponseSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	s := &ResponseSigner{
		privateKey:   key,
		publicKeyHex: fmt.Sprintf("0x%x", crypto.FromECDSAPub(&key.PublicKey)),
	}
	logrus.Infof("response signer initialized, public key %s...", s.publicKeyHex[:18])
	return s, nil
}

// PublicKey returns the hex-encoded public key.
func (s *ResponseSigner) PublicKey() string {
	return s.publicKeyHex
}

// Wrap envelopes the payload with sha256 and keccak256 digests and an
// ECDSA signature over the keccak digest of the marshalled payload.
func (s *ResponseSigner) Wrap(payload interface{}, metadata map[string]interface{}) (map[string]interface{}, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling payload: %w", err)
	}

	sha := sha256.Sum256(payloadBytes)
	keccak := crypto.Keccak256Hash(payloadBytes)

	signature, err := crypto.Sign(keccak.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("signing payload: %w", err)
	}

	wrapper := map[string]interface{}{
		"payload": json.RawMessage(payloadBytes),
		"integrity": map[string]interface{}{
			"sha256":    fmt.Sprintf("%x", sha),
			"keccak256": keccak.Hex(),
			"signature": fmt.Sprintf("0x%x", signature),
			"publicKey": s.publicKeyHex,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if metadata != nil {
		wrapper["metadata"] = metadata
	}
	return wrapper, nil
}

// Verify checks a wrapper produced by Wrap: both digests must match the
// payload bytes and the signature must recover to the embedded key.
func (s *ResponseSigner) Verify(wrapper map[string]interface{}) (bool, error) {
	rawPayload, ok := wrapper["payload"]
	if !ok {
		return false, fmt.Errorf("payload missing from wrapper")
	}
	payloadBytes, err := json.Marshal(rawPayload)
	if err != nil {
		return false, fmt.Errorf("marshalling payload: %w", err)
	}

	integrity, ok := wrapper["integrity"].(map[string]interface{})
	if !ok {
		return false, fmt.Errorf("integrity section missing")
	}
	wantSHA, _ := integrity["sha256"].(string)
	wantKeccak, _ := integrity["keccak256"].(string)
	sigHex, _ := integrity["signature"].(string)
	if wantSHA == "" || wantKeccak == "" || sigHex == "" {
		return false, fmt.Errorf("integrity section incomplete")
	}

	sha := sha256.Sum256(payloadBytes)
	if fmt.Sprintf("%x", sha) != wantSHA {
		return false, fmt.Errorf("sha256 mismatch")
	}
	keccak := crypto.Keccak256Hash(payloadBytes)
	if keccak.Hex() != wantKeccak {
		return false, fmt.Errorf("keccak256 mismatch")
	}

	var sig []byte
	if _, err := fmt.Sscanf(sigHex, "0x%x", &sig); err != nil {
		return false, fmt.Errorf("decoding signature: %w", err)
	}
	if len(sig) != 65 {
		return false, fmt.Errorf("invalid signature length %d", len(sig))
	}
	recovered, err := crypto.SigToPub(keccak.Bytes(), sig)
	if err != nil {
		return false, fmt.Errorf("recovering public key: %w", err)
	}
	if fmt.Sprintf("0x%x", crypto.FromECDSAPub(recovered)) != s.publicKeyHex {
		return false, fmt.Errorf("signature does not match signer key")
	}
	return true, nil
}
