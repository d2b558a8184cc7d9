// Package security signs published ranking snapshots so downstream consumers
// can check they were produced by this service and not altered in transit.
package security

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// Algorithm names the signature scheme carried in every envelope
const Algorithm = "secp256k1-keccak256"

var (
	// ErrHashMismatch means the payload no longer matches its digest
	ErrHashMismatch = errors.New("payload hash mismatch")

	// ErrBadSignature means the signature does not verify against the public key
	ErrBadSignature = errors.New("signature verification failed")

	// ErrExpired means the envelope's validity window has passed
	ErrExpired = errors.New("signature expired")

	// ErrUnknownSigner means the envelope was signed by a different key
	ErrUnknownSigner = errors.New("unexpected signer")
)

// Envelope wraps a JSON payload with its digests and signature.
type Envelope struct {
	Payload    json.RawMessage `json:"payload"`
	Keccak256  string          `json:"keccak256Hash"`
	SHA256     string          `json:"sha256"`
	Signature  string          `json:"signature"`
	PublicKey  string          `json:"publicKey"`
	Signer     string          `json:"signer"`
	Algorithm  string          `json:"algorithm"`
	SignedAt   int64           `json:"signedAt"`
	ValidUntil int64           `json:"validUntil,omitempty"`
}

// Signer holds the service key
type Signer struct {
	privateKey *ecdsa.PrivateKey
	publicKey  string
	address    string
	validity   time.Duration
	now        func() time.Time
}

// NewSigner loads a hex encoded secp256k1 key, or generates an ephemeral one
// when keyHex is empty. A zero validity produces envelopes that never expire.
func NewSigner(keyHex string, validity time.Duration) (*Signer, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	if keyHex == "" {
		key, err = crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
	} else {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
	}

	s := &Signer{
		privateKey: key,
		publicKey:  hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey)),
		address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		validity:   validity,
		now:        time.Now,
	}

	logrus.WithFields(logrus.Fields{
		"signer":    s.address,
		"ephemeral": keyHex == "",
	}).Info("Snapshot signer initialized")
	return s, nil
}

// PublicKey returns the uncompressed public key as 0x-prefixed hex
func (s *Signer) PublicKey() string {
	return s.publicKey
}

// Address returns the Ethereum-style address derived from the public key
func (s *Signer) Address() string {
	return s.address
}

// Sign marshals payload and signs the Keccak-256 digest of the bytes.
func (s *Signer) Sign(payload interface{}) (Envelope, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	hash := crypto.Keccak256Hash(payloadBytes)
	signature, err := crypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to sign payload: %w", err)
	}

	now := s.now()
	env := Envelope{
		Payload:   payloadBytes,
		Keccak256: hash.Hex(),
		SHA256:    fmt.Sprintf("%x", sha256.Sum256(payloadBytes)),
		Signature: hexutil.Encode(signature),
		PublicKey: s.publicKey,
		Signer:    s.address,
		Algorithm: Algorithm,
		SignedAt:  now.Unix(),
	}
	if s.validity > 0 {
		env.ValidUntil = now.Add(s.validity).Unix()
	}
	return env, nil
}

// Verify checks an envelope produced by this signer.
func (s *Signer) Verify(env Envelope) error {
	if err := verifyAt(env, s.now()); err != nil {
		return err
	}
	if !strings.EqualFold(env.PublicKey, s.publicKey) {
		return fmt.Errorf("%w: %s", ErrUnknownSigner, env.Signer)
	}
	return nil
}

// Verify checks the digests, the expiry and that the signature recovers to
// the embedded public key.
func Verify(env Envelope) error {
	return verifyAt(env, time.Now())
}

func verifyAt(env Envelope, now time.Time) error {
	hash := crypto.Keccak256Hash(env.Payload)
	if hash.Hex() != env.Keccak256 {
		return ErrHashMismatch
	}
	if env.SHA256 != "" && env.SHA256 != fmt.Sprintf("%x", sha256.Sum256(env.Payload)) {
		return ErrHashMismatch
	}

	if env.ValidUntil > 0 && now.Unix() > env.ValidUntil {
		return fmt.Errorf("%w at %s", ErrExpired, time.Unix(env.ValidUntil, 0).UTC().Format(time.RFC3339))
	}

	sig, err := hexutil.Decode(env.Signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("invalid signature length: %d", len(sig))
	}

	pub, err := hexutil.Decode(env.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to decode public key: %w", err)
	}

	recovered, err := crypto.Ecrecover(hash.Bytes(), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !strings.EqualFold(hexutil.Encode(recovered), hexutil.Encode(pub)) {
		return ErrBadSignature
	}
	if !crypto.VerifySignature(pub, hash.Bytes(), sig[:crypto.RecoveryIDOffset]) {
		return ErrBadSignature
	}

	return nil
}
