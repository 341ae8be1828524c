// Package identity implements the decentralised identity collaborator:
// creation and verification of W3C Data Integrity proofs over
// JCS-canonicalised payloads, fixed to cryptosuite eddsa-jcs-2022 and
// proofPurpose assertionMethod.
//
// No ed25519/DID/Data-Integrity-Proof library covers this directly, so the
// signing primitive is taken straight from the standard library, the same
// way crypto/tls, crypto/rand and crypto/aes get used directly elsewhere
// rather than wrapped in a third-party crypto package.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/driftsync/driftsync/internal/syncmodel"
)

const (
	ProofType        = "DataIntegrityProof"
	Cryptosuite      = "eddsa-jcs-2022"
	ProofPurpose     = "assertionMethod"
	ContextURI       = "https://www.w3.org/ns/credentials/v2"
)

// Signer creates and verifies Data Integrity proofs. Implementations are
// interchangeable engines behind the narrow contract Changesets depends on.
type Signer interface {
	// CreateProof signs payload (with proof already omitted by the caller)
	// as signerDID using verificationMethod, returning the attached proof.
	CreateProof(signerDID, verificationMethod string, payload any) (*syncmodel.Proof, error)

	// VerifyProof checks proof over payload. It never returns an error for
	// an invalid signature — it returns (false, nil) — errors are reserved
	// for malformed input the caller should treat as a bug, not a
	// verification failure.
	VerifyProof(payload any, proof *syncmodel.Proof) (bool, error)
}

// KeyResolver maps a node DID to the Ed25519 public key that should verify
// its proofs. A single-node or test setup can use a static map; a real
// deployment would resolve this against a DID document registry, which is
// itself an external collaborator the core does not specify.
type KeyResolver interface {
	Resolve(nodeDID string) (ed25519.PublicKey, error)
}

// StaticKeyResolver is an in-memory KeyResolver keyed by DID, sufficient
// for a single trusted-peer topology or tests.
type StaticKeyResolver struct {
	keys map[string]ed25519.PublicKey
}

func NewStaticKeyResolver() *StaticKeyResolver {
	return &StaticKeyResolver{keys: map[string]ed25519.PublicKey{}}
}

func (r *StaticKeyResolver) Register(nodeDID string, pub ed25519.PublicKey) {
	r.keys[nodeDID] = pub
}

func (r *StaticKeyResolver) Resolve(nodeDID string) (ed25519.PublicKey, error) {
	pub, ok := r.keys[nodeDID]
	if !ok {
		return nil, fmt.Errorf("identity: no key registered for %s", nodeDID)
	}
	return pub, nil
}

type ed25519Signer struct {
	selfDID  string
	priv     ed25519.PrivateKey
	resolver KeyResolver
	log      *logrus.Entry
}

// NewEd25519Signer builds a Signer for selfDID, signing with priv and
// resolving other nodes' verification keys through resolver. Trusted and
// untrusted nodes alike sign the changesets they publish.
func NewEd25519Signer(selfDID string, priv ed25519.PrivateKey, resolver KeyResolver) Signer {
	return &ed25519Signer{
		selfDID:  selfDID,
		priv:     priv,
		resolver: resolver,
		log:      logrus.WithField("component", "identity"),
	}
}

// GenerateKeyPair creates a fresh Ed25519 key pair for provisioning a new
// node identity.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

func (s *ed25519Signer) CreateProof(signerDID, verificationMethod string, payload any) (*syncmodel.Proof, error) {
	if s.priv == nil {
		return nil, fmt.Errorf("identity: signer for %s has no private key", s.selfDID)
	}
	if signerDID != s.selfDID {
		return nil, fmt.Errorf("identity: signer %s asked to sign as %s", s.selfDID, signerDID)
	}

	canonical, err := Canonicalize(payload)
	if err != nil {
		return nil, err
	}

	sig := ed25519.Sign(s.priv, canonical)

	return &syncmodel.Proof{
		Type:               ProofType,
		Cryptosuite:        Cryptosuite,
		Created:            time.Now().UTC().Format(time.RFC3339Nano),
		VerificationMethod: verificationMethod,
		ProofPurpose:       ProofPurpose,
		ProofValue:         hex.EncodeToString(sig),
	}, nil
}

func (s *ed25519Signer) VerifyProof(payload any, proof *syncmodel.Proof) (bool, error) {
	if proof == nil {
		return false, nil
	}
	if proof.Cryptosuite != Cryptosuite || proof.ProofPurpose != ProofPurpose {
		s.log.WithFields(logrus.Fields{
			"cryptosuite":  proof.Cryptosuite,
			"proofPurpose": proof.ProofPurpose,
		}).Warn("identity: unsupported proof parameters")
		return false, nil
	}

	signerDID, _, ok := splitVerificationMethod(proof.VerificationMethod)
	if !ok {
		s.log.WithField("verificationMethod", proof.VerificationMethod).
			Warn("identity: malformed verification method")
		return false, nil
	}

	pub, err := s.resolver.Resolve(signerDID)
	if err != nil {
		s.log.WithError(err).WithField("nodeIdentity", signerDID).
			Warn("identity: cannot resolve signer key")
		return false, nil
	}

	sig, err := hex.DecodeString(proof.ProofValue)
	if err != nil {
		s.log.WithError(err).Warn("identity: malformed proof value")
		return false, nil
	}

	canonical, err := Canonicalize(payload)
	if err != nil {
		return false, err
	}

	return ed25519.Verify(pub, canonical, sig), nil
}

// splitVerificationMethod splits "<did>#<methodId>" into its parts.
func splitVerificationMethod(vm string) (did, methodID string, ok bool) {
	for i := len(vm) - 1; i >= 0; i-- {
		if vm[i] == '#' {
			return vm[:i], vm[i+1:], true
		}
	}
	return "", "", false
}
