package identity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/syncmodel"
)

func TestCanonicalize_SortsKeysAtEveryLevel(t *testing.T) {
	a := map[string]any{
		"b": 1,
		"a": map[string]any{"z": 1, "y": 2},
	}
	b := map[string]any{
		"a": map[string]any{"y": 2, "z": 1},
		"b": 1,
	}

	encA, err := Canonicalize(a)
	require.NoError(t, err)
	encB, err := Canonicalize(b)
	require.NoError(t, err)

	assert.Equal(t, string(encA), string(encB))
	assert.Equal(t, `{"a":{"y":2,"z":1},"b":1}`, string(encA))
}

func TestCanonicalize_SortsArrayElementObjects(t *testing.T) {
	payload := map[string]any{
		"items": []any{
			map[string]any{"id": "2", "value": "x"},
			map[string]any{"value": "y", "id": "1"},
		},
	}

	enc, err := Canonicalize(payload)
	require.NoError(t, err)
	assert.Equal(t, `{"items":[{"id":"2","value":"x"},{"id":"1","value":"y"}]}`, string(enc))
}

func TestCanonicalize_PreservesNumberPrecision(t *testing.T) {
	payload := json.RawMessage(`{"amount":12345678901234567890}`)

	enc, err := Canonicalize(payload)
	require.NoError(t, err)
	assert.Equal(t, `{"amount":12345678901234567890}`, string(enc))
}

func TestCanonicalize_Deterministic(t *testing.T) {
	payload := map[string]any{"x": 1, "y": []any{1, 2, 3}, "z": "hello"}

	first, err := Canonicalize(payload)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Canonicalize(payload)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func newTestSigner(t *testing.T, did string) (Signer, *StaticKeyResolver) {
	t.Helper()
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	resolver := NewStaticKeyResolver()
	resolver.Register(did, pub)

	return NewEd25519Signer(did, priv, resolver), resolver
}

func TestCreateProof_VerifyProof_RoundTrip(t *testing.T) {
	did := "did:key:node-1"
	signer, _ := newTestSigner(t, did)

	payload := map[string]any{"id": "abc-1", "name": "widget"}

	proof, err := signer.CreateProof(did, did+"#key-1", payload)
	require.NoError(t, err)
	assert.Equal(t, ProofType, proof.Type)
	assert.Equal(t, Cryptosuite, proof.Cryptosuite)
	assert.Equal(t, ProofPurpose, proof.ProofPurpose)
	assert.NotEmpty(t, proof.ProofValue)

	ok, err := signer.VerifyProof(payload, proof)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyProof_TamperedPayloadFails(t *testing.T) {
	did := "did:key:node-1"
	signer, _ := newTestSigner(t, did)

	payload := map[string]any{"id": "abc-1", "name": "widget"}
	proof, err := signer.CreateProof(did, did+"#key-1", payload)
	require.NoError(t, err)

	tampered := map[string]any{"id": "abc-1", "name": "tampered"}
	ok, err := signer.VerifyProof(tampered, proof)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyProof_TamperedSignatureFails(t *testing.T) {
	did := "did:key:node-1"
	signer, _ := newTestSigner(t, did)

	payload := map[string]any{"id": "abc-1"}
	proof, err := signer.CreateProof(did, did+"#key-1", payload)
	require.NoError(t, err)

	proof.ProofValue = proof.ProofValue[:len(proof.ProofValue)-2] + "00"
	ok, err := signer.VerifyProof(payload, proof)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyProof_UnresolvableSignerFails(t *testing.T) {
	did := "did:key:node-1"
	signer, _ := newTestSigner(t, did)

	payload := map[string]any{"id": "abc-1"}
	proof, err := signer.CreateProof(did, did+"#key-1", payload)
	require.NoError(t, err)

	other, _ := newTestSigner(t, "did:key:node-2")
	ok, err := other.VerifyProof(payload, proof)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyProof_MalformedVerificationMethodFails(t *testing.T) {
	did := "did:key:node-1"
	signer, _ := newTestSigner(t, did)

	proof := &syncmodel.Proof{
		Type:               ProofType,
		Cryptosuite:        Cryptosuite,
		ProofPurpose:       ProofPurpose,
		VerificationMethod: "no-hash-separator",
		ProofValue:         "aa",
	}

	ok, err := signer.VerifyProof(map[string]any{"id": "x"}, proof)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyProof_UnsupportedCryptosuiteFails(t *testing.T) {
	did := "did:key:node-1"
	signer, _ := newTestSigner(t, did)

	proof := &syncmodel.Proof{
		Type:               ProofType,
		Cryptosuite:        "other-suite",
		ProofPurpose:       ProofPurpose,
		VerificationMethod: did + "#key-1",
		ProofValue:         "aa",
	}

	ok, err := signer.VerifyProof(map[string]any{"id": "x"}, proof)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyProof_NilProofFails(t *testing.T) {
	did := "did:key:node-1"
	signer, _ := newTestSigner(t, did)

	ok, err := signer.VerifyProof(map[string]any{"id": "x"}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateProof_NoPrivateKeyFails(t *testing.T) {
	did := "did:key:node-1"
	resolver := NewStaticKeyResolver()
	signer := NewEd25519Signer(did, nil, resolver)

	_, err := signer.CreateProof(did, did+"#key-1", map[string]any{"id": "x"})
	assert.Error(t, err)
}

func TestCreateProof_WrongSignerDIDFails(t *testing.T) {
	did := "did:key:node-1"
	signer, _ := newTestSigner(t, did)

	_, err := signer.CreateProof("did:key:someone-else", did+"#key-1", map[string]any{"id": "x"})
	assert.Error(t, err)
}

func TestStaticKeyResolver_UnregisteredDIDFails(t *testing.T) {
	resolver := NewStaticKeyResolver()
	_, err := resolver.Resolve("did:key:unknown")
	assert.Error(t, err)
}
