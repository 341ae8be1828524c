package rpcserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/blobstore"
	"github.com/driftsync/driftsync/internal/changeset"
	"github.com/driftsync/driftsync/internal/identity"
	"github.com/driftsync/driftsync/internal/pointerstore"
	"github.com/driftsync/driftsync/internal/remotestate"
	"github.com/driftsync/driftsync/internal/rowstore"
)

const testDID = "did:key:node-1"

func TestTokenIssuer_IssueValidate_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("shared-secret", time.Hour)

	token, err := issuer.Issue(testDID)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	nodeIdentity, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, testDID, nodeIdentity)
}

func TestTokenIssuer_DifferentTokensHaveDistinctJTI(t *testing.T) {
	issuer := NewTokenIssuer("shared-secret", time.Hour)

	t1, err := issuer.Issue(testDID)
	require.NoError(t, err)
	t2, err := issuer.Issue(testDID)
	require.NoError(t, err)

	assert.NotEqual(t, t1, t2)
}

func TestTokenIssuer_ExpiredTokenRejected(t *testing.T) {
	issuer := NewTokenIssuer("shared-secret", -time.Minute)

	token, err := issuer.Issue(testDID)
	require.NoError(t, err)

	_, err = issuer.Validate(token)
	assert.Error(t, err)
}

func TestTokenIssuer_WrongSecretRejected(t *testing.T) {
	issuer := NewTokenIssuer("secret-a", time.Hour)
	other := NewTokenIssuer("secret-b", time.Hour)

	token, err := issuer.Issue(testDID)
	require.NoError(t, err)

	_, err = other.Validate(token)
	assert.Error(t, err)
}

func TestTokenIssuer_MalformedTokenRejected(t *testing.T) {
	issuer := NewTokenIssuer("shared-secret", time.Hour)
	_, err := issuer.Validate("not-a-jwt")
	assert.Error(t, err)
}

func TestHashSecret_VerifySecret_RoundTrip(t *testing.T) {
	hash, err := HashSecret("correct-horse")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	assert.True(t, VerifySecret(hash, "correct-horse"))
	assert.False(t, VerifySecret(hash, "wrong-password"))
}

func newTestRemoteState(t *testing.T) *remotestate.RemoteState {
	t.Helper()

	pub, priv, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	resolver := identity.NewStaticKeyResolver()
	resolver.Register(testDID, pub)
	signer := identity.NewEd25519Signer(testDID, priv, resolver)

	blobs, err := blobstore.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	rows, err := rowstore.NewBadgerStore(rowstore.BadgerOptions{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { rows.Close() })
	pointers, err := pointerstore.NewSQLiteStore(filepath.Join(t.TempDir(), "pointers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pointers.Close() })

	changesets := changeset.New(signer, blobs, rows, "")
	return remotestate.New(pointers, blobs, rows, changesets)
}

func TestServer_HandleForward_RejectsMissingBearer(t *testing.T) {
	remote := newTestRemoteState(t)
	tokens := NewTokenIssuer("shared-secret", time.Hour)
	router := mux.NewRouter()
	NewServer(remote, tokens).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/internal/sync/forward", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_HandleForward_RejectsInvalidBearer(t *testing.T) {
	remote := newTestRemoteState(t)
	tokens := NewTokenIssuer("shared-secret", time.Hour)
	router := mux.NewRouter()
	NewServer(remote, tokens).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/internal/sync/forward", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServerClient_ForwardChangeSet_Success(t *testing.T) {
	remote := newTestRemoteState(t)
	tokens := NewTokenIssuer("shared-secret", time.Hour)
	router := mux.NewRouter()
	NewServer(remote, tokens).RegisterRoutes(router)

	httpSrv := httptest.NewServer(router)
	defer httpSrv.Close()

	token, err := tokens.Issue(testDID)
	require.NoError(t, err)
	client := NewClient(httpSrv.URL, token)

	err = client.ForwardChangeSet(context.Background(), "sync-pointer:widgets", "blob-1")
	require.NoError(t, err)

	ptr, err := remote.ReadPointer(context.Background(), "sync-pointer:widgets")
	require.NoError(t, err)
	require.NotNil(t, ptr)
}

func TestServerClient_ForwardChangeSet_RejectedWithoutValidToken(t *testing.T) {
	remote := newTestRemoteState(t)
	tokens := NewTokenIssuer("shared-secret", time.Hour)
	router := mux.NewRouter()
	NewServer(remote, tokens).RegisterRoutes(router)

	httpSrv := httptest.NewServer(router)
	defer httpSrv.Close()

	client := NewClient(httpSrv.URL, "bogus-token")
	err := client.ForwardChangeSet(context.Background(), "sync-pointer:widgets", "blob-1")
	assert.Error(t, err)
}

func TestServer_HandleForward_RejectsMissingFields(t *testing.T) {
	remote := newTestRemoteState(t)
	tokens := NewTokenIssuer("shared-secret", time.Hour)
	router := mux.NewRouter()
	NewServer(remote, tokens).RegisterRoutes(router)

	httpSrv := httptest.NewServer(router)
	defer httpSrv.Close()

	token, err := tokens.Issue(testDID)
	require.NoError(t, err)
	client := NewClient(httpSrv.URL, token)

	err = client.ForwardChangeSet(context.Background(), "", "")
	assert.Error(t, err)
}
