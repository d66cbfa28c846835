package httpremote

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/treesync/internal/blobapi"
	"github.com/openmined/treesync/internal/blobserver"
	"github.com/openmined/treesync/internal/remote"
	"github.com/openmined/treesync/internal/remote/dirremote"
	"github.com/openmined/treesync/internal/remote/remotetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "s3cr3t"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := dirremote.New(t.TempDir())
	require.NoError(t, err)

	handler, err := blobserver.SetupRoutes(&blobserver.Config{Bind: ":0", Root: store.Root(), Token: testToken}, store)
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url, token string) *Client {
	t.Helper()
	c, err := New(&Config{ServerURL: url, Token: token}, WithRetry(0, time.Millisecond))
	require.NoError(t, err)
	return c
}

func TestClient_Contract(t *testing.T) {
	remotetest.RunContract(t, func(t *testing.T) remote.Remote {
		return newTestClient(t, newTestServer(t).URL, testToken)
	})
}

func TestClient_WrongToken(t *testing.T) {
	c := newTestClient(t, newTestServer(t).URL, "nope")

	_, err := c.List(context.Background(), "root")
	var apiErr *blobapi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, blobapi.CodeAccessDenied, apiErr.Code)
}

func TestClient_StatMissing(t *testing.T) {
	c := newTestClient(t, newTestServer(t).URL, testToken)

	_, err := c.Stat(context.Background(), "root/missing.txt")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestClient_UploadEmptyFile(t *testing.T) {
	c := newTestClient(t, newTestServer(t).URL, testToken)
	local := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(local, nil, 0o644))

	obj, err := c.Create(context.Background(), local, "root/empty")
	require.NoError(t, err)
	assert.Zero(t, obj.Size)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", obj.Hash)
}

func TestClient_InvalidKey(t *testing.T) {
	c := newTestClient(t, newTestServer(t).URL, testToken)

	err := c.Delete(context.Background(), "../outside")
	assert.ErrorIs(t, err, remote.ErrInvalidPath)
}

func TestConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, (&Config{}).Validate(), ErrNoServerURL)
	assert.Error(t, (&Config{ServerURL: "ftp://example.com"}).Validate())
	assert.NoError(t, (&Config{ServerURL: "https://example.com"}).Validate())
}
