package upload

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/sealcourier/sealcourier/internal/bundleerr"
)

func testClient() *Client {
	return NewClient(Timeouts{Connect: time.Second, Read: 5 * time.Second, Write: 5 * time.Second}, testLogger(), NoopReporter{})
}

func writeArtifact(t *testing.T, contents string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "artifact")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestUpload_FullHappyPath(t *testing.T) {
	artifact := writeArtifact(t, "hello world!")

	var sequence []string
	var completeBody completeRequest
	var srvURL string

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	mux.HandleFunc("/init", func(w http.ResponseWriter, r *http.Request) {
		sequence = append(sequence, "init")
		var got initRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		require.EqualValues(t, len("hello world!"), got.SizeBytes)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"uploadId": "u", "blobKey": "b", "bundleId": "B",
			"expiresIn": 900,
			"parts": []map[string]any{
				{"partNumber": 1, "presignedUrl": srvURL + "/part", "offset": 0, "size": len("hello world!")},
			},
		})
	})
	mux.HandleFunc("/part", func(w http.ResponseWriter, r *http.Request) {
		sequence = append(sequence, "put")
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, "hello world!", string(body))
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/complete", func(w http.ResponseWriter, r *http.Request) {
		sequence = append(sequence, "complete")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&completeBody))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "completed", "bundleId": "B"})
	})

	client := testClient()
	resp, err := client.Upload(context.Background(), srv.URL, "tok", artifact, "", "")
	require.NoError(t, err)
	require.Equal(t, "completed", resp.Status)
	require.Equal(t, "B", resp.BundleID)

	require.Equal(t, []string{"init", "put", "complete"}, sequence)
	require.Equal(t, "u", completeBody.UploadID)
	require.Equal(t, "b", completeBody.BlobKey)
	if diff := cmp.Diff([]completedPart{{PartNumber: 1, ETag: "abc"}}, completeBody.Parts); diff != "" {
		t.Errorf("complete request parts mismatch (-want +got):\n%s", diff)
	}
}

func TestUpload_PartManifestSortedAscendingByPartNumber(t *testing.T) {
	artifact := writeArtifact(t, strings.Repeat("x", 30))

	var completeBody completeRequest
	var putServer *httptest.Server

	mux := http.NewServeMux()
	mux.HandleFunc("/complete", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&completeBody))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "completed", "bundleId": "B"})
	})
	mux.HandleFunc("/part", func(w http.ResponseWriter, r *http.Request) {
		n := r.URL.Query().Get("n")
		w.Header().Set("ETag", `"etag-`+n+`"`)
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	})
	putServer = httptest.NewServer(mux)
	defer putServer.Close()

	mux.HandleFunc("/init", func(w http.ResponseWriter, r *http.Request) {
		parts := []map[string]any{
			{"partNumber": 3, "presignedUrl": putServer.URL + "/part?n=3", "offset": 20, "size": 10},
			{"partNumber": 1, "presignedUrl": putServer.URL + "/part?n=1", "offset": 0, "size": 10},
			{"partNumber": 2, "presignedUrl": putServer.URL + "/part?n=2", "offset": 10, "size": 10},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"uploadId": "u", "blobKey": "b", "bundleId": "B", "expiresIn": 900, "parts": parts,
		})
	})

	client := testClient()
	_, err := client.Upload(context.Background(), putServer.URL, "tok", artifact, "", "")
	require.NoError(t, err)

	want := []completedPart{
		{PartNumber: 1, ETag: "etag-1"},
		{PartNumber: 2, ETag: "etag-2"},
		{PartNumber: 3, ETag: "etag-3"},
	}
	if diff := cmp.Diff(want, completeBody.Parts); diff != "" {
		t.Errorf("complete request parts not sorted ascending (-want +got):\n%s", diff)
	}
}

func TestUpload_InitRetryExhaustionFailsUpload(t *testing.T) {
	artifact := writeArtifact(t, "x")
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := testClient()
	_, err := client.Upload(context.Background(), srv.URL, "tok", artifact, "", "")
	require.Error(t, err)
	require.EqualValues(t, 3, requests.Load())
}

func TestUpload_Init4xxIsTerminal(t *testing.T) {
	artifact := writeArtifact(t, "x")
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := testClient()
	_, err := client.Upload(context.Background(), srv.URL, "tok", artifact, "", "")
	require.Error(t, err)
	var srvErr *bundleerr.ServerError
	require.ErrorAs(t, err, &srvErr)
	require.Equal(t, http.StatusUnauthorized, srvErr.Status)
	require.EqualValues(t, 1, requests.Load())
}

func TestUpload_MissingInitFields_IsProtocolError(t *testing.T) {
	artifact := writeArtifact(t, "x")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"uploadId": "u"})
	}))
	defer srv.Close()

	client := testClient()
	_, err := client.Upload(context.Background(), srv.URL, "tok", artifact, "", "")
	require.Error(t, err)
	require.ErrorIs(t, err, bundleerr.ErrProtocolError)
	require.Contains(t, err.Error(), "blobKey")
}

func TestUpload_ChallengeWithoutKey_IsBadInputBeforeAnyRequest(t *testing.T) {
	artifact := writeArtifact(t, "x")
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	client := testClient()
	_, err := client.Upload(context.Background(), srv.URL, "tok", artifact, "", "nonce-123")
	require.Error(t, err)
	require.ErrorIs(t, err, bundleerr.ErrBadInput)
	require.Zero(t, requests.Load())
}

func TestUpload_ChallengeIsEncryptedWithPublicKey(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	artifact := writeArtifact(t, "x")
	var gotChallenge string

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/init", func(w http.ResponseWriter, r *http.Request) {
		var got initRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		gotChallenge = got.EncryptedChallenge
		w.WriteHeader(http.StatusUnauthorized)
	})

	client := testClient()
	_, _ = client.Upload(context.Background(), srv.URL, "tok", artifact, pubPEM, "nonce-123")
	require.NotEmpty(t, gotChallenge)
}

func TestUpload_TrailingSlashNormalization(t *testing.T) {
	artifact := writeArtifact(t, "x")
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := testClient()
	_, _ = client.Upload(context.Background(), srv.URL+"/", "tok", artifact, "", "")
	require.Equal(t, "/init", gotPath)
}

func TestUpload_PartStorage5xxExhaustion(t *testing.T) {
	artifact := writeArtifact(t, strings.Repeat("y", 10))

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var partRequests atomic.Int64
	mux.HandleFunc("/init", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"uploadId": "u", "blobKey": "b", "bundleId": "B", "expiresIn": 900,
			"parts": []map[string]any{{"partNumber": 1, "presignedUrl": srv.URL + "/part", "offset": 0, "size": 10}},
		})
	})
	mux.HandleFunc("/part", func(w http.ResponseWriter, r *http.Request) {
		partRequests.Add(1)
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadGateway)
	})

	client := testClient()
	_, err := client.Upload(context.Background(), srv.URL, "tok", artifact, "", "")
	require.Error(t, err)
	require.EqualValues(t, 3, partRequests.Load())
}
