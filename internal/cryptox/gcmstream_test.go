package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// reference seals plaintext with the standard library's one-shot GCM Seal,
// returning ciphertext||tag, to compare against the streaming implementation.
func reference(t *testing.T, key, iv, plaintext []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCMWithNonceSize(block, GCMIVSize)
	require.NoError(t, err)
	return gcm.Seal(nil, iv, plaintext, nil)
}

func streamEncrypt(t *testing.T, key, iv, plaintext []byte, chunk int) []byte {
	t.Helper()
	var out bytes.Buffer
	r := &chunkedReader{data: plaintext, chunk: chunk}
	err := AESGCMEncryptStream(key, iv, r, &out)
	require.NoError(t, err)
	return out.Bytes()
}

// chunkedReader forces Read to return at most chunk bytes at a time, so
// tests exercise the multi-call accumulation path in foldGHASH.
type chunkedReader struct {
	data  []byte
	chunk int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.chunk
	if n > len(p) {
		n = len(p)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestAESGCMEncryptStream_MatchesStdlibOneShot(t *testing.T) {
	key := make([]byte, AESKeySize)
	iv := make([]byte, GCMIVSize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	sizes := []int{0, 1, 15, 16, 17, 4095, 4096, 4097, 70000}
	for _, size := range sizes {
		plaintext := make([]byte, size)
		_, err := rand.Read(plaintext)
		require.NoError(t, err)

		want := reference(t, key, iv, plaintext)
		got := streamEncrypt(t, key, iv, plaintext, 4096)
		require.Equal(t, want, got, "size=%d", size)
	}
}

func TestAESGCMEncryptStream_ChunkSizeIndependence(t *testing.T) {
	key := make([]byte, AESKeySize)
	iv := make([]byte, GCMIVSize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	plaintext := make([]byte, 100000)
	_, err = rand.Read(plaintext)
	require.NoError(t, err)

	want := reference(t, key, iv, plaintext)
	for _, chunk := range []int{1, 3, 16, 4096, 100000} {
		got := streamEncrypt(t, key, iv, plaintext, chunk)
		require.Equal(t, want, got, "chunk=%d", chunk)
	}
}

func TestAESGCMEncryptStream_DecryptsWithStdlibOpen(t *testing.T) {
	key := make([]byte, AESKeySize)
	iv := make([]byte, GCMIVSize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox jumps over the lazy dog, repeatedly")
	sealed := streamEncrypt(t, key, iv, plaintext, 8)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCMWithNonceSize(block, GCMIVSize)
	require.NoError(t, err)

	opened, err := gcm.Open(nil, iv, sealed, nil)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestAESGCMEncryptStream_BadIVSize(t *testing.T) {
	key := make([]byte, AESKeySize)
	var out bytes.Buffer
	err := AESGCMEncryptStream(key, []byte("short"), bytes.NewReader(nil), &out)
	require.Error(t, err)
}
