package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sealcourier/sealcourier/internal/bundleerr"
)

// streamChunkSize is the minimum read granularity mandated for the
// streaming encryptor: reads happen in chunks of at least this size so a
// multi-gigabyte payload is never buffered whole.
const streamChunkSize = 4096

const blockSize = 16

// AESGCMEncryptStream encrypts input under AES-256-GCM with a 128-bit tag,
// reading in chunks of at least 4 KiB and writing ciphertext to output
// incrementally as it is produced. The authentication tag is appended to
// the end of output once the entire input has been consumed.
//
// The standard library's cipher.AEAD interface only exposes single-shot
// Seal/Open, which would require holding the whole plaintext (or
// ciphertext) in memory. This function instead drives the GCM
// construction (NIST SP 800-38D) directly on top of the AES block cipher:
// CTR-mode keystream for confidentiality, incremental GHASH for the
// authentication tag. The result is byte-for-byte identical to what
// cipher.NewGCM's Seal would produce for the same key, IV and plaintext.
func AESGCMEncryptStream(key, iv []byte, input io.Reader, output io.Writer) error {
	enc, err := newGCMStreamEncrypter(key, iv)
	if err != nil {
		return err
	}

	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := input.Read(buf)
		if n > 0 {
			if err := enc.write(output, buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, readErr)
		}
	}

	tag, err := enc.finish()
	if err != nil {
		return err
	}
	if _, err := output.Write(tag); err != nil {
		return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
	}
	return nil
}

type gcmStreamEncrypter struct {
	block cipher.Block

	h [blockSize]byte // hash subkey: E_K(0^128)
	j0 [blockSize]byte // pre-counter block derived from the IV

	counter   [blockSize]byte // current CTR counter, starts at inc32(J0)
	keystream [blockSize]byte
	ksUsed    int // bytes of keystream already consumed

	ghashY   [blockSize]byte
	ghashBuf [blockSize]byte
	ghashLen int // bytes buffered in ghashBuf, not yet folded in

	cipherLen uint64 // total ciphertext bytes produced so far
	finished  bool
}

func newGCMStreamEncrypter(key, iv []byte) (*gcmStreamEncrypter, error) {
	if len(iv) != GCMIVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", bundleerr.ErrCryptoFail, GCMIVSize, len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bundleerr.ErrCryptoFail, err)
	}

	e := &gcmStreamEncrypter{block: block}

	var zero [blockSize]byte
	block.Encrypt(e.h[:], zero[:])

	copy(e.j0[:GCMIVSize], iv)
	e.j0[blockSize-1] = 1

	e.counter = e.j0
	incr32(&e.counter)
	e.ksUsed = blockSize // force keystream generation on first use

	return e, nil
}

// write XORs plaintext with the CTR keystream, streams the resulting
// ciphertext to dst, and folds full ciphertext blocks into the running
// GHASH accumulator.
func (e *gcmStreamEncrypter) write(dst io.Writer, plaintext []byte) error {
	ciphertext := make([]byte, len(plaintext))
	for i, b := range plaintext {
		if e.ksUsed == blockSize {
			e.block.Encrypt(e.keystream[:], e.counter[:])
			incr32(&e.counter)
			e.ksUsed = 0
		}
		ciphertext[i] = b ^ e.keystream[e.ksUsed]
		e.ksUsed++
	}

	if _, err := dst.Write(ciphertext); err != nil {
		return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
	}

	e.cipherLen += uint64(len(ciphertext))
	e.foldGHASH(ciphertext)
	return nil
}

// foldGHASH consumes ciphertext bytes 16 at a time into the GHASH
// accumulator, buffering any trailing partial block for the next call.
func (e *gcmStreamEncrypter) foldGHASH(ciphertext []byte) {
	pos := 0

	if e.ghashLen > 0 {
		n := copy(e.ghashBuf[e.ghashLen:], ciphertext)
		e.ghashLen += n
		pos = n
		if e.ghashLen == blockSize {
			e.ghashRound(e.ghashBuf[:])
			e.ghashLen = 0
		}
	}

	for pos+blockSize <= len(ciphertext) {
		e.ghashRound(ciphertext[pos : pos+blockSize])
		pos += blockSize
	}

	if pos < len(ciphertext) {
		e.ghashLen = copy(e.ghashBuf[:], ciphertext[pos:])
	}
}

func (e *gcmStreamEncrypter) ghashRound(block []byte) {
	var x [blockSize]byte
	for i := 0; i < blockSize; i++ {
		x[i] = e.ghashY[i] ^ block[i]
	}
	e.ghashY = gmul(x, e.h)
}

// finish folds in the trailing partial ciphertext block (zero-padded) and
// the 64-bit AAD/ciphertext bit-length block, then returns the 16-byte
// authentication tag.
func (e *gcmStreamEncrypter) finish() ([]byte, error) {
	if e.finished {
		return nil, fmt.Errorf("%w: encrypter already finished", bundleerr.ErrCryptoFail)
	}
	e.finished = true

	if e.ghashLen > 0 {
		var padded [blockSize]byte
		copy(padded[:], e.ghashBuf[:e.ghashLen])
		e.ghashRound(padded[:])
		e.ghashLen = 0
	}

	var lengths [blockSize]byte
	binary.BigEndian.PutUint64(lengths[0:8], 0) // no AAD
	binary.BigEndian.PutUint64(lengths[8:16], e.cipherLen*8)
	e.ghashRound(lengths[:])

	var tagMask [blockSize]byte
	e.block.Encrypt(tagMask[:], e.j0[:])

	tag := make([]byte, blockSize)
	for i := 0; i < blockSize; i++ {
		tag[i] = e.ghashY[i] ^ tagMask[i]
	}
	return tag, nil
}

// incr32 increments the low 32 bits of block as a big-endian counter,
// matching NIST SP 800-38D's inc32 (the upper 96 bits are untouched, so
// the counter wraps within its 32-bit field rather than carrying out).
func incr32(block *[blockSize]byte) {
	c := binary.BigEndian.Uint32(block[blockSize-4:])
	c++
	binary.BigEndian.PutUint32(block[blockSize-4:], c)
}

// gmul multiplies two 128-bit blocks in GF(2^128) under the reduction
// polynomial x^128 + x^7 + x^2 + x + 1, using the bit-reflected
// convention GCM defines (bit 0 of the block is the coefficient of x^0).
// This is the textbook "shift-and-conditionally-reduce" implementation
// from NIST SP 800-38D's reference algorithm.
func gmul(x, y [blockSize]byte) [blockSize]byte {
	var z, v [blockSize]byte
	v = y

	for i := 0; i < blockSize*8; i++ {
		bit := x[i/8] & (0x80 >> uint(i%8))
		if bit != 0 {
			for j := 0; j < blockSize; j++ {
				z[j] ^= v[j]
			}
		}

		lsbSet := v[blockSize-1]&1 != 0
		for j := blockSize - 1; j > 0; j-- {
			v[j] = (v[j] >> 1) | (v[j-1] << 7)
		}
		v[0] >>= 1
		if lsbSet {
			v[0] ^= 0xe1
		}
	}

	return z
}
