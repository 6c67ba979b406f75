package encryption

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"anyback-go/internal/anyback"
)

// testMagic starts every payload written by TestEncryptor.
var testMagic = []byte("ANYBENC1")

var errNotTestPayload = errors.New("not a test-encrypted payload")

// TestEncryptor is a deterministic stand-in for AgeEncryptor. Payloads are
// testMagic followed by the plaintext XORed with a keystream derived from
// the passphrase given to Setup. Before Setup the empty passphrase is used
// and Unlock accepts anything.
type TestEncryptor struct {
	passphrase string
	locked     bool
}

var _ anyback.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	e.locked = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	return mask(w, r, testKey(e.passphrase))
}

func (e *TestEncryptor) Unlock(passphrase string) (anyback.DecryptionContext, error) {
	if e.locked && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return &TestDecryptionContext{key: testKey(e.passphrase)}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

// TestDecryptionContext reverses TestEncryptor.Encrypt.
type TestDecryptionContext struct {
	key []byte
}

var _ anyback.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("%w: %v", errNotTestPayload, err)
	}
	if !bytes.Equal(header, testMagic) {
		return errNotTestPayload
	}
	key := c.key
	if key == nil {
		key = testKey("")
	}
	return mask(w, r, key)
}

func testKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte("anyback test key\x00" + passphrase))
	return sum[:]
}

// mask copies r to w, XORing every byte with the repeating key.
func mask(w io.Writer, r io.Reader, key []byte) error {
	buf := make([]byte, 32<<10)
	var off int
	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			buf[i] ^= key[(off+i)%len(key)]
		}
		off += n
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing payload: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading payload: %w", err)
		}
	}
}
