package encryption

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"cfgedit/internal/cfgedit"
)

// testArmor is the first line of every draft sealed by TestEncryptor.
const testArmor = "-----BEGIN CFGEDIT TEST SEAL-----"

// TestEncryptor seals drafts without keys: an armor line followed by the
// base64 of the text. Sealed drafts stay text, never match the plaintext
// and are reproducible, which is all the draft store tests need.
type TestEncryptor struct{}

var _ cfgedit.Encryptor = TestEncryptor{}

func NewTestEncryptor() TestEncryptor {
	return TestEncryptor{}
}

// Setup has no keys to create.
func (TestEncryptor) Setup(string) error { return nil }

func (TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.WriteString(w, testArmor+"\n"); err != nil {
		return fmt.Errorf("writing armor: %w", err)
	}
	enc := base64.NewEncoder(base64.StdEncoding, w)
	if _, err := io.Copy(enc, r); err != nil {
		return fmt.Errorf("sealing draft: %w", err)
	}
	return enc.Close()
}

// Unlock accepts any passphrase.
func (TestEncryptor) Unlock(string) (cfgedit.DecryptionContext, error) {
	return testOpener{}, nil
}

func (TestEncryptor) IsConfigured() bool { return true }

type testOpener struct{}

func (testOpener) Decrypt(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading armor: %w", err)
	}
	if strings.TrimSuffix(line, "\n") != testArmor {
		return fmt.Errorf("not a test seal: %q", strings.TrimSpace(line))
	}
	if _, err := io.Copy(w, base64.NewDecoder(base64.StdEncoding, br)); err != nil {
		return fmt.Errorf("opening draft: %w", err)
	}
	return nil
}
