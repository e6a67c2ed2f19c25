package draft

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"cfgedit/internal/cfgedit"
)

// EncryptedStore encrypts draft text before handing it to the wrapped
// store. Only Text is encrypted; keys and timestamps stay readable so
// drafts can be listed and expired without the passphrase.
type EncryptedStore struct {
	inner cfgedit.DraftStore
	enc   cfgedit.Encryptor
	dec   cfgedit.DecryptionContext
}

var _ cfgedit.DraftStore = (*EncryptedStore)(nil)

// NewEncryptedStore wraps inner. dec may be nil for a store that only
// writes; reads then fail.
func NewEncryptedStore(inner cfgedit.DraftStore, enc cfgedit.Encryptor, dec cfgedit.DecryptionContext) *EncryptedStore {
	return &EncryptedStore{inner: inner, enc: enc, dec: dec}
}

func (s *EncryptedStore) Put(ctx context.Context, d *cfgedit.Draft) error {
	var buf bytes.Buffer
	if err := s.enc.Encrypt(strings.NewReader(d.Text), &buf); err != nil {
		return fmt.Errorf("encrypting draft: %w", err)
	}
	sealed := *d
	sealed.Text = buf.String()
	return s.inner.Put(ctx, &sealed)
}

func (s *EncryptedStore) Get(ctx context.Context, documentID, identity string) (*cfgedit.Draft, error) {
	d, err := s.inner.Get(ctx, documentID, identity)
	if err != nil || d == nil {
		return d, err
	}
	if err := s.open(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *EncryptedStore) Delete(ctx context.Context, documentID, identity string) error {
	return s.inner.Delete(ctx, documentID, identity)
}

func (s *EncryptedStore) List(ctx context.Context, identity string) ([]*cfgedit.Draft, error) {
	all, err := s.inner.List(ctx, identity)
	if err != nil && !errors.Is(err, cfgedit.ErrDraftCorrupt) {
		return nil, err
	}
	corrupt := err
	out := all[:0]
	for _, d := range all {
		if err := s.open(d); err != nil {
			corrupt = err
			continue
		}
		out = append(out, d)
	}
	return out, corrupt
}

// Close closes the wrapped store if it can be closed.
func (s *EncryptedStore) Close() error {
	if c, ok := s.inner.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// open decrypts d.Text in place. Any failure is reported as corruption:
// the text was not written with this key pair.
func (s *EncryptedStore) open(d *cfgedit.Draft) error {
	if s.dec == nil {
		return fmt.Errorf("draft store is locked")
	}
	var buf bytes.Buffer
	if err := s.dec.Decrypt(strings.NewReader(d.Text), &buf); err != nil {
		return fmt.Errorf("draft %s: %w: %v", d.DocumentID, cfgedit.ErrDraftCorrupt, err)
	}
	d.Text = buf.String()
	return nil
}
