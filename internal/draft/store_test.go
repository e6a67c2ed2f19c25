package draft_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cfgedit/internal/cfgedit"
	"cfgedit/internal/config"
	"cfgedit/internal/draft"
	"cfgedit/internal/encryption"
	"cfgedit/internal/testutil"
)

var t0 = testutil.Epoch

func newDraft(doc, identity, text string, at time.Time) *cfgedit.Draft {
	return &cfgedit.Draft{DocumentID: doc, EditorIdentity: identity, Text: text, BasedOnVersionStamp: "v7", LastEditedAt: at}
}

// testStore exercises the DraftStore contract.
func testStore(t *testing.T, store cfgedit.DraftStore) {
	t.Helper()
	ctx := context.Background()

	if got, err := store.Get(ctx, "app.yaml", "alice"); err != nil || got != nil {
		t.Fatalf("Get() on empty store = %v, %v", got, err)
	}

	if err := store.Put(ctx, newDraft("app.yaml", "alice", "replicas: 2\n", t0)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, newDraft("app.yaml", "alice", "replicas: 3\n", t0.Add(time.Minute))); err != nil {
		t.Fatalf("Put() overwrite error = %v", err)
	}
	store.Put(ctx, newDraft("db.toml", "alice", "port = 5432\n", t0.Add(time.Hour)))
	store.Put(ctx, newDraft("app.yaml", "bob", "replicas: 9\n", t0))

	got, err := store.Get(ctx, "app.yaml", "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Text != "replicas: 3\n" || got.BasedOnVersionStamp != "v7" || !got.LastEditedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("Get() = %+v", got)
	}

	list, err := store.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].DocumentID != "db.toml" || list[1].DocumentID != "app.yaml" {
		t.Fatalf("List() = %+v", list)
	}
	if list[0].Text != "port = 5432\n" {
		t.Errorf("List() text = %q", list[0].Text)
	}

	if err := store.Delete(ctx, "app.yaml", "alice"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got, _ := store.Get(ctx, "app.yaml", "alice"); got != nil {
		t.Errorf("Get() after Delete() = %+v", got)
	}
	if got, _ := store.Get(ctx, "app.yaml", "bob"); got == nil || got.Text != "replicas: 9\n" {
		t.Errorf("Delete() removed another identity's draft: %+v", got)
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, draft.NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	testStore(t, testutil.NewTestDatabase(t).Drafts())
}

func TestEncryptedStore(t *testing.T) {
	enc := testutil.NewTestEncryptor()
	dec, _ := enc.Unlock("")
	testStore(t, draft.NewEncryptedStore(draft.NewMemoryStore(), enc, dec))
}

func TestEncryptedStore_Age(t *testing.T) {
	dir := t.TempDir()
	enc := encryption.NewAgeEncryptor(config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "cfgedit.pub"),
		PrivateKeyPath: filepath.Join(dir, "cfgedit.key"),
	})
	if err := enc.Setup("passphrase"); err != nil {
		t.Fatal(err)
	}
	dec, err := enc.Unlock("passphrase")
	if err != nil {
		t.Fatal(err)
	}

	inner := testutil.NewTestDatabase(t).Drafts()
	testStore(t, draft.NewEncryptedStore(inner, enc, dec))

	raw, err := inner.Get(context.Background(), "app.yaml", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(raw.Text, "replicas") {
		t.Errorf("stored draft text is not encrypted: %q", raw.Text)
	}
}

func TestEncryptedStore_PlaintextIsCorrupt(t *testing.T) {
	ctx := context.Background()
	inner := draft.NewMemoryStore()
	enc := testutil.NewTestEncryptor()
	dec, _ := enc.Unlock("")
	store := draft.NewEncryptedStore(inner, enc, dec)

	inner.Put(ctx, newDraft("plain.yaml", "alice", "not sealed", t0))
	store.Put(ctx, newDraft("sealed.yaml", "alice", "sealed", t0.Add(-time.Hour)))

	if _, err := store.Get(ctx, "plain.yaml", "alice"); !errors.Is(err, cfgedit.ErrDraftCorrupt) {
		t.Errorf("Get() error = %v, want ErrDraftCorrupt", err)
	}

	list, err := store.List(ctx, "alice")
	if !errors.Is(err, cfgedit.ErrDraftCorrupt) {
		t.Errorf("List() error = %v, want ErrDraftCorrupt", err)
	}
	if len(list) != 1 || list[0].Text != "sealed" {
		t.Errorf("List() = %+v, want the readable draft", list)
	}
}

func TestEncryptedStore_CorruptDraftIsDiscardedOnCheck(t *testing.T) {
	ctx := context.Background()
	inner := draft.NewMemoryStore()
	enc := testutil.NewTestEncryptor()
	dec, _ := enc.Unlock("")
	clock := testutil.FixedClock()
	mgr := cfgedit.NewDraftManager(draft.NewEncryptedStore(inner, enc, dec), clock, cfgedit.NewNopLogger(), time.Hour)

	inner.Put(ctx, newDraft("app.yaml", "alice", "garbage", clock.Now()))

	got, err := mgr.Check(ctx, "app.yaml", "alice")
	if err != nil || got != nil {
		t.Fatalf("Check() = %v, %v, want nil, nil", got, err)
	}
	if left, _ := inner.Get(ctx, "app.yaml", "alice"); left != nil {
		t.Error("corrupt draft was not deleted")
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	enc := testutil.NewTestEncryptor()
	dec, _ := enc.Unlock("")

	tests := []struct {
		name    string
		cfg     config.DraftsConfig
		enc     cfgedit.Encryptor
		wantErr bool
	}{
		{"memory", config.DraftsConfig{Type: "memory"}, nil, false},
		{"sqlite", config.DraftsConfig{Type: "sqlite", DataDir: t.TempDir()}, nil, false},
		{"encrypted sqlite", config.DraftsConfig{Type: "sqlite", DataDir: t.TempDir(), Encrypted: true}, enc, false},
		{"encrypted without encryptor", config.DraftsConfig{Type: "memory", Encrypted: true}, nil, true},
		{"sqlite without data_dir", config.DraftsConfig{Type: "sqlite"}, nil, true},
		{"unknown", config.DraftsConfig{Type: "redis"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := draft.NewStoreFromConfig(tt.cfg, tt.enc, dec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer got.Close()
			testStore(t, got)
		})
	}
}
