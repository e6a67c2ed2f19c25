package cfgedit

import "context"

// Document is a loaded configuration document. The session never patches a
// Document in place; it is replaced wholesale on publish and on reload.
type Document struct {
	ID      string
	Content string
	// VersionStamp identifies the saved revision. Its format is owned by the
	// DocumentService that issued it.
	VersionStamp string
}

// SaveRequest is a write of full document content guarded by the stamp the
// editor started from.
type SaveRequest struct {
	DocumentID string
	Content    string
	// BasedOn is the VersionStamp the content was edited from. An empty
	// BasedOn means the document must not exist yet.
	BasedOn string
	// Editor is the identity publishing the change, recorded where the
	// backend keeps history.
	Editor string
}

// DocumentService loads and saves versioned documents with optimistic
// concurrency.
type DocumentService interface {
	// Load returns the current revision of a document.
	// Returns an error wrapping ErrDocumentNotFound if it does not exist.
	Load(ctx context.Context, documentID string) (*Document, error)

	// Save stores new content if req.BasedOn matches the current stamp and
	// returns the new stamp. Returns an error wrapping ErrVersionConflict
	// when the stamp has moved.
	Save(ctx context.Context, req SaveRequest) (string, error)
}
