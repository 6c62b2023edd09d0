package port

import (
	"context"
	"time"

	"kb/internal/domain"
)

// TextSplitter cuts text into overlapping pieces.
type TextSplitter interface {
	Split(text string, chunkSize, chunkOverlap int) ([]Piece, error)
}

// Piece is one chunk of split text and its byte offsets in the source.
type Piece struct {
	Text  string
	Start int
	End   int
}

// DocumentTextProvider returns the plain text of a document. Format
// parsing lives behind this interface.
type DocumentTextProvider interface {
	GetText(ctx context.Context, path string) (string, error)
}

// NamespaceRepository persists namespace definitions.
type NamespaceRepository interface {
	SaveNamespace(ns domain.Namespace) error
	DeleteNamespace(id string) error
	LoadNamespaces() ([]domain.Namespace, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// EventPublisher receives engine events. Publish must not block for long.
type EventPublisher interface {
	Publish(ev domain.Event)
}
