package domain

import "time"

// EventType names something that happened inside the engine.
type EventType string

const (
	EventVectorizeCompleted EventType = "vectorize.completed"
	EventVectorizeFailed    EventType = "vectorize.failed"
	EventDocumentAdded      EventType = "document.added"
	EventDocumentFailed     EventType = "document.failed"
	EventDocumentRemoved    EventType = "document.removed"
	EventSearchCompleted    EventType = "search.completed"
	EventNamespaceCreated   EventType = "namespace.created"
	EventNamespaceDeleted   EventType = "namespace.deleted"
	EventNamespaceReindexed EventType = "namespace.reindexed"
)

// Event carries the fields observers care about. Unused fields are zero.
type Event struct {
	Type        EventType
	Namespace   string
	DocumentID  string
	Model       string
	Count       int
	CacheHits   int
	CacheMisses int
	Duration    time.Duration
	Err         error
}
