package tree

// EventKind discriminates the typed events emitted during a turn.
type EventKind string

const (
	EventResponse  EventKind = "response"
	EventResult    EventKind = "result"
	EventRetrieval EventKind = "retrieval"
	EventStatus    EventKind = "status"
	EventError     EventKind = "error"
	EventCompleted EventKind = "completed"
)

// Event is one item in a turn's output stream. Exactly one completed event
// terminates every turn, success and failure alike.
type Event struct {
	Kind EventKind `json:"kind"`

	// response / status
	Text string `json:"text,omitempty"`

	// result
	Producer string                   `json:"producer,omitempty"`
	Name     string                   `json:"name,omitempty"`
	Objects  []map[string]interface{} `json:"objects,omitempty"`
	Metadata map[string]interface{}   `json:"metadata,omitempty"`

	// retrieval
	Collection string `json:"collection,omitempty"`
	Count      int    `json:"count,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ResponseEvent builds a response event.
func ResponseEvent(text string) Event { return Event{Kind: EventResponse, Text: text} }

// StatusEvent builds a status event.
func StatusEvent(text string) Event { return Event{Kind: EventStatus, Text: text} }

// ErrorEvent builds an error event.
func ErrorEvent(code, message string) Event {
	return Event{Kind: EventError, Code: code, Message: message}
}

// CompletedEvent builds the terminal event of a turn.
func CompletedEvent() Event { return Event{Kind: EventCompleted} }

// ResultEvent builds a result event carrying objects produced by a tool.
func ResultEvent(producer, name string, objects []map[string]interface{}, metadata map[string]interface{}) Event {
	return Event{Kind: EventResult, Producer: producer, Name: name, Objects: objects, Metadata: metadata}
}

// RetrievalEvent builds a retrieval notification event.
func RetrievalEvent(collection string, count int) Event {
	return Event{Kind: EventRetrieval, Collection: collection, Count: count}
}
