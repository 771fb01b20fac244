// Package watching implements the list-then-watch protocol against a
// Kubernetes-style API: newline-delimited event streams reassembled
// across chunk boundaries, resource-version checkpointing across
// reconnects, relisting when the server reports 410 Gone, and a
// freeze-aware outer loop that keeps the stream alive indefinitely.
package watching

import (
	"encoding/json"
	"errors"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// EventType classifies an Event.
type EventType string

const (
	// EventSynthetic marks events manufactured from the initial listing.
	// It never appears on the wire.
	EventSynthetic EventType = ""
	EventAdded     EventType = "ADDED"
	EventModified  EventType = "MODIFIED"
	EventDeleted   EventType = "DELETED"
	EventError     EventType = "ERROR"
)

// String returns the wire name, or "SYNTHETIC" for listing events.
func (t EventType) String() string {
	if t == EventSynthetic {
		return "SYNTHETIC"
	}

	return string(t)
}

// ErrMalformedEvent is returned when a complete line from the watch
// stream is not a JSON event envelope.
var ErrMalformedEvent = errors.New("watching: malformed watch event")

// errResourceExpired signals that the checkpoint is too old and the
// collection must be listed again.
var errResourceExpired = errors.New("watching: resource version expired")

// errDisconnected signals that the watch connection could not be opened.
var errDisconnected = errors.New("watching: watch connection failed")

// Event is one change notification. Object holds the resource document
// exactly as the server sent it.
type Event struct {
	Type   EventType       `json:"type"`
	Object json.RawMessage `json:"object"`
}

// Synthetic reports whether the event came from a listing rather than
// the watch stream.
func (e Event) Synthetic() bool {
	return e.Type == EventSynthetic
}

// Metadata decodes the object's metadata.
func (e Event) Metadata() (metav1.ObjectMeta, error) {
	var partial metav1.PartialObjectMetadata
	if err := json.Unmarshal(e.Object, &partial); err != nil {
		return metav1.ObjectMeta{}, fmt.Errorf("watching: decoding object metadata: %w", err)
	}

	return partial.ObjectMeta, nil
}

// resourceVersion returns metadata.resourceVersion, or "" when the
// object has none or cannot be decoded.
func (e Event) resourceVersion() string {
	meta, err := e.Metadata()
	if err != nil {
		return ""
	}

	return meta.ResourceVersion
}

// decodeEvent parses one line of the watch stream.
func decodeEvent(line []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	return ev, nil
}

// WatchError is a fatal ERROR event from the server. Status is nil when
// the payload could not be decoded; Raw always holds the payload.
type WatchError struct {
	Status *metav1.Status
	Raw    json.RawMessage
}

func (e *WatchError) Error() string {
	if e.Status == nil {
		return fmt.Sprintf("watching: malformed error event: %s", e.Raw)
	}

	return fmt.Sprintf("watching: error event (code %d, reason %q): %s",
		e.Status.Code, e.Status.Reason, e.Status.Message)
}

// newWatchError decodes an ERROR event payload.
func newWatchError(obj json.RawMessage) *WatchError {
	werr := &WatchError{Raw: obj}

	var status metav1.Status
	if err := json.Unmarshal(obj, &status); err == nil {
		werr.Status = &status
	}

	return werr
}
