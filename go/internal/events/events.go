// Package events defines the change envelope published by the relay and
// consumed by the gateway.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event types carried by an Envelope.
const (
	EventTypeDocumentChanged = "DocumentChanged"
	EventTypeSnapshot        = "Snapshot"
)

// Envelope is the wire format of a change event.
type Envelope struct {
	EventID     string          `json:"eventId"`
	EventType   string          `json:"eventType"`
	DocumentKey string          `json:"documentKey"`
	Version     int64           `json:"version"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// DocumentChanged builds the event announcing version of the document at key.
// The event id is derived from key and version, so republishing the same
// version is recognised as a duplicate.
func DocumentChanged(key string, version int64, payload json.RawMessage, at time.Time) Envelope {
	return Envelope{
		EventID:     EventID(key, version),
		EventType:   EventTypeDocumentChanged,
		DocumentKey: key,
		Version:     version,
		Timestamp:   at.UTC(),
		Payload:     payload,
	}
}

// EventID identifies one version of a document.
func EventID(key string, version int64) string {
	return fmt.Sprintf("%s@%d", key, version)
}

// Subject maps a document key to a subject under prefix. Path separators
// become subject tokens: "committees/abc" -> "<prefix>.committees.abc".
func Subject(prefix, key string) string {
	return prefix + "." + strings.ReplaceAll(strings.Trim(key, "/"), "/", ".")
}

// KeyFromSubject reverses Subject.
func KeyFromSubject(prefix, subject string) (string, error) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok || rest == "" {
		return "", fmt.Errorf("subject %q is not under %q", subject, prefix)
	}
	return strings.ReplaceAll(rest, ".", "/"), nil
}

// CommitteeID returns the committee a document key belongs to.
func CommitteeID(key string) (string, bool) {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	if len(parts) < 2 || parts[0] != "committees" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
