package main

import (
	"encoding/json"
)

const (
	EventJoinDocument   = "join-document"
	EventLoadDocument   = "load-document"
	EventEditDocument   = "edit-document"
	EventDocumentUpdate = "document-update"
	EventLeaveDocument  = "leave-document"
	EventError          = "error"
)

type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinDocumentPayload struct {
	DocumentID string `json:"documentId"`
}

type LoadDocumentPayload struct {
	Content string `json:"content"`
}

type EditDocumentPayload struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
}

type DocumentUpdatePayload struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
	UserID     string `json:"userId"`
	Username   string `json:"username"`
}

type LeaveDocumentPayload struct {
	DocumentID string `json:"documentId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func newEvent(eventType string, payload any) Event {
	b, err := json.Marshal(payload)
	if err != nil {
		// Payload types are plain structs; marshaling them cannot fail.
		panic(err)
	}
	return Event{Type: eventType, Payload: b}
}
