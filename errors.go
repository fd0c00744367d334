package main

import "errors"

// Session-level failure taxonomy. Every one of these is reported to the
// offending connection as an "error" event; none of them terminates the
// server process.
var (
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrMissingDocumentID     = errors.New("missing documentId")
	ErrDocumentNotFound      = errors.New("document not found")
	ErrCacheUnavailable      = errors.New("cache unavailable")
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)
