package knowledge

import "errors"

var (
	// ErrNoSnapshot indicates no knowledge base has been persisted yet.
	ErrNoSnapshot = errors.New("no knowledge snapshot")

	// ErrPersistence indicates the snapshot could not be written.
	ErrPersistence = errors.New("knowledge base persistence failed")

	// ErrUnsupportedVersion indicates a snapshot written by a newer release.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
)
