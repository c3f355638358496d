package jmapcore

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidBlobID is returned when a string does not have the blob id shape.
var ErrInvalidBlobID = errors.New("jmapcore: invalid blob id")

const blobIDSentinel = 'G'

// blobIDLen is the printable length of a BlobID: one sentinel byte plus the
// 40 hex characters of a SHA-1 digest. (The distilled spec's "42 including
// terminator" describes the equivalent C buffer size, which also reserves a
// trailing NUL; Go strings carry no terminator, so the in-memory length here
// is 41 — see DESIGN.md.)
const blobIDLen = 41

// BlobID is a printable, content-addressed blob identifier: 'G' followed by
// the hex-encoded SHA-1 digest of the blob's bytes (spec §4.9).
type BlobID string

// NewBlobID computes the deterministic blob id for the given content.
func NewBlobID(content []byte) BlobID {
	sum := sha1.Sum(content)
	return BlobID(fmt.Sprintf("%c%s", blobIDSentinel, hex.EncodeToString(sum[:])))
}

// Valid reports whether id has the fixed-width blob-id shape.
func (id BlobID) Valid() bool {
	if len(id) != blobIDLen || id[0] != blobIDSentinel {
		return false
	}
	_, err := hex.DecodeString(string(id[1:]))
	return err == nil
}

// Digest returns the raw SHA-1 digest encoded in the blob id.
func (id BlobID) Digest() ([]byte, error) {
	if !id.Valid() {
		return nil, ErrInvalidBlobID
	}
	return hex.DecodeString(string(id[1:]))
}

const (
	emailIDLen  = 26
	threadIDLen = 18
)

// EmailID is a fixed-width identifier derived from a message's content GUID
// (spec §3 "identifiers are short, URL-safe, opaque strings").
type EmailID string

// NewEmailID derives a fixed-width email id from a message's content guid.
func NewEmailID(guid []byte) EmailID {
	sum := sha1.Sum(guid)
	return EmailID(hex.EncodeToString(sum[:])[:emailIDLen])
}

// Valid reports whether id has the fixed email-id width.
func (id EmailID) Valid() bool { return len(id) == emailIDLen }

// ThreadID is a fixed-width identifier derived from a thread's root message.
type ThreadID string

// NewThreadID derives a fixed-width thread id from a thread's grouping key.
func NewThreadID(key []byte) ThreadID {
	sum := sha1.Sum(key)
	return ThreadID(hex.EncodeToString(sum[:])[:threadIDLen])
}

// Valid reports whether id has the fixed thread-id width.
func (id ThreadID) Valid() bool { return len(id) == threadIDLen }

// StateToken is an opaque, per-type state string. Clients may compare two
// tokens only for equality (spec §3, §4.10); CmpState below is strictly an
// internal server operation over the underlying mod-sequence.
type StateToken string

// NewStateToken renders a mod-sequence as its opaque wire representation.
func NewStateToken(modseq uint64) StateToken {
	return StateToken(fmt.Sprintf("%d", modseq))
}

// Equal is the only comparison JMAP clients are entitled to perform on
// state tokens.
func (s StateToken) Equal(other StateToken) bool { return s == other }
