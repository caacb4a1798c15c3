// Package models defines the persisted vault entities. Display names and
// note bodies live in the database only as ciphertext; the plaintext view
// is assembled by the engine after sealing/opening fields.
package models

import "time"

// ItemKind discriminates the three vault item types.
type ItemKind int

const (
	KindFolder ItemKind = iota + 1
	KindFile
	KindNote
)

func (k ItemKind) String() string {
	switch k {
	case KindFolder:
		return "folder"
	case KindFile:
		return "file"
	case KindNote:
		return "note"
	default:
		return "unknown"
	}
}

// Item is a row of the items table. Name and note content are stored
// sealed (ciphertext + nonce pairs); BlobRef/FileSalt are set only for
// KindFile rows. ParentID is empty for items at the scope root.
//
// Deleted marks a tombstone: the row stays until its payload is securely
// wiped, and tombstoned items are never listed or served.
type Item struct {
	ID        string
	Scope     string
	Kind      ItemKind
	NameCT    []byte
	NameNonce []byte
	NoteCT    []byte
	NoteNonce []byte
	ParentID  string
	BlobRef   string
	FileSalt  []byte
	CreatedAt time.Time
	Deleted   bool
}

// ItemSummary is the decrypted listing view handed to callers.
type ItemSummary struct {
	ID        string
	Name      string
	Kind      ItemKind
	CreatedAt time.Time
}
