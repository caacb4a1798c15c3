// Package cli provides the interactive vault command-line client.
//
// It wires configuration, the vault engine, and an interactive REPL. Typical
// flow: open the engine (which arms the storage-presence kill switch), prompt
// for a PIN, and execute user commands against the unlocked session.
//
// Key features:
//   - Init / Unlock / Lock, duress PIN and PIN change
//   - Folder navigation: ls, cd, mkdir
//   - Items: note, put, show, rm, mv, rename
//   - Full vault reset
//
// The REPL is started via App.Root(ctx), which blocks until the user exits
// or the kill switch terminates the process.
// See App and runREPL for details.
package cli
