package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isUnlocked() bool
	Init(ctx context.Context) error
	Unlock(ctx context.Context) error
	Lock(ctx context.Context) error
	List(ctx context.Context) error
	ChangeDir(ctx context.Context, args []string) error
	MakeDir(ctx context.Context, args []string) error
	AddNote(ctx context.Context, args []string) error
	PutFile(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	Remove(ctx context.Context, args []string) error
	MoveItem(ctx context.Context, args []string) error
	RenameItem(ctx context.Context, args []string) error
	SetDuress(ctx context.Context) error
	ChangePin(ctx context.Context) error
	Reset(ctx context.Context) error
}

// runREPL starts a simple read-eval-print loop for the vault CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Prompt & Commands
//
// The prompt shows the current status (from statusFn) and accepts commands:
//
//	Locked:
//	  - help           — show available commands
//	  - init           — create a new vault (first run)
//	  - unlock         — enter a PIN and open the vault
//	  - exit | quit    — leave the program
//
//	Unlocked:
//	  - help           — show available commands
//	  - ls             — list the current folder
//	  - cd <name|..>   — enter a folder or go back up
//	  - mkdir <name>   — create a folder
//	  - note <name>    — add a note (multi-line body prompt)
//	  - put <path>     — encrypt a local file into the vault
//	  - show <name>    — view a note or file in memory
//	  - rm <name>      — securely delete an item
//	  - mv <name> <folder|..|/>  — move an item
//	  - rename <name> <newname>  — rename an item
//	  - setduress      — set or replace the duress PIN
//	  - changepin      — change the vault PIN
//	  - reset          — destroy the entire vault
//	  - lock           — close the session
//	  - exit | quit    — leave the program
//
// Any errors returned by command handlers are ignored here; handlers print
// their own errors. This keeps the REPL loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("pv (%s)> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			if a.isUnlocked() {
				printlnFn("Available commands: ls, cd, mkdir, note, put, show, rm, mv, rename, setduress, changepin, reset, lock, exit")
			} else {
				printlnFn("Available commands: init, unlock, exit")
			}

		case "init":
			_ = a.Init(ctx)

		case "unlock":
			_ = a.Unlock(ctx)

		case "lock":
			_ = a.Lock(ctx)

		case "l", "ls", "list":
			_ = a.List(ctx)

		case "cd":
			_ = a.ChangeDir(ctx, args)

		case "mkdir":
			_ = a.MakeDir(ctx, args)

		case "note":
			_ = a.AddNote(ctx, args)

		case "put":
			_ = a.PutFile(ctx, args)

		case "show":
			_ = a.Show(ctx, args)

		case "rm":
			_ = a.Remove(ctx, args)

		case "mv":
			_ = a.MoveItem(ctx, args)

		case "rename":
			_ = a.RenameItem(ctx, args)

		case "setduress":
			_ = a.SetDuress(ctx)

		case "changepin":
			_ = a.ChangePin(ctx)

		case "reset":
			_ = a.Reset(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
