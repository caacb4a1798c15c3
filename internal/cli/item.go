package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pinvault/pinvault/internal/common"
	"github.com/pinvault/pinvault/internal/cryptox"
	"github.com/pinvault/pinvault/internal/models"
)

// resolveChild finds a live item by display name in the current folder.
func (a *App) resolveChild(ctx context.Context, name string) (models.ItemSummary, error) {
	children, err := a.vault.ListChildren(ctx, a.cwdID())
	if err != nil {
		return models.ItemSummary{}, err
	}
	for _, c := range children {
		if c.Name == name {
			return c, nil
		}
	}
	return models.ItemSummary{}, common.ErrNotFound
}

// List prints the current folder's contents.
func (a *App) List(ctx context.Context) error {
	children, err := a.vault.ListChildren(ctx, a.cwdID())
	if err != nil {
		a.printErr(err)
		return err
	}
	if len(children) == 0 {
		fmt.Fprintln(a.out, "(empty)")
		return nil
	}
	for _, c := range children {
		fmt.Fprintf(a.out, "%-8s %s\n", c.Kind, c.Name)
	}
	return nil
}

// ChangeDir enters a folder, or goes up one level with "..".
func (a *App) ChangeDir(ctx context.Context, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(a.out, "Usage: cd <name|..>")
		return nil
	}
	if args[0] == ".." {
		if len(a.cwd) > 0 {
			a.cwd = a.cwd[:len(a.cwd)-1]
		}
		return nil
	}
	child, err := a.resolveChild(ctx, args[0])
	if err != nil {
		a.printErr(err)
		return err
	}
	if child.Kind != models.KindFolder {
		fmt.Fprintln(a.out, "Not a folder:", args[0])
		return nil
	}
	a.cwd = append(a.cwd, folderRef{id: child.ID, name: child.Name})
	return nil
}

// MakeDir creates a folder in the current folder.
func (a *App) MakeDir(ctx context.Context, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(a.out, "Usage: mkdir <name>")
		return nil
	}
	if _, err := a.vault.CreateFolder(ctx, a.cwdID(), args[0]); err != nil {
		a.printErr(err)
		return err
	}
	return nil
}

// AddNote prompts for a multi-line body and stores it as a note item.
func (a *App) AddNote(ctx context.Context, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(a.out, "Usage: note <name>")
		return nil
	}
	body, err := GetMultiline(a.reader, "Note text", a.out)
	if err != nil {
		return err
	}
	if _, err := a.vault.WriteNote(ctx, a.cwdID(), args[0], []byte(body)); err != nil {
		a.printErr(err)
		return err
	}
	return nil
}

// PutFile encrypts a local file into the vault under its base name (or the
// optional second argument). The plaintext on the local filesystem is left
// untouched; removing it is the user's decision.
func (a *App) PutFile(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(a.out, "Usage: put <path> [name]")
		return nil
	}
	name := filepath.Base(args[0])
	if len(args) == 2 {
		name = args[1]
	}

	f, err := os.Open(args[0])
	if err != nil {
		fmt.Fprintf(a.out, "Cannot open %s: %v\n", args[0], err)
		return err
	}
	defer f.Close()

	if _, err := a.vault.WriteFile(ctx, a.cwdID(), name, f); err != nil {
		a.printErr(err)
		return err
	}
	fmt.Fprintln(a.out, "Stored", name)
	return nil
}

// Show displays a note body or a file's decrypted content. File plaintext
// exists only in the in-memory view and is zeroed as soon as it has been
// printed; nothing is written to disk.
func (a *App) Show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(a.out, "Usage: show <name>")
		return nil
	}
	child, err := a.resolveChild(ctx, args[0])
	if err != nil {
		a.printErr(err)
		return err
	}

	switch child.Kind {
	case models.KindNote:
		body, err := a.vault.ReadNote(ctx, child.ID)
		if err != nil {
			a.printErr(err)
			return err
		}
		fmt.Fprintln(a.out, string(body))
		cryptox.Zero(body)
	case models.KindFile:
		view, err := a.vault.ReadFile(ctx, child.ID)
		if err != nil {
			a.printErr(err)
			return err
		}
		fmt.Fprintf(a.out, "--- %s (%d bytes) ---\n", child.Name, view.Len())
		a.out.Write(view.Bytes())
		fmt.Fprintln(a.out)
		a.vault.CloseView(view)
	default:
		fmt.Fprintln(a.out, "Folders have no content; use 'cd'.")
	}
	return nil
}

// Remove deletes an item; file payloads go through the secure wipe path.
func (a *App) Remove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(a.out, "Usage: rm <name>")
		return nil
	}
	child, err := a.resolveChild(ctx, args[0])
	if err != nil {
		a.printErr(err)
		return err
	}
	if child.Kind == models.KindFolder {
		has, err := a.vault.FolderHasChildren(ctx, child.ID)
		if err != nil {
			a.printErr(err)
			return err
		}
		if has {
			answer, err := GetSimpleText(a.reader,
				"Folder is not empty. Type 'yes' to delete it and everything inside.", a.out)
			if err != nil {
				return err
			}
			if answer != "yes" {
				fmt.Fprintln(a.out, "Delete cancelled.")
				return nil
			}
		}
	}
	if err := a.vault.DeleteItem(ctx, child.ID); err != nil {
		a.printErr(err)
		return err
	}
	return nil
}

// MoveItem moves an item into a sibling folder, up a level (".."), or to the
// vault root ("/").
func (a *App) MoveItem(ctx context.Context, args []string) error {
	if len(args) != 2 {
		fmt.Fprintln(a.out, "Usage: mv <name> <folder|..|/>")
		return nil
	}
	child, err := a.resolveChild(ctx, args[0])
	if err != nil {
		a.printErr(err)
		return err
	}

	var target string
	switch args[1] {
	case "/":
		target = ""
	case "..":
		if len(a.cwd) >= 2 {
			target = a.cwd[len(a.cwd)-2].id
		}
	default:
		dest, err := a.resolveChild(ctx, args[1])
		if err != nil {
			a.printErr(err)
			return err
		}
		target = dest.ID
	}

	if err := a.vault.Move(ctx, child.ID, target); err != nil {
		a.printErr(err)
		return err
	}
	return nil
}

// RenameItem changes an item's display name.
func (a *App) RenameItem(ctx context.Context, args []string) error {
	if len(args) != 2 {
		fmt.Fprintln(a.out, "Usage: rename <name> <newname>")
		return nil
	}
	child, err := a.resolveChild(ctx, args[0])
	if err != nil {
		a.printErr(err)
		return err
	}
	if err := a.vault.Rename(ctx, child.ID, args[1]); err != nil {
		a.printErr(err)
		return err
	}
	return nil
}
