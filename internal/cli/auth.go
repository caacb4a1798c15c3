package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/pinvault/pinvault/internal/common"
	"github.com/pinvault/pinvault/internal/cryptox"
)

// Init creates a fresh vault: the PIN is prompted twice and the credential
// record is written. No session is opened; the user unlocks afterwards.
func (a *App) Init(ctx context.Context) error {
	pin, err := GetPin(a.out, "Choose a PIN (4-12 characters)")
	if err != nil {
		return err
	}
	defer cryptox.Zero(pin)
	confirm, err := GetPin(a.out, "Repeat the PIN")
	if err != nil {
		return err
	}
	defer cryptox.Zero(confirm)

	if !bytes.Equal(pin, confirm) {
		fmt.Fprintln(a.out, "PINs do not match.")
		return common.ErrInvalidPin
	}
	if err := a.vault.Initialize(ctx, pin); err != nil {
		a.printErr(err)
		return err
	}
	fmt.Fprintln(a.out, "Vault created. Use 'unlock' to open it.")
	return nil
}

// Unlock prompts for a PIN and opens a session. The output is identical for
// real and duress PINs; nothing here may hint at which vault opened.
func (a *App) Unlock(ctx context.Context) error {
	pin, err := GetPin(a.out, "PIN")
	if err != nil {
		return err
	}
	defer cryptox.Zero(pin)

	if _, err := a.vault.Unlock(ctx, pin); err != nil {
		a.printErr(err)
		return err
	}
	a.cwd = nil
	fmt.Fprintln(a.out, "Unlocked.")
	return nil
}

// Lock closes the active session.
func (a *App) Lock(ctx context.Context) error {
	if err := a.vault.Lock(); err != nil {
		a.printErr(err)
		return err
	}
	a.cwd = nil
	fmt.Fprintln(a.out, "Locked.")
	return nil
}

// SetDuress installs or replaces the duress PIN.
func (a *App) SetDuress(ctx context.Context) error {
	pin, err := GetPin(a.out, "Choose a duress PIN (4-12 characters)")
	if err != nil {
		return err
	}
	defer cryptox.Zero(pin)

	if err := a.vault.SetDuressPin(ctx, pin); err != nil {
		a.printErr(err)
		return err
	}
	fmt.Fprintln(a.out, "Duress PIN set.")
	return nil
}

// ChangePin re-keys the credential record under a new PIN.
func (a *App) ChangePin(ctx context.Context) error {
	oldPin, err := GetPin(a.out, "Current PIN")
	if err != nil {
		return err
	}
	defer cryptox.Zero(oldPin)
	newPin, err := GetPin(a.out, "New PIN (4-12 characters)")
	if err != nil {
		return err
	}
	defer cryptox.Zero(newPin)

	if err := a.vault.ChangePin(ctx, oldPin, newPin); err != nil {
		a.printErr(err)
		return err
	}
	fmt.Fprintln(a.out, "PIN changed.")
	return nil
}

// Reset destroys the whole vault after an explicit confirmation.
func (a *App) Reset(ctx context.Context) error {
	answer, err := GetSimpleText(a.reader, "Type 'destroy' to wipe the entire vault. This cannot be undone.", a.out)
	if err != nil {
		return err
	}
	if answer != "destroy" {
		fmt.Fprintln(a.out, "Reset cancelled.")
		return nil
	}
	if err := a.vault.Reset(ctx); err != nil {
		a.printErr(err)
		return err
	}
	a.cwd = nil
	fmt.Fprintln(a.out, "Vault destroyed.")
	return nil
}

// printErr maps engine errors to user-facing messages. Authentication
// problems collapse into one generic line regardless of cause.
func (a *App) printErr(err error) {
	switch {
	case errors.Is(err, common.ErrAuthenticationFailed):
		fmt.Fprintln(a.out, "Authentication failed.")
	case errors.Is(err, common.ErrRateLimited):
		fmt.Fprintln(a.out, "Too many attempts. Wait before trying again.")
	case errors.Is(err, common.ErrInvalidPin):
		fmt.Fprintln(a.out, "PIN not acceptable.")
	case errors.Is(err, common.ErrInvalidName):
		fmt.Fprintln(a.out, "Name not acceptable.")
	case errors.Is(err, common.ErrLocked):
		fmt.Fprintln(a.out, "Vault is locked.")
	case errors.Is(err, common.ErrNotFound):
		fmt.Fprintln(a.out, "No such item.")
	default:
		fmt.Fprintf(a.out, "Error: %v\n", err)
	}
}
