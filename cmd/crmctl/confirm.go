package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

var stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

// confirmApply asks before a destructive change. --yes skips the prompt; a
// non-interactive stdin without --yes is an error.
func confirmApply(title string) bool {
	if yesFlag {
		return true
	}
	if !stdinIsTerminal() {
		FatalErrorWithHint("refusing to write without confirmation", "Pass --yes to confirm non-interactively")
		return false
	}
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative("Apply").
				Negative("Cancel").
				Value(&ok),
		),
	).WithTheme(huh.ThemeDracula())
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(os.Stderr, "Cancelled.")
			return false
		}
		FatalError("confirmation form: %v", err)
		return false
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "Cancelled.")
	}
	return ok
}
