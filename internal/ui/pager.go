package ui

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"
)

// PagerOptions controls pager behavior
type PagerOptions struct {
	// NoPager disables the pager (--no-pager)
	NoPager bool
	Out     io.Writer
}

// IsTerminal reports whether stdout is a TTY.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func shouldUsePager(opts PagerOptions) bool {
	if opts.NoPager || os.Getenv("CRMCTL_NO_PAGER") != "" {
		return false
	}
	if opts.Out != nil && opts.Out != os.Stdout {
		return false
	}
	return IsTerminal()
}

// pagerCommand checks CRMCTL_PAGER, then PAGER, and defaults to "less".
func pagerCommand() string {
	if pager := os.Getenv("CRMCTL_PAGER"); pager != "" {
		return pager
	}
	if pager := os.Getenv("PAGER"); pager != "" {
		return pager
	}
	return "less"
}

func terminalHeight() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	_, height, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return height
}

// ToPager pipes content to a pager when stdout is a terminal and the content
// does not fit on one screen. Otherwise it prints directly.
func ToPager(content string, opts PagerOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if !shouldUsePager(opts) {
		_, err := fmt.Fprint(out, content)
		return err
	}
	if h := terminalHeight(); h > 0 && strings.Count(content, "\n") < h-1 {
		_, err := fmt.Fprint(out, content)
		return err
	}

	parts := strings.Fields(pagerCommand())
	if len(parts) == 0 {
		_, err := fmt.Fprint(out, content)
		return err
	}
	cmd := exec.Command(parts[0], parts[1:]...) // #nosec G204 - pager is user-configured
	cmd.Stdin = strings.NewReader(content)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if os.Getenv("LESS") == "" {
		// -R keeps ANSI colors, -F quits when the content fits, -X keeps the screen.
		cmd.Env = append(cmd.Env, "LESS=-RFX")
	}
	return cmd.Run()
}
