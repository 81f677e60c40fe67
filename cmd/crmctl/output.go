package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/crmops/crmctl/internal/debug"
	"github.com/crmops/crmctl/internal/ui"
)

// outputJSON outputs data as pretty-printed JSON to stdout.
func outputJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		exit(1)
	}
}

// outputJSONError outputs an error as JSON to stderr and exits with code 1.
func outputJSONError(err error, code string) {
	errObj := map[string]string{"error": err.Error()}
	if code != "" {
		errObj["code"] = code
	}
	encoder := json.NewEncoder(os.Stderr)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(errObj)
	finishCommand(err)
	exit(1)
}

// newTable returns a tabwriter over stdout with a bold header row written.
func newTable(headers ...string) *tabwriter.Writer {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	writeRow(w, boldAll(headers)...)
	return w
}

func boldAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = ui.RenderBold(c)
	}
	return out
}

func writeRow(w io.Writer, cols ...string) {
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)
}

// printDryRunBanner announces that nothing will be written.
func printDryRunBanner() {
	if jsonOutput || debug.IsQuiet() {
		return
	}
	fmt.Println(color.YellowString("DRY RUN - no changes will be made (pass --apply to write)"))
	fmt.Println()
}

// printSuccess prints a green check line unless --quiet or --json.
func printSuccess(format string, args ...interface{}) {
	if jsonOutput || debug.IsQuiet() {
		return
	}
	fmt.Printf("%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
