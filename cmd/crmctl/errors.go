package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/crmops/crmctl/internal/crmapi"
	"github.com/crmops/crmctl/internal/evoai"
	"github.com/crmops/crmctl/internal/evolution"
	"github.com/crmops/crmctl/internal/queue"
	"github.com/crmops/crmctl/internal/storage"
)

// exit is replaced in tests.
var exit = os.Exit

// FatalError writes an error message to stderr and exits with code 1.
// With --json the error is written as {"error": ...} instead.
func FatalError(format string, args ...interface{}) {
	err := fmt.Errorf(format, args...)
	if jsonOutput {
		outputJSONError(err, errorCode(err))
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	finishCommand(err)
	exit(1)
}

// FatalErrorWithHint writes an error message with a hint to stderr and exits.
func FatalErrorWithHint(message, hint string) {
	if jsonOutput {
		outputJSONError(errors.New(message), "")
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	finishCommand(errors.New(message))
	exit(1)
}

// WarnError writes a warning message to stderr and returns.
func WarnError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

// errorCode maps well-known sentinel errors to stable codes for --json output.
func errorCode(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, crmapi.ErrNotFound), errors.Is(err, evoai.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, crmapi.ErrUnauthorized), errors.Is(err, evolution.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, evolution.ErrInstanceNotFound):
		return "instance_not_found"
	case errors.Is(err, queue.ErrQueueNotFound):
		return "queue_not_found"
	case errors.Is(err, evoai.ErrSchema):
		return "schema"
	}
	return ""
}
