package cli

import (
	"errors"
	"fmt"

	"github.com/vburojevic/heirlock/internal/domain"
	"github.com/vburojevic/heirlock/internal/output"
)

// Error codes for failures that have no domain code.
const (
	codeInvalidFlags  = "INVALID_FLAGS"
	codeConfigError   = "CONFIG_ERROR"
	codeStoreError    = "STORE_ERROR"
	codeMessaging     = "MESSAGING_ERROR"
	codeParticipant   = "PARTICIPANT_ERROR"
	codeInternalError = "INTERNAL_ERROR"
)

// outputErrorCommon normalizes error emission across commands, respecting
// ndjson vs text formats so scripts always get machine-readable failures.
func outputErrorCommon(globals *Globals, code, message string, hint ...string) error {
	if globals != nil && globals.Format == "ndjson" {
		output.NewNDJSONWriter(globals.Stdout).WriteError(code, message, hint...)
	} else if globals != nil {
		fmt.Fprintf(globals.Stderr, "Error [%s]: %s", code, message)
		if len(hint) > 0 && hint[0] != "" {
			fmt.Fprintf(globals.Stderr, " (hint: %s)", hint[0])
		}
		fmt.Fprintln(globals.Stderr)
	}
	return errors.New(message)
}

// outputDomainError renders a coded domain error with a matching hint.
func outputDomainError(globals *Globals, err error) error {
	code := domain.CodeOf(err)
	if code == "" {
		return outputErrorCommon(globals, codeInternalError, err.Error())
	}
	return outputErrorCommon(globals, string(code), err.Error(), hintFor(code))
}

func hintFor(code domain.ErrorCode) string {
	switch code {
	case domain.CodeInvalidResource:
		return "pass an absolute URL with an allowed scheme (see allowed_schemes)"
	case domain.CodeSpawnBlocked:
		return "check the spawner: is tmux installed, or does spawn_command stay running?"
	case domain.CodeAlreadyOpen:
		return "run 'heirlock status' and 'heirlock close' to release the existing session"
	}
	return ""
}
