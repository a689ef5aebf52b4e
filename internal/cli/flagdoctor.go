package cli

// validateOpenFlags centralizes flag and config checks for the open command.
func validateOpenFlags(globals *Globals, noUI, terminal bool) error {
	// the interactive monitor needs a terminal to draw on and to report focus
	if !noUI && !terminal {
		return outputErrorCommon(globals, codeInvalidFlags, "the lock monitor needs a terminal", "add --no-ui to stream lock events instead")
	}
	if globals != nil && globals.Config != nil {
		if err := globals.Config.Validate(); err != nil {
			return outputErrorCommon(globals, codeConfigError, err.Error(), "run 'heirlock config show' to inspect the effective configuration")
		}
	}
	return nil
}
