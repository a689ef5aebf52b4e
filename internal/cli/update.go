package cli

import (
	"fmt"

	"github.com/vburojevic/heirlock/internal/output"
)

// UpdateCmd shows how to upgrade heirlock
type UpdateCmd struct{}

// UpdateOutput is the NDJSON form of the update command
type UpdateOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Version       string `json:"current_version"`
	Commit        string `json:"commit"`
	GoInstall     string `json:"go_install"`
	ReleasesURL   string `json:"releases_url"`
}

const (
	goInstallCmd = "go install github.com/vburojevic/heirlock/cmd/heirlock@latest"
	releasesURL  = "https://github.com/vburojevic/heirlock/releases"
)

// Run executes the update command
func (c *UpdateCmd) Run(globals *Globals) error {
	if globals.Format == "ndjson" {
		return writeJSON(globals.Stdout, UpdateOutput{
			Type:          "update",
			SchemaVersion: output.SchemaVersion,
			Version:       Version,
			Commit:        Commit,
			GoInstall:     goInstallCmd,
			ReleasesURL:   releasesURL,
		})
	}
	fmt.Fprintf(globals.Stdout, "heirlock %s (%s)\n\n", Version, Commit)
	fmt.Fprintf(globals.Stdout, "Upgrade with:\n  %s\n\n", goInstallCmd)
	fmt.Fprintf(globals.Stdout, "Release notes:\n  %s\n", releasesURL)
	return nil
}
