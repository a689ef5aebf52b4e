package cli

import (
	"encoding/json"
	"io"

	"github.com/vburojevic/heirlock/internal/output"
)

// newEmitter picks the output format for event streams.
func newEmitter(globals *Globals) output.Emitter {
	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout)
	}
	return output.NewTextWriter(globals.Stdout)
}

func writeJSON(w io.Writer, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}
