package cli

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// SchemaCmd prints JSON Schema for the NDJSON output types
type SchemaCmd struct {
	Type []string `short:"t" help:"Output types to include (lock,session_opened,session_closed,detection_debug,ready,status,error). Default: all"`
}

type jsonSchema map[string]interface{}

func prop(typ, desc string) jsonSchema {
	return jsonSchema{"type": typ, "description": desc}
}

func timestampProp(desc string) jsonSchema {
	return jsonSchema{"type": "string", "format": "date-time", "description": desc}
}

func enumProp(desc string, values ...string) jsonSchema {
	return jsonSchema{"type": "string", "enum": values, "description": desc}
}

// object builds an object schema whose type field is pinned to typeName.
func object(typeName, title string, required []string, props map[string]jsonSchema) jsonSchema {
	properties := jsonSchema{
		"type":          jsonSchema{"const": typeName},
		"schemaVersion": jsonSchema{"type": "integer", "const": 1},
	}
	for k, v := range props {
		properties[k] = v
	}
	return jsonSchema{
		"type":       "object",
		"title":      title,
		"required":   append([]string{"type", "schemaVersion"}, required...),
		"properties": properties,
	}
}

func outputSchemas() map[string]jsonSchema {
	sources := []string{"liveness", "heartbeat", "focus", "closing", "sibling", "safety-valve", "manual"}
	return map[string]jsonSchema{
		"lock": object("lock", "Lock change", []string{"locked", "timestamp"}, map[string]jsonSchema{
			"locked":       prop("boolean", "Whether the lock is held"),
			"reason":       prop("string", "Lock reason, external-session:<transaction>"),
			"held_seconds": prop("number", "How long the lock has been held"),
			"timestamp":    timestampProp("When the change was observed"),
		}),
		"session_opened": object("session_opened", "Session opened", []string{"session_id", "resource_locator", "timestamp"}, map[string]jsonSchema{
			"alert":            enumProp("Set when the session was restored from a record", "SESSION_RECOVERED"),
			"session_id":       prop("string", "Session id"),
			"transaction_id":   prop("string", "Owning transaction"),
			"resource_locator": prop("string", "Resource shown in the external session"),
			"timestamp":        timestampProp("When the session opened"),
		}),
		"session_closed": object("session_closed", "Session closed", []string{"session_id", "source", "timestamp"}, map[string]jsonSchema{
			"session_id":       prop("string", "Session id"),
			"source":           enumProp("Evidence source that closed the session", sources...),
			"duration_seconds": prop("number", "Seconds the session was open"),
			"timestamp":        timestampProp("When the close path ran"),
		}),
		"detection_debug": object("detection_debug", "Closure evidence decision", []string{"source", "confidence", "decision"}, map[string]jsonSchema{
			"session_id": prop("string", "Session the evidence is about"),
			"source":     enumProp("Evidence source", sources...),
			"confidence": enumProp("Evidence confidence", "low", "medium", "high"),
			"decision":   enumProp("What the reconciler did", "close", "ignore"),
			"ambiguous":  prop("boolean", "Set when the evidence contradicts a live handle"),
			"reason":     prop("string", "Why the decision was made"),
		}),
		"ready": object("ready", "Open command ready", []string{"session_id", "timestamp"}, map[string]jsonSchema{
			"session_id":      prop("string", "Session id"),
			"participant_url": prop("string", "Websocket URL participants dial"),
			"attach":          prop("string", "Command that attaches to the external session"),
			"timestamp":       timestampProp("When the host became ready"),
		}),
		"status": object("status", "Persisted record status", []string{"namespace", "path", "present", "recoverable"}, map[string]jsonSchema{
			"namespace":        prop("string", "Store namespace"),
			"path":             prop("string", "Record file path"),
			"present":          prop("boolean", "Whether a record exists"),
			"session_id":       prop("string", "Recorded session id"),
			"transaction_id":   prop("string", "Recorded transaction"),
			"resource_locator": prop("string", "Recorded resource"),
			"created_at":       timestampProp("When the record was written"),
			"age_seconds":      prop("number", "Record age"),
			"recoverable":      prop("boolean", "Whether a restart would restore the session"),
		}),
		"error": object("error", "Error", []string{"code", "message"}, map[string]jsonSchema{
			"code":    prop("string", "Error code, for example INVALID_RESOURCE or ALREADY_OPEN"),
			"message": prop("string", "Human readable message"),
			"hint":    prop("string", "Suggested next step"),
		}),
	}
}

// Run executes the schema command
func (c *SchemaCmd) Run(globals *Globals) error {
	schemas := outputSchemas()
	names := lo.Map(c.Type, func(t string, _ int) string { return strings.ToLower(strings.TrimSpace(t)) })
	if len(names) == 0 {
		names = lo.Keys(schemas)
		sort.Strings(names)
	}

	defs := jsonSchema{}
	for _, name := range names {
		if s, ok := schemas[name]; ok {
			defs[name] = s
		}
	}

	enc := json.NewEncoder(globals.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonSchema{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"title":       "heirlock output schemas",
		"description": "JSON Schema definitions for heirlock NDJSON output",
		"definitions": defs,
	})
}
