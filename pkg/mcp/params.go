package mcp

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// CallParams are the params of tools/call.
type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ExecuteCommandArgs are the arguments of the execute-command tool.
type ExecuteCommandArgs struct {
	Command          string `json:"command"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
}

// HelloArgs are the arguments of the simple-hello tool.
type HelloArgs struct {
	Name string `json:"name,omitempty"`
}

func decodeCallParams(raw json.RawMessage) (CallParams, *RPCError) {
	var call CallParams
	if isEmptyJSON(raw) {
		return call, invalidParams("Missing required parameter: name")
	}
	if err := json.Unmarshal(raw, &call); err != nil {
		return call, invalidParams("Invalid params: %v", err)
	}
	if call.Name == "" {
		return call, invalidParams("Missing required parameter: name")
	}
	return call, nil
}

// decodeArguments checks raw against schema and then unmarshals it into out.
// A required property that is absent, null or a blank string is reported as
// missing; a property whose JSON type disagrees with the schema is invalid.
func decodeArguments(schema Schema, raw json.RawMessage, out any) *RPCError {
	if isEmptyJSON(raw) {
		raw = json.RawMessage("{}")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return invalidParams("Invalid params: arguments must be an object")
	}

	for _, name := range schema.Required {
		value, ok := fields[name]
		if !ok || isEmptyJSON(value) || isBlankString(value) {
			return invalidParams("Missing required parameter: %s", name)
		}
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value, ok := fields[name]
		if !ok || isEmptyJSON(value) {
			continue
		}
		if !matchesType(schema.Properties[name].Type, value) {
			return invalidParams("Invalid parameter: %s must be a %s", name, schema.Properties[name].Type)
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return invalidParams("Invalid params: %v", err)
	}
	return nil
}

func matchesType(want string, value json.RawMessage) bool {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 {
		return false
	}
	switch want {
	case "string":
		return trimmed[0] == '"'
	case "object":
		return trimmed[0] == '{'
	case "array":
		return trimmed[0] == '['
	case "boolean":
		return bytes.Equal(trimmed, []byte("true")) || bytes.Equal(trimmed, []byte("false"))
	case "number", "integer":
		return trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9')
	default:
		return true
	}
}

func isBlankString(raw json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	return strings.TrimSpace(s) == ""
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
