// Package plugin discovers and runs out-of-process key injection plugins.
package plugin

import "encoding/json"

// Actions every key injection plugin must support.
const (
	ActionKeyDown = "key_down"
	ActionKeyUp   = "key_up"
)

// Manifest describes a plugin's metadata and capabilities.
type Manifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Executable   string          `json:"executable"`
	Actions      []string        `json:"actions"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
}

// Supports reports whether the manifest lists the action.
func (m Manifest) Supports(action string) bool {
	for _, a := range m.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Request is written to the plugin's stdin as a single JSON document.
type Request struct {
	Action string          `json:"action"`
	Config json.RawMessage `json:"config,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// KeyParams are the params of key_down and key_up requests.
type KeyParams struct {
	Key string `json:"key"`
}

// NewKeyRequest builds a key_down or key_up request for an OS key name.
func NewKeyRequest(action, key string, config json.RawMessage) (*Request, error) {
	params, err := json.Marshal(KeyParams{Key: key})
	if err != nil {
		return nil, err
	}
	return &Request{
		Action: action,
		Config: config,
		Params: params,
	}, nil
}

// Response is read from the plugin's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
