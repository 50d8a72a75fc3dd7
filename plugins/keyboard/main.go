// Package main provides the key injection plugin.
// It holds and releases single keys via AppleScript on macOS and xdotool elsewhere.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
)

// keyName limits key names to what can be passed into a script literal.
var keyName = regexp.MustCompile(`^[a-z0-9_]+$`)

// Request represents the input from the plugin executor.
type Request struct {
	Action string          `json:"action"`
	Config json.RawMessage `json:"config"`
	Params json.RawMessage `json:"params"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// KeyParams defines parameters for key_down and key_up.
type KeyParams struct {
	Key string `json:"key"`
}

// Config is the optional per-plugin configuration.
type Config struct {
	// Tool overrides the command used on non-macOS systems.
	Tool string `json:"tool"`
}

// appleChars maps names AppleScript cannot type literally to ASCII characters.
var appleChars = map[string]int{
	"left":  28,
	"right": 29,
	"up":    30,
	"down":  31,
}

// xdotoolNames maps key names to X keysyms.
var xdotoolNames = map[string]string{
	"left":  "Left",
	"right": "Right",
	"up":    "Up",
	"down":  "Down",
	"space": "space",
	"enter": "Return",
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	var down bool
	switch req.Action {
	case "key_down":
		down = true
	case "key_up":
	default:
		writeErrorResponse(fmt.Sprintf("unknown action: %s", req.Action))
		return
	}

	name, args, err := buildCommand(runtime.GOOS, req.Config, req.Params, down)
	if err != nil {
		writeErrorResponse(fmt.Sprintf("action %s failed: %v", req.Action, err))
		return
	}

	if err := run(name, args...); err != nil {
		writeErrorResponse(fmt.Sprintf("action %s failed: %v", req.Action, err))
		return
	}

	writeSuccessResponse()
}

// buildCommand returns the command line that presses or releases the key.
func buildCommand(goos string, config, params json.RawMessage, down bool) (string, []string, error) {
	var p KeyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return "", nil, fmt.Errorf("failed to parse params: %w", err)
	}
	key := strings.ToLower(strings.TrimSpace(p.Key))
	if key == "" {
		return "", nil, fmt.Errorf("key is required")
	}
	if !keyName.MatchString(key) {
		return "", nil, fmt.Errorf("invalid key name %q", p.Key)
	}

	var c Config
	if len(config) > 0 {
		if err := json.Unmarshal(config, &c); err != nil {
			return "", nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if goos == "darwin" && c.Tool == "" {
		return "osascript", []string{"-e", buildAppleScript(key, down)}, nil
	}

	tool := c.Tool
	if tool == "" {
		tool = "xdotool"
	}
	verb := "keyup"
	if down {
		verb = "keydown"
	}
	sym, ok := xdotoolNames[key]
	if !ok {
		sym = key
	}
	return tool, []string{verb, sym}, nil
}

// buildAppleScript generates a System Events key down or key up script.
func buildAppleScript(key string, down bool) string {
	verb := "key up"
	if down {
		verb = "key down"
	}
	if c, ok := appleChars[key]; ok {
		return fmt.Sprintf(`tell application "System Events" to %s (ASCII character %d)`, verb, c)
	}
	return fmt.Sprintf(`tell application "System Events" to %s "%s"`, verb, key)
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: errMsg})
}

// writeSuccessResponse writes a success response to stdout.
func writeSuccessResponse() {
	json.NewEncoder(os.Stdout).Encode(Response{Success: true})
}

func run(name string, args ...string) error {
	output, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
