// Package input turns pose features into held or released game keys.
package input

import (
	"fmt"
	"strings"
)

// Key is one of the four logical game inputs.
type Key int

const (
	Left Key = iota
	Right
	Z
	A
)

// Keys lists every logical key in release order.
var Keys = []Key{Left, Right, Z, A}

func (k Key) String() string {
	switch k {
	case Left:
		return "LEFT"
	case Right:
		return "RIGHT"
	case Z:
		return "Z"
	case A:
		return "A"
	}
	return fmt.Sprintf("Key(%d)", int(k))
}

// MarshalText encodes the key by name.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a key name written by MarshalText.
func (k *Key) UnmarshalText(text []byte) error {
	key, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = key
	return nil
}

// ParseKey looks up a logical key by name, case-insensitively.
func ParseKey(name string) (Key, error) {
	for _, k := range Keys {
		if strings.EqualFold(name, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown key %q", name)
}

// axis groups mutually exclusive keys.
type axis int

const (
	steerAxis axis = iota
	actionAxis
)

func (k Key) axis() axis {
	if k == Left || k == Right {
		return steerAxis
	}
	return actionAxis
}

// State records which logical keys are currently held down.
// Left/Right and Z/A are never held at the same time.
type State struct {
	Left  bool `json:"left"`
	Right bool `json:"right"`
	Z     bool `json:"z"`
	A     bool `json:"a"`
}

// Held reports whether k is held.
func (s State) Held(k Key) bool {
	switch k {
	case Left:
		return s.Left
	case Right:
		return s.Right
	case Z:
		return s.Z
	case A:
		return s.A
	}
	return false
}

// With returns a copy of s with k set to held.
func (s State) With(k Key, held bool) State {
	switch k {
	case Left:
		s.Left = held
	case Right:
		s.Right = held
	case Z:
		s.Z = held
	case A:
		s.A = held
	}
	return s
}

// Any reports whether any key is held.
func (s State) Any() bool {
	return s.Left || s.Right || s.Z || s.A
}

func (s State) String() string {
	var held []Key
	for _, k := range Keys {
		if s.Held(k) {
			held = append(held, k)
		}
	}
	if len(held) == 0 {
		return "{}"
	}
	return fmt.Sprint(held)
}

// Transition is a single press or release to send to the OS.
type Transition struct {
	Key   Key  `json:"key"`
	Press bool `json:"press"`
}

func (t Transition) String() string {
	if t.Press {
		return fmt.Sprintf("press(%s)", t.Key)
	}
	return fmt.Sprintf("release(%s)", t.Key)
}

// Press is shorthand for a press transition.
func Press(k Key) Transition { return Transition{Key: k, Press: true} }

// Release is shorthand for a release transition.
func Release(k Key) Transition { return Transition{Key: k} }

// KeyNames maps logical keys to OS key names.
type KeyNames map[Key]string

// DefaultKeyNames binds the arrows for steering and Z/A for the action keys.
func DefaultKeyNames() KeyNames {
	return KeyNames{
		Left:  "left",
		Right: "right",
		Z:     "z",
		A:     "a",
	}
}

// Name returns the OS key name for k, falling back to the defaults.
func (n KeyNames) Name(k Key) string {
	if name, ok := n[k]; ok && name != "" {
		return name
	}
	return DefaultKeyNames()[k]
}
