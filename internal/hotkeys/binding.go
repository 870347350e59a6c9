package hotkeys

import (
	"strings"
)

// Modifier is a modifier bitmask. Values match the Win32 MOD_* flags so a
// Binding can be handed to RegisterHotKey without translation.
type Modifier uint32

const (
	ModAlt   Modifier = 0x0001
	ModCtrl  Modifier = 0x0002
	ModShift Modifier = 0x0004
	ModWin   Modifier = 0x0008
)

// modifierOrder is the canonical ordering used when composing accelerators.
var modifierOrder = []Modifier{ModCtrl, ModAlt, ModShift, ModWin}

func (m Modifier) token() string {
	switch m {
	case ModCtrl:
		return "Ctrl"
	case ModAlt:
		return "Alt"
	case ModShift:
		return "Shift"
	case ModWin:
		return "Win"
	default:
		return ""
	}
}

// Binding is a validated modifier+key combination.
// Construct only via Encode or ParseAccelerator so the invariants hold:
// at least one modifier unless the key is F1-F12, and never a reserved key.
type Binding struct {
	modifiers Modifier
	key       string
}

// Modifiers returns the modifier bitmask.
func (b Binding) Modifiers() Modifier { return b.modifiers }

// Key returns the canonical key token (e.g. "A", "F5", "num1", "Plus").
func (b Binding) Key() string { return b.key }

// IsZero reports whether b is the zero Binding.
func (b Binding) IsZero() bool { return b.key == "" }

// Has reports whether mod is part of the binding.
func (b Binding) Has(mod Modifier) bool { return b.modifiers&mod != 0 }

// Accelerator returns the canonical accelerator string, modifiers first in
// Ctrl, Alt, Shift, Win order. Two bindings with the same modifier set and
// key always produce the same string.
func (b Binding) Accelerator() string {
	if b.IsZero() {
		return ""
	}
	parts := make([]string, 0, len(modifierOrder)+1)
	for _, mod := range modifierOrder {
		if b.Has(mod) {
			parts = append(parts, mod.token())
		}
	}
	parts = append(parts, b.key)
	return strings.Join(parts, "+")
}

// String implements fmt.Stringer.
func (b Binding) String() string { return b.Accelerator() }

// MarshalText encodes the binding as its accelerator string so that maps of
// bindings serialize as plain JSON objects.
func (b Binding) MarshalText() ([]byte, error) {
	return []byte(b.Accelerator()), nil
}

// UnmarshalText parses an accelerator or label.
func (b *Binding) UnmarshalText(text []byte) error {
	parsed, err := ParseAccelerator(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func newBinding(mods Modifier, key string) (Binding, error) {
	if _, reserved := reservedTokens[key]; reserved {
		return Binding{}, &ValidationError{Reason: ReasonReservedKey, Key: key}
	}
	if mods == 0 && !isUnmodifiedAllowed(key) {
		return Binding{}, &ValidationError{Reason: ReasonMissingModifier, Key: key}
	}
	return Binding{modifiers: mods, key: key}, nil
}

// isUnmodifiedAllowed reports whether key may be bound without modifiers.
// Only F1-F12 qualify; F13 and above behave like ordinary keys.
func isUnmodifiedAllowed(key string) bool {
	switch key {
	case "F1", "F2", "F3", "F4", "F5", "F6", "F7", "F8", "F9", "F10", "F11", "F12":
		return true
	}
	return false
}
