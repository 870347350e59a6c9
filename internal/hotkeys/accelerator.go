package hotkeys

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// labelSeparator joins label parts. It is distinct from the accelerator
// separator so that the "+" key stays unambiguous in both forms.
const labelSeparator = " + "

var reservedUpper = func() map[string]string {
	m := make(map[string]string, len(reservedTokens))
	for token := range reservedTokens {
		m[upper(token)] = token
	}
	return m
}()

func upper(s string) string { return strings.ToUpper(s) }

// Label returns the human-readable form of b, e.g. "Ctrl + Shift + Numpad 1".
// ParseAccelerator(Label(b)) == b for every valid binding.
func Label(b Binding) string {
	if b.IsZero() {
		return ""
	}
	parts := make([]string, 0, len(modifierOrder)+1)
	for _, mod := range modifierOrder {
		if b.Has(mod) {
			parts = append(parts, mod.token())
		}
	}
	parts = append(parts, keyLabel(b.key))
	return strings.Join(parts, labelSeparator)
}

func keyLabel(token string) string {
	if label, ok := keyLabels[token]; ok {
		return label
	}
	return token
}

// ParseAccelerator parses a canonical accelerator ("Ctrl+Shift+Plus"), the
// "++" shorthand ("Ctrl++") or a label produced by Label. Modifier order in
// the input does not matter.
func ParseAccelerator(spec string) (Binding, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return Binding{}, errors.New("accelerator is empty")
	}

	parts := splitAccelerator(raw)
	var mods Modifier
	for _, token := range parts[:len(parts)-1] {
		mod, ok := modifierAliases[upper(strings.TrimSpace(token))]
		if !ok {
			return Binding{}, &ValidationError{Reason: ReasonUnknownKey, Key: token}
		}
		mods |= mod
	}

	keyToken := strings.TrimSpace(parts[len(parts)-1])
	if reserved, ok := reservedUpper[upper(keyToken)]; ok {
		return Binding{}, &ValidationError{Reason: ReasonReservedKey, Key: reserved}
	}
	key, ok := resolveKeyToken(keyToken)
	if !ok {
		return Binding{}, &ValidationError{Reason: ReasonUnknownKey, Key: keyToken}
	}
	return newBinding(mods, key)
}

func splitAccelerator(raw string) []string {
	if strings.Contains(raw, labelSeparator) {
		return strings.Split(raw, labelSeparator)
	}
	if raw == "+" {
		return []string{"+"}
	}
	if strings.HasSuffix(raw, "++") {
		head := strings.Split(strings.TrimSuffix(raw, "++"), "+")
		return append(head, "+")
	}
	return strings.Split(raw, "+")
}

// resolveKeyToken maps a key spelling from an accelerator or label to its
// canonical token.
func resolveKeyToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	u := upper(token)
	if canonical, ok := labelAliases[u]; ok {
		return canonical, true
	}
	if canonical, ok := knownTokens[u]; ok {
		return canonical, true
	}
	if canonical, ok := namedKeys[u]; ok {
		return canonical, true
	}
	return characterToken(token)
}

// characterToken canonicalizes a single printable character. Letters are
// upper-cased so that Shift does not change the token.
func characterToken(value string) (string, bool) {
	if utf8.RuneCountInString(value) != 1 {
		return "", false
	}
	r, _ := utf8.DecodeRuneInString(value)
	switch {
	case r == '+':
		return "Plus", true
	case r == ' ':
		return "Space", true
	case unicode.IsLetter(r):
		return string(unicode.ToUpper(r)), true
	case unicode.IsPrint(r) && !unicode.IsSpace(r):
		return string(r), true
	}
	return "", false
}
