package hotkeys

// KeyEvent is a raw key press as reported by the webview
// (KeyboardEvent.code / KeyboardEvent.key plus modifier flags).
type KeyEvent struct {
	Code  string `json:"code"`
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrl"`
	Alt   bool   `json:"alt"`
	Shift bool   `json:"shift"`
	Meta  bool   `json:"meta"`
}

func (ev KeyEvent) modifiers() Modifier {
	var mods Modifier
	if ev.Ctrl {
		mods |= ModCtrl
	}
	if ev.Alt {
		mods |= ModAlt
	}
	if ev.Shift {
		mods |= ModShift
	}
	if ev.Meta {
		mods |= ModWin
	}
	return mods
}

func (ev KeyEvent) isEscape() bool {
	return ev.Code == "Escape" || ev.Key == "Escape" || ev.Key == "Esc"
}

func (ev KeyEvent) isModifierOnly() bool {
	if _, ok := modifierKeys[ev.Code]; ok {
		return true
	}
	if ev.Code == "" {
		_, ok := modifierKeys[ev.Key]
		return ok
	}
	return false
}

// Encode turns a key press into a Binding.
//
// Escape always returns ErrRecordingAborted. A bare modifier returns
// ErrModifierOnly. Reserved keys, unresolvable keys and keys that need a
// modifier but have none return a *ValidationError.
func Encode(ev KeyEvent) (Binding, error) {
	if ev.isEscape() {
		return Binding{}, ErrRecordingAborted
	}
	if ev.isModifierOnly() {
		return Binding{}, ErrModifierOnly
	}

	if reserved := reservedFor(ev); reserved != "" {
		return Binding{}, &ValidationError{Reason: ReasonReservedKey, Key: reserved}
	}

	key, ok := physicalKeys[ev.Code]
	if !ok {
		key, ok = resolveKeyToken(ev.Key)
	}
	if !ok {
		name := ev.Code
		if name == "" {
			name = ev.Key
		}
		return Binding{}, &ValidationError{Reason: ReasonUnknownKey, Key: name}
	}
	return newBinding(ev.modifiers(), key)
}

func reservedFor(ev KeyEvent) string {
	if _, ok := reservedTokens[ev.Code]; ok {
		return ev.Code
	}
	if _, ok := reservedTokens[ev.Key]; ok {
		return ev.Key
	}
	return ""
}
