package hotkeys

import "fmt"

// physicalKeys maps KeyboardEvent.code values to canonical key tokens. The
// code names a physical key position, so the same key yields the same
// accelerator on QWERTY, AZERTY or any other layout.
var physicalKeys = func() map[string]string {
	m := map[string]string{
		"Enter":        "Enter",
		"NumpadEnter":  "Enter",
		"Space":        "Space",
		"Tab":          "Tab",
		"Backspace":    "Backspace",
		"Delete":       "Delete",
		"Insert":       "Insert",
		"Home":         "Home",
		"End":          "End",
		"PageUp":       "PageUp",
		"PageDown":     "PageDown",
		"ArrowUp":      "Up",
		"ArrowDown":    "Down",
		"ArrowLeft":    "Left",
		"ArrowRight":   "Right",
		"Minus":        "-",
		"Equal":        "=",
		"BracketLeft":  "[",
		"BracketRight": "]",
		"Backslash":    "\\",
		"Semicolon":    ";",
		"Quote":        "'",
		"Comma":        ",",
		"Period":       ".",
		"Slash":        "/",
		"Backquote":    "`",

		"NumpadAdd":      "numadd",
		"NumpadSubtract": "numsub",
		"NumpadMultiply": "nummult",
		"NumpadDivide":   "numdiv",
		"NumpadDecimal":  "numdec",
	}
	for c := 'A'; c <= 'Z'; c++ {
		m["Key"+string(c)] = string(c)
	}
	for d := '0'; d <= '9'; d++ {
		m["Digit"+string(d)] = string(d)
		m["Numpad"+string(d)] = "num" + string(d)
	}
	for i := 1; i <= 24; i++ {
		f := fmt.Sprintf("F%d", i)
		m[f] = f
	}
	return m
}()

// namedKeys maps KeyboardEvent.key values (and accepted accelerator aliases,
// upper-cased) to canonical tokens. Used when no physical mapping exists.
var namedKeys = map[string]string{
	"ENTER":      "Enter",
	"RETURN":     "Enter",
	"SPACE":      "Space",
	" ":          "Space",
	"SPACEBAR":   "Space",
	"TAB":        "Tab",
	"BACKSPACE":  "Backspace",
	"DELETE":     "Delete",
	"DEL":        "Delete",
	"INSERT":     "Insert",
	"HOME":       "Home",
	"END":        "End",
	"PAGEUP":     "PageUp",
	"PAGEDOWN":   "PageDown",
	"ARROWUP":    "Up",
	"ARROWDOWN":  "Down",
	"ARROWLEFT":  "Left",
	"ARROWRIGHT": "Right",
	"UP":         "Up",
	"DOWN":       "Down",
	"LEFT":       "Left",
	"RIGHT":      "Right",
	"PLUS":       "Plus",
	"+":          "Plus",
}

// modifierKeys are key codes and key values that only ever report a
// modifier press.
var modifierKeys = map[string]struct{}{
	"ControlLeft": {}, "ControlRight": {}, "Control": {},
	"ShiftLeft": {}, "ShiftRight": {}, "Shift": {},
	"AltLeft": {}, "AltRight": {}, "Alt": {}, "AltGraph": {},
	"MetaLeft": {}, "MetaRight": {}, "Meta": {},
	"OSLeft": {}, "OSRight": {}, "OS": {}, "Super": {}, "Hyper": {},
}

// reservedTokens cannot be bound: the OS or media stack owns them.
var reservedTokens = map[string]struct{}{
	"PrintScreen": {}, "ScrollLock": {}, "Pause": {}, "CapsLock": {}, "NumLock": {},
	"ContextMenu": {}, "Power": {}, "Sleep": {}, "WakeUp": {}, "Eject": {},
	"MediaPlayPause": {}, "MediaStop": {}, "MediaTrackNext": {}, "MediaTrackPrevious": {},
	"MediaSelect": {}, "AudioVolumeMute": {}, "AudioVolumeUp": {}, "AudioVolumeDown": {},
	"LaunchApp1": {}, "LaunchApp2": {}, "LaunchMail": {}, "LaunchMediaPlayer": {},
	"BrowserBack": {}, "BrowserForward": {}, "BrowserRefresh": {}, "BrowserHome": {},
	"BrowserSearch": {}, "BrowserFavorites": {}, "BrowserStop": {},
}

// keyLabels are display names for tokens whose canonical spelling is not
// what a user expects to read. Every value is unique and parses back to the
// same token (see labelAliases).
var keyLabels = map[string]string{
	"Plus":    "+",
	"numadd":  "Numpad +",
	"numsub":  "Numpad -",
	"nummult": "Numpad *",
	"numdiv":  "Numpad /",
	"numdec":  "Numpad .",
	"num0":    "Numpad 0",
	"num1":    "Numpad 1",
	"num2":    "Numpad 2",
	"num3":    "Numpad 3",
	"num4":    "Numpad 4",
	"num5":    "Numpad 5",
	"num6":    "Numpad 6",
	"num7":    "Numpad 7",
	"num8":    "Numpad 8",
	"num9":    "Numpad 9",
}

// labelAliases inverts keyLabels (upper-cased) for ParseAccelerator.
var labelAliases = func() map[string]string {
	m := make(map[string]string, len(keyLabels))
	for token, label := range keyLabels {
		m[upper(label)] = token
	}
	return m
}()

// knownTokens is the closed vocabulary of multi-character key tokens.
// Single printable characters are accepted separately.
var knownTokens = func() map[string]string {
	m := map[string]string{}
	for _, token := range physicalKeys {
		if len([]rune(token)) > 1 {
			m[upper(token)] = token
		}
	}
	for _, token := range namedKeys {
		if len([]rune(token)) > 1 {
			m[upper(token)] = token
		}
	}
	return m
}()

var modifierAliases = map[string]Modifier{
	"CTRL":             ModCtrl,
	"CONTROL":          ModCtrl,
	"CMDORCTRL":        ModCtrl,
	"COMMANDORCONTROL": ModCtrl,
	"ALT":              ModAlt,
	"OPTION":           ModAlt,
	"SHIFT":            ModShift,
	"WIN":              ModWin,
	"SUPER":            ModWin,
	"META":             ModWin,
	"CMD":              ModWin,
	"COMMAND":          ModWin,
}
