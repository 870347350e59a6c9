package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"perfhud/internal/hotkeys"
)

// EncodeShortcuts renders the shortcuts map as a JSON object of
// action -> accelerator.
func EncodeShortcuts(shortcuts map[Action]hotkeys.Binding) (string, error) {
	raw := make(map[Action]string, len(shortcuts))
	for action, b := range shortcuts {
		if b.IsZero() {
			continue
		}
		raw[action] = b.Accelerator()
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("encode shortcuts: %w", err)
	}
	return string(data), nil
}

// DecodeShortcuts parses a JSON shortcuts object. Entries that no longer
// parse (e.g. a key that became reserved) are skipped with a warning so
// one bad entry does not discard the rest. The result is normalized.
func DecodeShortcuts(data string) (map[Action]hotkeys.Binding, error) {
	var raw map[Action]string
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("decode shortcuts: %w", err)
	}
	parsed := make(map[Action]hotkeys.Binding, len(raw))
	for action, spec := range raw {
		b, err := hotkeys.ParseAccelerator(spec)
		if err != nil {
			slog.Warn("[WARN-SETTINGS] skipping invalid stored shortcut", "action", action, "accelerator", spec, "error", err)
			continue
		}
		parsed[action] = b
	}
	return NormalizeShortcuts(parsed), nil
}
