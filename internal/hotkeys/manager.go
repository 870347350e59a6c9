package hotkeys

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBindingInUse is returned by Manager.Register when another registration
// already owns the same binding.
var ErrBindingInUse = errors.New("binding is already registered")

func validateRegistration(name string, binding Binding, onTrigger func()) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("registration name is required")
	}
	if binding.IsZero() {
		return errors.New("binding is required")
	}
	if onTrigger == nil {
		return errors.New("onTrigger callback is required")
	}
	return nil
}

// conflictingName returns the registration other than name that already
// uses binding, or "".
func conflictingName(active map[string]Binding, name string, binding Binding) string {
	for other, b := range active {
		if other != name && b == binding {
			return other
		}
	}
	return ""
}

func bindingInUseError(binding Binding, owner string) error {
	return fmt.Errorf("%w: %s is used by %s", ErrBindingInUse, binding.Accelerator(), owner)
}

func snapshotBindings(active map[string]Binding) map[string]string {
	out := make(map[string]string, len(active))
	for name, b := range active {
		out[name] = b.Accelerator()
	}
	return out
}
