package hotkeys

import "fmt"

// virtualKeys maps canonical key tokens to Win32 virtual-key codes.
var virtualKeys = func() map[string]uint32 {
	m := map[string]uint32{
		"Backspace": 0x08,
		"Tab":       0x09,
		"Enter":     0x0D,
		"Space":     0x20,
		"PageUp":    0x21,
		"PageDown":  0x22,
		"End":       0x23,
		"Home":      0x24,
		"Left":      0x25,
		"Up":        0x26,
		"Right":     0x27,
		"Down":      0x28,
		"Insert":    0x2D,
		"Delete":    0x2E,
		"nummult":   0x6A,
		"numadd":    0x6B,
		"numsub":    0x6D,
		"numdec":    0x6E,
		"numdiv":    0x6F,
		";":         0xBA,
		"=":         0xBB,
		"Plus":      0xBB,
		",":         0xBC,
		"-":         0xBD,
		".":         0xBE,
		"/":         0xBF,
		"`":         0xC0,
		"[":         0xDB,
		"\\":        0xDC,
		"]":         0xDD,
		"'":         0xDE,
	}
	for c := 'A'; c <= 'Z'; c++ {
		m[string(c)] = uint32(c)
	}
	for d := '0'; d <= '9'; d++ {
		m[string(d)] = uint32(d)
		m["num"+string(d)] = 0x60 + uint32(d-'0')
	}
	for i := uint32(0); i < 24; i++ {
		m[fmt.Sprintf("F%d", i+1)] = 0x70 + i
	}
	return m
}()

// VirtualKey returns the Win32 virtual-key code for a binding's key token.
// Characters outside the fixed layout (e.g. non-Latin letters) have none.
func VirtualKey(token string) (uint32, bool) {
	vk, ok := virtualKeys[token]
	return vk, ok
}
