//go:build windows

package hotkeys

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procRegisterHotKey     = user32.NewProc("RegisterHotKey")
	procUnregisterHotKey   = user32.NewProc("UnregisterHotKey")
	procGetMessageW        = user32.NewProc("GetMessageW")
	procPeekMessageW       = user32.NewProc("PeekMessageW")
	procPostThreadMessageW = user32.NewProc("PostThreadMessageW")
)

const (
	wmHotkey = 0x0312
	wmQuit   = 0x0012
	// wmWake (WM_APP+1) tells the loop thread that requests are queued.
	wmWake     = 0x8001
	pmNoRemove = 0x0000

	modNoRepeat uint32 = 0x4000

	// Application-defined hotkey IDs must stay below 0xC000.
	maxHotkeyID int32 = 0xBFFF

	loopStopTimeout = 2 * time.Second
)

var errLoopStopped = errors.New("hotkey message loop is not running")

// point mirrors the Win32 POINT struct.
type point struct {
	x int32
	y int32
}

// winMsg mirrors the Win32 MSG struct. Field order and sizes must match
// tagMSG on both 32-bit and 64-bit Windows.
type winMsg struct {
	hWnd     uintptr
	message  uint32
	wParam   uintptr
	lParam   uintptr
	time     uint32
	pt       point
	lPrivate uint32
}

type loopRequest struct {
	register  bool
	id        int32
	modifiers uint32
	vk        uint32
	onTrigger func()
	reply     chan error
}

// hotkeyLoop is the one OS thread that owns every registration of a
// Manager. WM_HOTKEY is delivered to the thread that called
// RegisterHotKey, so registration and dispatch both happen here.
type hotkeyLoop struct {
	threadID uint32
	requests chan loopRequest
	done     chan struct{}
}

func startHotkeyLoop() (*hotkeyLoop, error) {
	if err := user32.Load(); err != nil {
		return nil, fmt.Errorf("user32.dll is unavailable: %w", err)
	}
	l := &hotkeyLoop{requests: make(chan loopRequest, 4), done: make(chan struct{})}
	ready := make(chan struct{})
	go l.run(ready)
	<-ready
	return l, nil
}

func (l *hotkeyLoop) run(ready chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)

	l.threadID = windows.GetCurrentThreadId()
	// PeekMessageW creates the thread message queue so the first posted
	// wake is not lost.
	var qmsg winMsg
	procPeekMessageW.Call(uintptr(unsafe.Pointer(&qmsg)), 0, 0, 0, pmNoRemove)
	close(ready)

	callbacks := map[int32]func(){}
	defer func() {
		for id := range callbacks {
			if err := unregisterHotKey(id); err != nil {
				slog.Error("[ERROR-HOTKEY] unregisterHotKey on loop exit failed", "error", err, "hotkeyID", id)
			}
		}
	}()

	for {
		var msg winMsg
		ret, _, lastErr := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
		switch int32(ret) {
		case -1:
			slog.Warn("[WARN-HOTKEY] GetMessageW failed, stopping hotkey loop", "error", lastErr)
			return
		case 0:
			slog.Debug("[DEBUG-HOTKEY] hotkey loop received WM_QUIT")
			return
		}
		switch msg.message {
		case wmHotkey:
			if onTrigger, ok := callbacks[int32(msg.wParam)]; ok {
				go onTrigger()
			}
		case wmWake:
			l.drain(callbacks)
		}
	}
}

// drain runs every queued request on the loop thread.
func (l *hotkeyLoop) drain(callbacks map[int32]func()) {
	for {
		select {
		case req := <-l.requests:
			req.reply <- applyRequest(req, callbacks)
		default:
			return
		}
	}
}

func applyRequest(req loopRequest, callbacks map[int32]func()) error {
	if !req.register {
		if _, ok := callbacks[req.id]; !ok {
			return nil
		}
		delete(callbacks, req.id)
		return unregisterHotKey(req.id)
	}
	if err := registerHotKey(req.id, req.modifiers|modNoRepeat, req.vk); err != nil {
		return err
	}
	callbacks[req.id] = req.onTrigger
	return nil
}

// call hands req to the loop thread and waits for its result.
func (l *hotkeyLoop) call(req loopRequest) error {
	req.reply = make(chan error, 1)
	select {
	case l.requests <- req:
	case <-l.done:
		return errLoopStopped
	}
	if err := postThreadMessage(l.threadID, wmWake); err != nil {
		return fmt.Errorf("wake hotkey loop: %w", err)
	}
	select {
	case err := <-req.reply:
		return err
	case <-l.done:
		return errLoopStopped
	}
}

func (l *hotkeyLoop) stop() error {
	if err := postThreadMessage(l.threadID, wmQuit); err != nil {
		return fmt.Errorf("stop hotkey loop: %w", err)
	}
	timer := time.NewTimer(loopStopTimeout)
	defer timer.Stop()
	select {
	case <-l.done:
		return nil
	case <-timer.C:
		slog.Warn("[WARN-HOTKEY] hotkey loop stop timed out, thread may leak", "threadID", l.threadID)
		return fmt.Errorf("hotkey loop stop timed out after %s", loopStopTimeout)
	}
}

type registration struct {
	id      int32
	binding Binding
}

// Manager owns the global hotkey registrations of one process, keyed by a
// caller-chosen name (typically the shortcut action). The message loop
// thread starts with the first registration.
type Manager struct {
	mu     sync.Mutex
	loop   *hotkeyLoop
	nextID int32
	active map[string]registration
}

// NewManager creates a new hotkey manager.
func NewManager() *Manager {
	return &Manager{active: map[string]registration{}}
}

// Register binds onTrigger to binding under name, replacing any previous
// registration with the same name. onTrigger runs on its own goroutine.
func (m *Manager) Register(name string, binding Binding, onTrigger func()) error {
	if err := validateRegistration(name, binding, onTrigger); err != nil {
		return err
	}
	vk, ok := VirtualKey(binding.Key())
	if !ok {
		return fmt.Errorf("register hotkey %q: no virtual-key code for %q", binding.Accelerator(), binding.Key())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if owner := conflictingName(m.bindingsLocked(), name, binding); owner != "" {
		return bindingInUseError(binding, owner)
	}
	if m.loop == nil {
		loop, err := startHotkeyLoop()
		if err != nil {
			return err
		}
		m.loop = loop
	}
	if err := m.unregisterLocked(name); err != nil {
		return err
	}
	if m.nextID >= maxHotkeyID {
		return fmt.Errorf("register hotkey %q: hotkey ID range exhausted", binding.Accelerator())
	}
	m.nextID++
	id := m.nextID

	err := m.loop.call(loopRequest{
		register:  true,
		id:        id,
		modifiers: uint32(binding.Modifiers()),
		vk:        vk,
		onTrigger: onTrigger,
	})
	if err != nil {
		return fmt.Errorf("register hotkey %q: %w", binding.Accelerator(), err)
	}
	m.active[name] = registration{id: id, binding: binding}
	slog.Debug("[DEBUG-HOTKEY] registered", "name", name, "binding", binding.Accelerator(), "hotkeyID", id)
	return nil
}

// Unregister removes the registration with the given name, if any.
func (m *Manager) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unregisterLocked(name)
}

// Close removes every registration and stops the message loop.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loop == nil {
		return nil
	}
	clear(m.active)
	err := m.loop.stop()
	m.loop = nil
	return err
}

// Bindings returns the active accelerators keyed by registration name.
func (m *Manager) Bindings() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshotBindings(m.bindingsLocked())
}

func (m *Manager) bindingsLocked() map[string]Binding {
	out := make(map[string]Binding, len(m.active))
	for name, reg := range m.active {
		out[name] = reg.binding
	}
	return out
}

func (m *Manager) unregisterLocked(name string) error {
	reg, ok := m.active[name]
	if !ok {
		return nil
	}
	delete(m.active, name)
	if err := m.loop.call(loopRequest{id: reg.id}); err != nil {
		return fmt.Errorf("unregister hotkey %q: %w", reg.binding.Accelerator(), err)
	}
	slog.Debug("[DEBUG-HOTKEY] unregistered", "name", name, "hotkeyID", reg.id)
	return nil
}

func registerHotKey(id int32, modifiers, vk uint32) error {
	res, _, err := procRegisterHotKey.Call(0, uintptr(id), uintptr(modifiers), uintptr(vk))
	return win32Result("RegisterHotKey", res, err)
}

func unregisterHotKey(id int32) error {
	res, _, err := procUnregisterHotKey.Call(0, uintptr(id))
	return win32Result("UnregisterHotKey", res, err)
}

func postThreadMessage(threadID uint32, message uint32) error {
	if threadID == 0 {
		return errors.New("PostThreadMessageW: thread ID is 0")
	}
	res, _, err := procPostThreadMessageW.Call(uintptr(threadID), uintptr(message), 0, 0)
	return win32Result("PostThreadMessageW", res, err)
}

// win32Result maps a BOOL return and the captured last error to a Go error.
func win32Result(name string, res uintptr, err error) error {
	if res != 0 {
		return nil
	}
	if errors.Is(err, syscall.Errno(0)) {
		return fmt.Errorf("%s failed", name)
	}
	return fmt.Errorf("%s: %w", name, err)
}
