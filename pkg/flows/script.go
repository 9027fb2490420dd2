package flows

import (
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/thin-edge/tedge-core/pkg/errors"
)

// jsMessage is the wire shape passed to/from script handlers, matching the
// original's Message::json(): {topic, payload, timestamp}.
type jsMessage struct {
	Topic     string `json:"topic"`
	Payload   string `json:"payload"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

func toJSMessage(m Message) jsMessage {
	jm := jsMessage{Topic: m.Topic, Payload: m.Payload}
	if !m.Timestamp.IsZero() {
		ms := m.Timestamp.UnixMilli()
		jm.Timestamp = &ms
	}
	return jm
}

func fromJSMessage(jm jsMessage) Message {
	m := Message{Topic: jm.Topic, Payload: jm.Payload}
	if jm.Timestamp != nil {
		m.Timestamp = time.UnixMilli(*jm.Timestamp)
	}
	return m
}

// Script is one step's sandboxed goja runtime, exposing up to three
// handlers (spec §4.4): onMessage, onConfigUpdate, onInterval. Each Script
// owns its own goja.Runtime; goja.Runtime is not safe for concurrent use,
// so every call is serialized with a mutex (the engine calls steps of one
// flow sequentially anyway, but a script may also be shared/reloaded).
type Script struct {
	mu   sync.Mutex
	path string
	vm   *goja.Runtime

	hasOnMessage      bool
	hasOnConfigUpdate bool
	hasOnInterval     bool

	TickEverySeconds uint64
}

// LoadScript compiles source (the script file contents at path) into a
// fresh goja runtime and detects which handlers it defines.
func LoadScript(path, source string) (*Script, error) {
	vm := goja.New()
	// Expose jsMessage fields to scripts under their json names.
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if _, err := vm.RunString(source); err != nil {
		return nil, errors.Script("failed to load script "+path, err)
	}

	s := &Script{path: path, vm: vm}
	s.hasOnMessage = isCallable(vm, "onMessage")
	s.hasOnConfigUpdate = isCallable(vm, "onConfigUpdate")
	s.hasOnInterval = isCallable(vm, "onInterval")
	return s, nil
}

func isCallable(vm *goja.Runtime, name string) bool {
	v := vm.Get(name)
	if v == nil {
		return false
	}
	_, ok := goja.AssertFunction(v)
	return ok
}

// Path returns the script's source file path, used as its stats key.
func (s *Script) Path() string { return s.path }

// HasOnMessage reports whether the script defines onMessage (spec §4.4
// "Flow script with no 'onMessage' function" warning).
func (s *Script) HasOnMessage() bool { return s.hasOnMessage }

// HasOnConfigUpdate reports whether the script defines onConfigUpdate.
func (s *Script) HasOnConfigUpdate() bool { return s.hasOnConfigUpdate }

// HasOnInterval reports whether the script defines onInterval.
func (s *Script) HasOnInterval() bool { return s.hasOnInterval }

// OnMessage invokes the script's onMessage(timestamp, message) handler. A
// script without the handler passes the message through unchanged, the
// original's default for an absent onMessage.
func (s *Script) OnMessage(timestamp time.Time, msg Message) ([]Message, error) {
	if !s.hasOnMessage {
		return []Message{msg}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, _ := goja.AssertFunction(s.vm.Get("onMessage"))
	tsMs := timestamp.UnixMilli()
	res, err := fn(goja.Undefined(), s.vm.ToValue(tsMs), s.vm.ToValue(toJSMessage(msg)))
	if err != nil {
		return nil, errors.Script("onMessage failed in "+s.path, err)
	}
	return decodeMessages(s.vm, res)
}

// OnConfigUpdate invokes the script's onConfigUpdate(message) handler, if
// defined; a script without it silently ignores configuration updates.
func (s *Script) OnConfigUpdate(msg Message) error {
	if !s.hasOnConfigUpdate {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, _ := goja.AssertFunction(s.vm.Get("onConfigUpdate"))
	if _, err := fn(goja.Undefined(), s.vm.ToValue(toJSMessage(msg))); err != nil {
		return errors.Script("onConfigUpdate failed in "+s.path, err)
	}
	return nil
}

// OnInterval invokes the script's onInterval(timestamp) handler, if defined.
func (s *Script) OnInterval(timestamp time.Time) ([]Message, error) {
	if !s.hasOnInterval {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, _ := goja.AssertFunction(s.vm.Get("onInterval"))
	tsMs := timestamp.UnixMilli()
	res, err := fn(goja.Undefined(), s.vm.ToValue(tsMs))
	if err != nil {
		return nil, errors.Script("onInterval failed in "+s.path, err)
	}
	return decodeMessages(s.vm, res)
}

func decodeMessages(vm *goja.Runtime, res goja.Value) ([]Message, error) {
	if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
		return nil, nil
	}
	var raw []jsMessage
	if err := vm.ExportTo(res, &raw); err != nil {
		return nil, errors.Script("script returned a value that isn't a message array", err)
	}
	out := make([]Message, 0, len(raw))
	for _, jm := range raw {
		out = append(out, fromJSMessage(jm))
	}
	return out, nil
}
