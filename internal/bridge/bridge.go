// Package bridge is the in-process message bus between the host transport
// and the overlay. A single goroutine drains an unbounded mailbox and runs
// every handler, so handlers never race with each other.
//
// Events published on a topic before anyone subscribes to it are buffered
// and replayed, in order and exactly once, to the first subscriber. After
// that, events with no subscriber are dropped.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"perfhud/internal/workerutil"
)

// DefaultMaxPending bounds the per-topic buffer kept before the first
// subscriber arrives. The oldest event is dropped on overflow.
const DefaultMaxPending = 1024

// ErrChannelUnavailable is returned when a message cannot reach the other
// side: the bus is closed or the host is not connected.
var ErrChannelUnavailable = errors.New("bridge: channel unavailable")

// Topic names a channel.
type Topic string

const (
	// TopicTelemetry carries render.Sample values from the host.
	TopicTelemetry Topic = "telemetry"
	// TopicSettings carries the settings view pushed to the host.
	TopicSettings Topic = "settings"
	// TopicSettingsPatch carries host-originated settings changes.
	TopicSettingsPatch Topic = "settings:patch"
	// TopicShortcuts carries shortcut bindings in both directions.
	TopicShortcuts Topic = "shortcuts"
	// TopicShortcutStatus reports the host's global registration result.
	TopicShortcutStatus Topic = "shortcut-status"
	// TopicProcessSelect asks the host to track a process.
	TopicProcessSelect Topic = "process:select"
	// TopicToast carries notification toasts from the host.
	TopicToast Topic = "toast"
	// TopicShortcutTriggered reports a global shortcut press caught by the
	// host.
	TopicShortcutTriggered Topic = "shortcut:triggered"
	// TopicHostStatus reports host connects and disconnects.
	TopicHostStatus Topic = "host:status"
)

// Message is one published event. Seq increases by one per topic.
type Message struct {
	Topic   Topic
	Seq     uint64
	Payload any
}

// Handler receives messages on the bus goroutine.
type Handler func(Message)

// Options configures a Bus.
type Options struct {
	MaxPending int
}

type opKind int

const (
	opPublish opKind = iota
	opSubscribe
	opUnsubscribe
	opBarrier
)

type op struct {
	kind opKind
	msg  Message
	sub  *subscription
	done chan struct{}
	fn   func()
}

type subscription struct {
	id      uint64
	topic   Topic
	handler Handler
}

// Bus is the bridge actor. The zero value is not usable; call New.
type Bus struct {
	maxPending int

	mu      sync.Mutex
	cond    *sync.Cond
	mailbox []op
	closed  bool
	seq     map[Topic]uint64
	nextSub uint64

	// Owned by the loop goroutine.
	subs       map[Topic][]*subscription
	pending    map[Topic][]Message
	subscribed map[Topic]bool

	wg sync.WaitGroup
}

// New starts a bus.
func New(opts Options) *Bus {
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultMaxPending
	}
	b := &Bus{
		maxPending: opts.MaxPending,
		seq:        make(map[Topic]uint64),
		subs:       make(map[Topic][]*subscription),
		pending:    make(map[Topic][]Message),
		subscribed: make(map[Topic]bool),
	}
	b.cond = sync.NewCond(&b.mu)
	workerutil.RunWithPanicRecovery(context.Background(), "bridge-loop", &b.wg,
		func(context.Context) { b.loop() },
		workerutil.RecoveryOptions{IsShutdown: b.isClosed})
	return b
}

// Publish queues payload on topic. It never blocks on handlers.
func (b *Bus) Publish(topic Topic, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrChannelUnavailable
	}
	b.seq[topic]++
	b.mailbox = append(b.mailbox, op{
		kind: opPublish,
		msg:  Message{Topic: topic, Seq: b.seq[topic], Payload: payload},
	})
	b.cond.Signal()
	return nil
}

// Subscribe registers handler for topic and returns a function that removes
// it. The first subscriber of a topic receives every buffered event before
// any later one.
func (b *Bus) Subscribe(topic Topic, handler Handler) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrChannelUnavailable
	}
	b.nextSub++
	sub := &subscription{id: b.nextSub, topic: topic, handler: handler}
	b.mailbox = append(b.mailbox, op{kind: opSubscribe, sub: sub})
	b.cond.Signal()
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.enqueue(op{kind: opUnsubscribe, sub: sub}) })
	}, nil
}

// Sync blocks until every operation queued before it has been handled.
// Calling it from a handler deadlocks.
func (b *Bus) Sync() {
	done := make(chan struct{})
	if !b.enqueue(op{kind: opBarrier, done: done}) {
		return
	}
	<-done
}

// Close stops accepting operations, drains the mailbox and waits for the
// loop to exit. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	b.wg.Wait()
}

// Pending returns the number of buffered events on topic.
func (b *Bus) Pending(topic Topic) int {
	var n int
	done := make(chan struct{})
	if !b.enqueue(op{kind: opBarrier, done: done, fn: func() { n = len(b.pending[topic]) }}) {
		return 0
	}
	<-done
	return n
}

func (b *Bus) enqueue(o op) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.mailbox = append(b.mailbox, o)
	b.cond.Signal()
	return true
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bus) next() (op, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.mailbox) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.mailbox) == 0 {
		return op{}, false
	}
	o := b.mailbox[0]
	b.mailbox[0] = op{}
	b.mailbox = b.mailbox[1:]
	return o, true
}

func (b *Bus) loop() {
	for {
		o, ok := b.next()
		if !ok {
			return
		}
		switch o.kind {
		case opPublish:
			b.dispatch(o.msg)
		case opSubscribe:
			b.addSubscriber(o.sub)
		case opUnsubscribe:
			b.removeSubscriber(o.sub)
		case opBarrier:
			if o.fn != nil {
				o.fn()
			}
			close(o.done)
		}
	}
}

func (b *Bus) dispatch(msg Message) {
	subs := b.subs[msg.Topic]
	if len(subs) == 0 {
		if b.subscribed[msg.Topic] {
			slog.Debug("[DEBUG-BRIDGE] no subscriber, dropping", "topic", msg.Topic, "seq", msg.Seq)
			return
		}
		queue := append(b.pending[msg.Topic], msg)
		if len(queue) > b.maxPending {
			slog.Warn("[WARN-BRIDGE] pending buffer full, dropping oldest",
				"topic", msg.Topic, "dropped", queue[0].Seq)
			queue = queue[1:]
		}
		b.pending[msg.Topic] = queue
		return
	}
	for _, sub := range subs {
		b.call(sub, msg)
	}
}

func (b *Bus) addSubscriber(sub *subscription) {
	b.subs[sub.topic] = append(b.subs[sub.topic], sub)
	if b.subscribed[sub.topic] {
		return
	}
	b.subscribed[sub.topic] = true
	backlog := b.pending[sub.topic]
	delete(b.pending, sub.topic)
	if len(backlog) > 0 {
		slog.Debug("[DEBUG-BRIDGE] replaying buffered events", "topic", sub.topic, "count", len(backlog))
	}
	for _, msg := range backlog {
		b.call(sub, msg)
	}
}

func (b *Bus) removeSubscriber(sub *subscription) {
	subs := b.subs[sub.topic]
	for i, s := range subs {
		if s.id == sub.id {
			b.subs[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) call(sub *subscription, msg Message) {
	workerutil.Call("bridge-handler:"+string(msg.Topic), func() { sub.handler(msg) })
}
