package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBroadcastUnavailable is a warning, never returned from Publish: the bus keeps
// working locally but other contexts stop hearing about changes.
var ErrBroadcastUnavailable = errors.New("broadcast unavailable; cross-context sync disabled")

// Transport moves messages between contexts sharing one application.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
	// Listen prepares delivery synchronously, then delivers messages from other
	// origins in the background until ctx is done or Close is called.
	Listen(ctx context.Context, origin string, deliver func(Message)) error
	Close() error
}

// Bus fans messages out to other contexts and to local watchers.
type Bus struct {
	origin    string
	transport Transport
	logger    *zap.Logger

	mu       sync.RWMutex
	subs     map[int]func(Message)
	watchers map[int]func(Message)
	nextID   int
	warning  error
	cancel   context.CancelFunc
	closed   bool
}

// New builds a bus over transport. A nil transport yields a degraded bus.
func New(transport Transport, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		origin:    uuid.NewString(),
		transport: transport,
		logger:    logger,
		subs:      make(map[int]func(Message)),
		watchers:  make(map[int]func(Message)),
	}
}

// Start begins listening for messages from other contexts. It never fails:
// a transport that cannot listen degrades the bus.
func (b *Bus) Start(ctx context.Context) {
	if b.transport == nil {
		b.degrade(nil)
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	if err := b.transport.Listen(ctx, b.origin, b.deliver); err != nil {
		cancel()
		b.degrade(err)
		return
	}
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	b.logger.Debug("broadcast listening", zap.String("transport", b.transport.Name()), zap.String("origin", b.origin))
}

func (b *Bus) degrade(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.warning != nil {
		return
	}
	if cause != nil {
		b.warning = fmt.Errorf("%w: %v", ErrBroadcastUnavailable, cause)
	} else {
		b.warning = ErrBroadcastUnavailable
	}
	b.logger.Warn("broadcast unavailable", zap.Error(b.warning))
}

// Available reports whether messages reach other contexts.
func (b *Bus) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.transport != nil && b.warning == nil && !b.closed
}

// Warning returns the degradation cause, or nil while the bus is healthy.
func (b *Bus) Warning() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.warning
}

// Origin identifies this context on the wire.
func (b *Bus) Origin() string { return b.origin }

// Publish notifies local watchers and sends msg to other contexts. Send
// failures are logged; callers never see them.
func (b *Bus) Publish(ctx context.Context, msg Message) {
	msg.Origin = b.origin
	for _, fn := range b.snapshot(true) {
		fn(msg)
	}
	if !b.Available() {
		return
	}
	if err := b.transport.Send(ctx, msg); err != nil {
		b.logger.Warn("broadcast send failed", zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

// Subscribe registers fn for messages arriving from other contexts.
func (b *Bus) Subscribe(fn func(Message)) (unsubscribe func()) {
	return b.register(false, fn)
}

// Watch registers fn for every message, local or remote. The dashboard server
// uses it to relay changes to browser tabs.
func (b *Bus) Watch(fn func(Message)) (unsubscribe func()) {
	return b.register(true, fn)
}

func (b *Bus) register(watch bool, fn func(Message)) func() {
	b.mu.Lock()
	set := b.subs
	if watch {
		set = b.watchers
	}
	id := b.nextID
	b.nextID++
	set[id] = fn
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(set, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) snapshot(watch bool) []func(Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set := b.subs
	if watch {
		set = b.watchers
	}
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Message), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, set[id])
	}
	return fns
}

func (b *Bus) deliver(msg Message) {
	if msg.Origin == b.origin {
		return
	}
	for _, fn := range b.snapshot(false) {
		fn(msg)
	}
	for _, fn := range b.snapshot(true) {
		fn(msg)
	}
}

// Close stops listening and drops every subscriber.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel := b.cancel
	b.subs = make(map[int]func(Message))
	b.watchers = make(map[int]func(Message))
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if b.transport != nil {
		return b.transport.Close()
	}
	return nil
}
