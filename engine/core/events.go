package core

import "sync"

// Scene event codes. Applications should use codes beyond MAX_EVENT_CODE.
type SystemEventCode int

const (
	// A scene object was seen for the first time or its topology changed.
	/* Context usage:
	 * handle = object handle
	 * key    = asset hash
	 */
	EVENT_CODE_OBJECT_BUILD SystemEventCode = 0x01

	// A scene object's vertices changed in place.
	/* Context usage:
	 * handle = object handle
	 * key    = asset hash
	 */
	EVENT_CODE_OBJECT_REFIT SystemEventCode = 0x02

	// A scene object was reclaimed by the garbage collector.
	/* Context usage:
	 * handle = object handle
	 * key    = asset hash
	 */
	EVENT_CODE_OBJECT_DESTROYED SystemEventCode = 0x03

	// An instance was absent this frame.
	/* Context usage:
	 * handle = instance handle
	 * key    = instance key
	 */
	EVENT_CODE_INSTANCE_REMOVED SystemEventCode = 0x04

	// An instance changed material, transform or visibility.
	/* Context usage:
	 * handle = instance handle
	 * key    = instance key
	 */
	EVENT_CODE_INSTANCE_UPDATED SystemEventCode = 0x05

	// An instance appeared this frame.
	/* Context usage:
	 * handle = instance handle
	 * key    = instance key
	 */
	EVENT_CODE_INSTANCE_ADDED SystemEventCode = 0x06

	// The configuration file was reloaded.
	EVENT_CODE_CONFIG_RELOADED SystemEventCode = 0x07

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

type EventContext struct {
	Frame  uint32
	Handle uint32
	Key    uint64
	Data   interface{}
}

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listenerInst interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus dispatches scene notifications synchronously on the firing goroutine.
type EventBus struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]*registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		registered: make(map[SystemEventCode][]*registeredEvent),
	}
}

/**
 * Register to listen for when events are sent with the provided code. Events with duplicate
 * listeners will not be registered again and will cause this to return false.
 * @param code The event code to listen for.
 * @param listener A listener instance. Can be nil, but only one nil listener per code is kept.
 * @param onEvent The callback invoked when the event code is fired.
 * @returns true if the event is successfully registered; otherwise false.
 */
func (b *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if onEvent == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	b.registered[code] = append(b.registered[code], &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

// Unregister removes listener from code. Returns false if it was not registered.
func (b *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.registered[code]
	for i, e := range events {
		if e.listener == listener {
			b.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * Fires an event to listeners of the given code. If an event handler returns
 * true, the event is considered handled and is not passed on to any more listeners.
 */
func (b *EventBus) Fire(code SystemEventCode, sender interface{}, context EventContext) bool {
	b.mu.RLock()
	events := make([]*registeredEvent, len(b.registered[code]))
	copy(events, b.registered[code])
	b.mu.RUnlock()

	for _, e := range events {
		if e.callback(code, sender, e.listener, context) {
			// Message has been handled, do not send to other listeners.
			return true
		}
	}
	return false
}

// Shutdown drops all registrations.
func (b *EventBus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered = make(map[SystemEventCode][]*registeredEvent)
}
