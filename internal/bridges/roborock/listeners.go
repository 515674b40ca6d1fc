package roborock

import (
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-roborock/internal/roborock/protocol"
)

// ConnectionListener observes transport lifecycle events. source names the
// client that raised the event ("cloud" or "local:<duid>").
type ConnectionListener interface {
	OnConnected(source string)
	OnDisconnected(source string, err error)
	OnError(source string, err error)
}

// MessageListener observes every decoded inbound message.
type MessageListener interface {
	OnMessage(msg *protocol.ResponseMessage)
}

// MessageListenerFunc adapts a function to MessageListener.
type MessageListenerFunc func(msg *protocol.ResponseMessage)

// OnMessage calls f(msg).
func (f MessageListenerFunc) OnMessage(msg *protocol.ResponseMessage) { f(msg) }

// ConnectionListenerFuncs adapts optional functions to ConnectionListener.
// Nil fields are ignored.
type ConnectionListenerFuncs struct {
	Connected    func(source string)
	Disconnected func(source string, err error)
	Error        func(source string, err error)
}

// OnConnected implements ConnectionListener.
func (f ConnectionListenerFuncs) OnConnected(source string) {
	if f.Connected != nil {
		f.Connected(source)
	}
}

// OnDisconnected implements ConnectionListener.
func (f ConnectionListenerFuncs) OnDisconnected(source string, err error) {
	if f.Disconnected != nil {
		f.Disconnected(source, err)
	}
}

// OnError implements ConnectionListener.
func (f ConnectionListenerFuncs) OnError(source string, err error) {
	if f.Error != nil {
		f.Error(source, err)
	}
}

// listenerChain is an ordered list of observers. Events are delivered in
// registration order; a panicking observer is logged and skipped.
type listenerChain[T any] struct {
	mu    sync.RWMutex
	items []T
}

func (c *listenerChain[T]) add(l T) {
	c.mu.Lock()
	c.items = append(c.items, l)
	c.mu.Unlock()
}

func (c *listenerChain[T]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// each calls fn for every observer. Observers registered during delivery
// receive the next event, not this one.
func (c *listenerChain[T]) each(logger Logger, event string, fn func(T)) {
	c.mu.RLock()
	items := make([]T, len(c.items))
	copy(items, c.items)
	c.mu.RUnlock()

	for i, l := range items {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("listener panic",
						"event", event,
						"listener", i,
						"error", fmt.Errorf("%v", r),
					)
				}
			}()
			fn(l)
		}()
	}
}
