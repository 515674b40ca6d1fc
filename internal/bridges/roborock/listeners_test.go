package roborock

import (
	"errors"
	"reflect"
	"testing"

	"github.com/nerrad567/gray-logic-roborock/internal/roborock/protocol"
)

func TestListenerChain_OrderAndPanicIsolation(t *testing.T) {
	var chain listenerChain[MessageListener]
	var calls []string

	chain.add(MessageListenerFunc(func(*protocol.ResponseMessage) { calls = append(calls, "first") }))
	chain.add(MessageListenerFunc(func(*protocol.ResponseMessage) { panic("boom") }))
	chain.add(MessageListenerFunc(func(*protocol.ResponseMessage) { calls = append(calls, "third") }))

	logger := &recordingLogger{}
	msg := &protocol.ResponseMessage{DUID: "d1"}
	chain.each(logger, "message", func(l MessageListener) { l.OnMessage(msg) })

	if want := []string{"first", "third"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if logger.count("listener panic") != 1 {
		t.Errorf("logged panics = %d, want 1", logger.count("listener panic"))
	}
}

func TestConnectionListenerFuncs(t *testing.T) {
	var events []string
	l := ConnectionListenerFuncs{
		Connected:    func(s string) { events = append(events, "up:"+s) },
		Disconnected: func(s string, _ error) { events = append(events, "down:"+s) },
	}

	l.OnConnected("cloud")
	l.OnDisconnected("cloud", nil)
	l.OnError("cloud", errors.New("ignored"))

	if want := []string{"up:cloud", "down:cloud"}; !reflect.DeepEqual(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}
