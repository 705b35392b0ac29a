package client

import "github.com/TritonDataCenter/node-fast-messages/event"

// Handlers is the set of callbacks a Client fires as its FSM moves through
// its lifecycle. A nil field is simply never called.
type Handlers struct {
	// OnConnect fires once, the first time the FSM enters connected.
	OnConnect func()
	// OnStart fires once, the first time the FSM enters started.ready.
	OnStart func()
	// OnMessage fires for every frame received in started.ready.
	OnMessage func(event.Event)
	// OnClose fires exactly once, on entering stopped via closing.
	OnClose func()
	// OnStateChanged fires on every state entry, named states included.
	OnStateChanged func(state string)
}

func (h Handlers) fireConnect() {
	if h.OnConnect != nil {
		h.OnConnect()
	}
}

func (h Handlers) fireStart() {
	if h.OnStart != nil {
		h.OnStart()
	}
}

func (h Handlers) fireMessage(e event.Event) {
	if h.OnMessage != nil {
		h.OnMessage(e)
	}
}

func (h Handlers) fireClose() {
	if h.OnClose != nil {
		h.OnClose()
	}
}

func (h Handlers) fireStateChanged(s string) {
	if h.OnStateChanged != nil {
		h.OnStateChanged(s)
	}
}
