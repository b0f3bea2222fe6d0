package transport

import "agentstream/internal/frame"

// Handler receives a Connection's lifecycle and frame callbacks. All frame
// callbacks fire from the connection's reader goroutine in wire order.
type Handler interface {
	// OnOpen fires when the channel is established, including after a
	// successful reconnect.
	OnOpen()

	// OnFrame delivers one parsed frame.
	OnFrame(f frame.Frame)

	// OnMessageComplete fires when a boundary-marker status arrives,
	// telling the consumer the current logical block of content is
	// finished. Orthogonal to connection closure.
	OnMessageComplete(marker string)

	// OnStatusUpdate carries connection-level status text, e.g.
	// "Reconnecting... (2/3)".
	OnStatusUpdate(status string)

	// OnClose fires when the connection finishes from within: nil when the
	// stream completed normally ("event: end"), non-nil when the retry
	// budget was spent. It does NOT fire for an explicit Close by the
	// caller - the caller already knows.
	OnClose(err error)
}

// HandlerFuncs adapts free functions to the Handler interface. Nil fields
// are simply skipped, so a consumer implements only what it cares about.
type HandlerFuncs struct {
	Open            func()
	Frame           func(f frame.Frame)
	MessageComplete func(marker string)
	StatusUpdate    func(status string)
	Closed          func(err error)
}

var _ Handler = HandlerFuncs{}

func (h HandlerFuncs) OnOpen() {
	if h.Open != nil {
		h.Open()
	}
}

func (h HandlerFuncs) OnFrame(f frame.Frame) {
	if h.Frame != nil {
		h.Frame(f)
	}
}

func (h HandlerFuncs) OnMessageComplete(marker string) {
	if h.MessageComplete != nil {
		h.MessageComplete(marker)
	}
}

func (h HandlerFuncs) OnStatusUpdate(status string) {
	if h.StatusUpdate != nil {
		h.StatusUpdate(status)
	}
}

func (h HandlerFuncs) OnClose(err error) {
	if h.Closed != nil {
		h.Closed(err)
	}
}
