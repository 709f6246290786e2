package channel

import "github.com/sharprpc/sharprpc-go/wire"

// EventArgs is the payload handed to every lifecycle callback. Fault is
// only non-nil for OnFailedToConnect/OnClosing/OnClosed when the
// transition was caused by an error rather than a clean TryConnect/Close.
type EventArgs struct {
	ChannelID string
	Fault     *wire.Fault
}

// Events is one callback per lifecycle transition, set once at
// construction - spec.md §9's redesign flag ("a single callback per
// event" rather than a multi-subscriber delegate/event list).
type Events struct {
	OnOpening        func(EventArgs)
	OnClosing        func(EventArgs)
	OnClosed         func(EventArgs)
	OnFailedToConnect func(EventArgs)
}

func (e Events) fireOpening(args EventArgs) {
	if e.OnOpening != nil {
		e.OnOpening(args)
	}
}

func (e Events) fireClosing(args EventArgs) {
	if e.OnClosing != nil {
		e.OnClosing(args)
	}
}

func (e Events) fireClosed(args EventArgs) {
	if e.OnClosed != nil {
		e.OnClosed(args)
	}
}

func (e Events) fireFailedToConnect(args EventArgs) {
	if e.OnFailedToConnect != nil {
		e.OnFailedToConnect(args)
	}
}
