package wire

import "github.com/sharprpc/sharprpc-go/cmn/cos"

// CallID is a stable, globally-unique identifier chosen by the initiator
// of a call, echoed in every message that relates to that call.
type CallID string

// NewCallID generates a fresh CallID, adapted from cos.GenUUID.
func NewCallID() CallID { return CallID(cos.GenUUID()) }

func (id CallID) Valid() bool { return len(id) > 0 && len(id) <= CallIDSize }

func (id CallID) String() string { return string(id) }
