package wire

import (
	"errors"

	jsoniter "github.com/json-iterator/go"
	"github.com/tinylib/msgp/msgp"
)

// Serializer is the pluggable codec the core is generic over (spec §1:
// "the core is generic over a serializer"). RxBuffer/parser and TxBuffer
// never interpret payload bytes except through this interface.
type Serializer interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// jsonSerializer is the default Serializer, backed by json-iterator for
// its drop-in encoding/json-compatible API at a fraction of the allocs.
type jsonSerializer struct{ api jsoniter.API }

// JSONSerializer is the module's default Serializer.
var JSONSerializer Serializer = jsonSerializer{api: jsoniter.ConfigCompatibleWithStandardLibrary}

func (jsonSerializer) Name() string { return "json" }

func (s jsonSerializer) Marshal(v any) ([]byte, error) { return s.api.Marshal(v) }

func (s jsonSerializer) Unmarshal(data []byte, v any) error { return s.api.Unmarshal(data, v) }

// msgpSerializer is an alternate compact binary Serializer, proving the
// core is serializer-generic rather than JSON-specific. It requires
// message types generated by msgp (msgp.Marshaler/msgp.Unmarshaler); types
// that don't implement those interfaces fail with ErrNotMsgpType.
type msgpSerializer struct{}

var MsgpSerializer Serializer = msgpSerializer{}

func (msgpSerializer) Name() string { return "msgp" }

var ErrNotMsgpType = errors.New("wire: value does not implement msgp.Marshaler/msgp.Unmarshaler")

func (msgpSerializer) Marshal(v any) ([]byte, error) {
	m, ok := v.(msgp.Marshaler)
	if !ok {
		return nil, ErrNotMsgpType
	}
	return m.MarshalMsg(nil)
}

func (msgpSerializer) Unmarshal(data []byte, v any) error {
	u, ok := v.(msgp.Unmarshaler)
	if !ok {
		return ErrNotMsgpType
	}
	_, err := u.UnmarshalMsg(data)
	return err
}
