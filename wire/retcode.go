package wire

// RetCode is the single error-taxonomy enum every failure in this module
// surfaces through, per spec §7.
type RetCode int32

const (
	Ok RetCode = iota

	ProtocolViolation
	InvalidChannelState
	InvalidCredentials
	ChannelClosed
	ChannelClosedByOtherSide
	ConnectionShutdown
	ConnectionAbortedByPeer
	ConnectionTimeout
	LoginTimeout
	LogoutTimeout
	SecurityError
	SerializationError
	DeserializationError
	UnexpectedMessage
	OperationCanceled
	RequestFault
	RequestCrash
	MessageHandlerCrash
	EventHandlerCrash
	InitHandlerCrash
	StreamCompleted
	HostNotFound
	HostUnreachable
	ConnectionRefused
	OtherConnectionError
	OtherError
	UnknownError
)

var retCodeNames = [...]string{
	Ok:                       "Ok",
	ProtocolViolation:        "ProtocolViolation",
	InvalidChannelState:      "InvalidChannelState",
	InvalidCredentials:       "InvalidCredentials",
	ChannelClosed:            "ChannelClosed",
	ChannelClosedByOtherSide: "ChannelClosedByOtherSide",
	ConnectionShutdown:       "ConnectionShutdown",
	ConnectionAbortedByPeer:  "ConnectionAbortedByPeer",
	ConnectionTimeout:        "ConnectionTimeout",
	LoginTimeout:             "LoginTimeout",
	LogoutTimeout:            "LogoutTimeout",
	SecurityError:            "SecurityError",
	SerializationError:       "SerializationError",
	DeserializationError:     "DeserializationError",
	UnexpectedMessage:        "UnexpectedMessage",
	OperationCanceled:        "OperationCanceled",
	RequestFault:             "RequestFault",
	RequestCrash:             "RequestCrash",
	MessageHandlerCrash:      "MessageHandlerCrash",
	EventHandlerCrash:        "EventHandlerCrash",
	InitHandlerCrash:         "InitHandlerCrash",
	StreamCompleted:          "StreamCompleted",
	HostNotFound:             "HostNotFound",
	HostUnreachable:          "HostUnreachable",
	ConnectionRefused:        "ConnectionRefused",
	OtherConnectionError:     "OtherConnectionError",
	OtherError:               "OtherError",
	UnknownError:             "UnknownError",
}

func (c RetCode) String() string {
	if int(c) >= 0 && int(c) < len(retCodeNames) && retCodeNames[c] != "" {
		return retCodeNames[c]
	}
	return "Unknown"
}
