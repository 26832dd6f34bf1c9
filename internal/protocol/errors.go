package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Interaction layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoTarget      = "E_NO_TARGET"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrNotHolding    = "E_NOT_HOLDING"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrBadRequest:      {},
	ErrNoTarget:        {},
	ErrInvalidTarget:   {},
	ErrNotHolding:      {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
