package soad

import "errors"

// Sentinel errors of the adaptor. Init, RequestOpen and RequestClose return
// ErrNotInitialized and ErrInvalidSoConID; callers should compare against
// these with errors.Is. The entry points that report a Result (IfTransmit,
// TpTransmit, CopyTxData, RxIndication, TcpAccepted) signal the conditions
// the remaining sentinels name with ResultNotOK and do not return them.
var (
	// ErrNotInitialized is returned when an entry point is called before
	// the adaptor has been configured with a Registry.
	ErrNotInitialized = errors.New("soad: not initialized")

	// ErrInvalidSoConID is returned for a SoConID outside the configured
	// connection table.
	ErrInvalidSoConID = errors.New("soad: invalid connection id")

	// ErrInvalidSoGrpID names a SoGrpID outside the configured group
	// table.
	ErrInvalidSoGrpID = errors.New("soad: invalid group id")

	// ErrInvalidPduID names a PDU id with no configured route.
	ErrInvalidPduID = errors.New("soad: invalid or unrouted pdu id")

	// ErrSoConNotOnline names a transmit attempted on a connection that
	// is not in StateOnline.
	ErrSoConNotOnline = errors.New("soad: connection not online")

	// ErrBufferTooSmall names a caller-supplied buffer that cannot hold
	// the PDU being segmented.
	ErrBufferTooSmall = errors.New("soad: destination buffer too small")

	// ErrTxInProgress names a transmit requested while a transmission is
	// already in flight on the same connection.
	ErrTxInProgress = errors.New("soad: transmission already in progress")

	// ErrNoSocket names an operation that requires a live transport
	// socket attempted on a connection holding none.
	ErrNoSocket = errors.New("soad: connection holds no socket")
)

// DevErrorKind classifies a development error reported through
// ErrorReporter, mirroring the Det_ReportError taxonomy the specification
// carries over from its AUTOSAR ancestry without requiring the full Det
// module.
type DevErrorKind uint8

const (
	// DevErrorNotInitialized: API called before configuration.
	DevErrorNotInitialized DevErrorKind = iota + 1

	// DevErrorInvalidArgument: a parameter failed a precondition check
	// (nil pointer, zero-length buffer where one is required, etc).
	DevErrorInvalidArgument

	// DevErrorInvalidSoConID: SoConID out of range.
	DevErrorInvalidSoConID

	// DevErrorInvalidSoGrpID: SoGrpID out of range.
	DevErrorInvalidSoGrpID

	// DevErrorInvalidPduID: PduID has no route.
	DevErrorInvalidPduID
)

// String returns the human-readable name of the error kind.
func (k DevErrorKind) String() string {
	switch k {
	case DevErrorNotInitialized:
		return "NotInitialized"
	case DevErrorInvalidArgument:
		return "InvalidArgument"
	case DevErrorInvalidSoConID:
		return "InvalidSoConID"
	case DevErrorInvalidSoGrpID:
		return "InvalidSoGrpID"
	case DevErrorInvalidPduID:
		return "InvalidPduID"
	default:
		return "Unknown"
	}
}

// ErrorReporter receives development errors: programming-contract
// violations detected at a call boundary rather than runtime conditions.
// A nil ErrorReporter is valid; the adaptor falls back to a no-op.
type ErrorReporter interface {
	ReportError(api string, kind DevErrorKind)
}

type noopErrorReporter struct{}

func (noopErrorReporter) ReportError(string, DevErrorKind) {}
