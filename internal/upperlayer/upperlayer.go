// Package upperlayer provides the reference upper-layer bindings the soad
// daemon plugs into named socket and PDU routes when no application-specific
// sink or source is embedded. It carries no protocol semantics of its own --
// real deployments are expected to supply their own soad.RxSink/soad.TxSource
// implementations and bind them by name in place of these.
package upperlayer

import (
	"log/slog"
	"math"

	"github.com/soad-project/soad/internal/soad"
)

// LoggingSink implements soad.RxSink by logging every delivery and
// accepting payloads of any size. It never rejects a connection's
// start-of-reception or delivery.
type LoggingSink struct {
	name   string
	logger *slog.Logger
}

// NewLoggingSink returns a LoggingSink identified by name in its log lines.
func NewLoggingSink(name string, logger *slog.Logger) *LoggingSink {
	return &LoggingSink{name: name, logger: logger}
}

var _ soad.RxSink = (*LoggingSink)(nil)

// StartOfReception advertises unlimited capacity and always succeeds.
func (s *LoggingSink) StartOfReception(pdu soad.PduID, _ soad.PduInfo, totalLen uint32) (uint32, soad.Result) {
	s.logger.Debug("rx route bound",
		slog.String("sink", s.name), slog.Uint64("pdu", uint64(pdu)), slog.Uint64("total_len", uint64(totalLen)))
	return math.MaxUint32, soad.ResultOK
}

// CopyRxData logs the payload on the real (non-probe) call and always
// reports unlimited remaining capacity.
func (s *LoggingSink) CopyRxData(pdu soad.PduID, info soad.PduInfo) (uint32, soad.Result) {
	if info.Data != nil {
		s.logger.Info("pdu received",
			slog.String("sink", s.name), slog.Uint64("pdu", uint64(pdu)), slog.Int("bytes", len(info.Data)))
	}
	return math.MaxUint32, soad.ResultOK
}

// RxIndication logs the end of a reception.
func (s *LoggingSink) RxIndication(pdu soad.PduID, result soad.Result) {
	s.logger.Debug("rx indication",
		slog.String("sink", s.name), slog.Uint64("pdu", uint64(pdu)), slog.Any("result", result))
}

// LoggingSource implements soad.TxSource with no outbound data of its own:
// every CopyTxData probe reports ResultBusy, so tp_transmit sessions bound
// to it never actually send anything (if_transmit sends the caller's data
// without consulting the source). It exists so a route
// naming an unimplemented source still resolves to a well-behaved value
// instead of failing Build.
type LoggingSource struct {
	name   string
	logger *slog.Logger
}

// NewLoggingSource returns a LoggingSource identified by name in its log
// lines.
func NewLoggingSource(name string, logger *slog.Logger) *LoggingSource {
	return &LoggingSource{name: name, logger: logger}
}

var _ soad.TxSource = (*LoggingSource)(nil)

// CopyTxData always reports no data ready.
func (s *LoggingSource) CopyTxData(pdu soad.PduID, _ soad.PduInfo, _ []byte) (uint32, soad.Result) {
	s.logger.Debug("tx probe, no data", slog.String("source", s.name), slog.Uint64("pdu", uint64(pdu)))
	return 0, soad.ResultBusy
}

// TxConfirmation logs the end of a transmission.
func (s *LoggingSource) TxConfirmation(pdu soad.PduID, result soad.Result) {
	s.logger.Debug("tx confirmation",
		slog.String("source", s.name), slog.Uint64("pdu", uint64(pdu)), slog.Any("result", result))
}
