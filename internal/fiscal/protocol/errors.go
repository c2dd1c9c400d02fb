package protocol

import (
	"errors"
	"fmt"
)

// Status sub-codes reported by the device. STE1 describes the device state,
// STE2 the outcome of the last command.
const (
	STE1OK                   byte = 0x30
	STE1OutOfPaper           byte = 0x31
	STE1OpenedFiscalReceipt  byte = 0x34
	STE1OpenedNonFiscal      byte = 0x36
	STE1PaymentNotClosed     byte = 0x37
	STE1WrongPassword        byte = 0x39
	STE1DailyReportRequired  byte = 0x3B
	STE2OK                   byte = 0x30
	STE2InvalidCommand       byte = 0x31
	STE2IllegalCommand       byte = 0x32
	STE2DailyReportNotZeroed byte = 0x33
	STE2SyntaxError          byte = 0x34
)

// ProtocolError is a non-zero result reported by the bridge or the device
type ProtocolError struct {
	Code    int
	Source  string
	Message string
	Details string
	STE1    byte
	STE2    byte
}

func (e *ProtocolError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "device rejected command"
	}
	return fmt.Sprintf("fiscal device error %d: %s (STE1=%02X STE2=%02X)", e.Code, msg, e.STE1, e.STE2)
}

// TransportError means the bridge could not be reached or answered garbage.
// The session must be dropped.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bridge %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err carries a device result code
func IsProtocolError(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr)
}

// IsTransportError reports whether err is a bridge transport failure
func IsTransportError(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}

// IsDayOpen reports whether the device refused a command because the fiscal
// day has uncommitted activity (open receipt or non-zeroed daily report).
func IsDayOpen(err error) bool {
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		return false
	}
	switch perr.STE2 {
	case STE2DailyReportNotZeroed:
		return true
	}
	switch perr.STE1 {
	case STE1OpenedFiscalReceipt, STE1OpenedNonFiscal, STE1PaymentNotClosed:
		return true
	}
	return false
}
