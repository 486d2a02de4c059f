// Package status defines the shared status-code taxonomy returned by every
// public operation in this module, mirroring the aistore convention of a
// small typed code plus string-rendering rather than ad hoc error values.
package status

import "fmt"

// Code is a non-exhaustive status taxonomy shared across adapter, endpoint,
// probe and tx-pipeline operations.
type Code int

const (
	Ok Code = iota
	Fatal
	NotEnoughMemory
	AllocationFailed
	InvalidHandle
	InvalidParameter
	NotConnected
	QueueFull
	SendFailed
	ArraySizeExceeded
	ProbePacketCrcError
	ProbePacketInvalidSize
	AdapterDuplicateEntry
	AncPacketInvalidSize
)

var names = [...]string{
	Ok:                     "Ok",
	Fatal:                  "Fatal",
	NotEnoughMemory:        "NotEnoughMemory",
	AllocationFailed:       "AllocationFailed",
	InvalidHandle:          "InvalidHandle",
	InvalidParameter:       "InvalidParameter",
	NotConnected:           "NotConnected",
	QueueFull:              "QueueFull",
	SendFailed:             "SendFailed",
	ArraySizeExceeded:      "ArraySizeExceeded",
	ProbePacketCrcError:    "ProbePacketCrcError",
	ProbePacketInvalidSize: "ProbePacketInvalidSize",
	AdapterDuplicateEntry:  "AdapterDuplicateEntry",
	AncPacketInvalidSize:   "AncPacketInvalidSize",
}

func (c Code) String() string {
	if int(c) < 0 || int(c) >= len(names) {
		return "Unknown"
	}
	return names[c]
}

func (c Code) IsOK() bool { return c == Ok }

// Error adapts a Code to the error interface so it can travel through
// standard error-wrapping chains (pkg/errors.Wrap, errors.Is) alongside
// Go-native errors raised elsewhere in the stack.
type Error struct {
	Code Code
	Msg  string
}

func New(c Code, format string, a ...any) *Error {
	if format == "" {
		return &Error{Code: c, Msg: c.String()}
	}
	return &Error{Code: c, Msg: fmt.Sprintf(format, a...)}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Msg
}

func Is(err error, c Code) bool {
	se, ok := err.(*Error)
	return ok && se.Code == c
}
