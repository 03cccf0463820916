package ebpfclassifier

import "errors"

// ErrShortRecord is returned when a ring buffer record is not exactly
// EventSize bytes; the caller drops it and logs at debug level.
var ErrShortRecord = errors.New("ebpfclassifier: short ring record")
