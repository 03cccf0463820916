package ebpfclassifier

import (
	"errors"
	"log/slog"

	"github.com/cilium/ebpf/ringbuf"
)

// Poll drains all pending ring buffer records without blocking, invoking fn
// for each successfully decoded TrafficEvent. It never blocks the caller's
// tick longer than a bounded drain: SetDeadline(time.Now()) on the
// underlying reader makes Read return immediately once the buffer is empty.
func (c *Classifier) Poll(log *slog.Logger, fn func(TrafficEvent)) error {
	if err := c.events.SetDeadline(deadlineNow()); err != nil {
		return err
	}
	for {
		record, err := c.events.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return err
			}
			if isDeadlineExceeded(err) {
				return nil
			}
			log.Debug("ring read error", "error", err)
			return nil
		}

		event, err := DecodeTrafficEvent(record.RawSample)
		if err != nil {
			log.Debug("dropping malformed ring record", "len", len(record.RawSample))
			continue
		}
		fn(event)
	}
}
