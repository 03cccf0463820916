package tunnelctl

import (
	"strconv"
	"strings"
)

// ParseTransferLines is a pure function over the tabular form
// "peer\trx\ttx" retained for offline parsing/testing; runtime stats use
// TransferStats via the netlink device query instead, since the netlink
// path is roughly two orders of magnitude faster and is called on every
// idle tick.
//
// Lines with fewer than 3 tab-separated fields are skipped. Lines whose
// field 2 or 3 fails to parse as unsigned 64-bit are skipped. Extra
// trailing fields are ignored.
func ParseTransferLines(s string) (rx, tx uint64) {
	for _, line := range strings.Split(s, "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			continue
		}
		r, errR := strconv.ParseUint(fields[1], 10, 64)
		t, errT := strconv.ParseUint(fields[2], 10, 64)
		if errR != nil || errT != nil {
			continue
		}
		rx += r
		tx += t
	}
	return rx, tx
}
