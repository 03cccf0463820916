package ebpfclassifier

import (
	"errors"
	"os"
	"time"
)

func deadlineNow() time.Time {
	return time.Now()
}

func isDeadlineExceeded(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
