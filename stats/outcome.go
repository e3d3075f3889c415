package stats

import "time"

// Tag classifies one attempt.
type Tag int

const (
	TagSuccess Tag = iota
	TagClientBlock
	TagServerError
	TagOther
	TagTimeout
	TagReset
	TagNoResponse
	TagError
)

var tagLabels = [...]string{
	TagSuccess:     "SUCCESS",
	TagClientBlock: "BLOCK",
	TagServerError: "SERVER_ERR",
	TagOther:       "INFO",
	TagTimeout:     "TIMEOUT",
	TagReset:       "RESET",
	TagNoResponse:  "BLOCK",
	TagError:       "ERROR",
}

// Label is the bracketed log tag for t, without brackets.
func (t Tag) Label() string {
	if int(t) < len(tagLabels) {
		return tagLabels[t]
	}
	return "INFO"
}

func (t Tag) String() string {
	switch t {
	case TagSuccess:
		return "success"
	case TagClientBlock:
		return "client-block"
	case TagServerError:
		return "server-error"
	case TagTimeout:
		return "timeout"
	case TagReset:
		return "reset"
	case TagNoResponse:
		return "no-response"
	case TagError:
		return "error"
	default:
		return "other"
	}
}

// Outcome is the immutable result of one attempt as reported by a worker.
// Status is 0 when no status line was parsed; Timed is false when the attempt
// failed at the network level and Elapsed carries no sample. At is when the
// attempt finished; the zero value means the time it is recorded.
type Outcome struct {
	Tag     Tag
	Status  int
	Elapsed time.Duration
	Timed   bool
	Bytes   int64
	At      time.Time
}
