package loader

import (
	"github.com/kyojunkeum/webtest/stats"
	"github.com/kyojunkeum/webtest/transport"
)

// Classify maps a status code (0 when absent) and a transport failure to an
// outcome tag. A parsed status always wins over the failure kind.
func Classify(status int, failure transport.Failure) stats.Tag {
	if status != 0 {
		switch {
		case status >= 200 && status < 300:
			return stats.TagSuccess
		case status >= 400 && status < 500:
			return stats.TagClientBlock
		case status >= 500 && status < 600:
			return stats.TagServerError
		default:
			return stats.TagOther
		}
	}
	switch failure {
	case transport.FailureTimeout:
		return stats.TagTimeout
	case transport.FailureReset:
		return stats.TagReset
	case transport.FailureOther:
		return stats.TagError
	default:
		return stats.TagNoResponse
	}
}

// verdict is the human-readable reading of a tag for log lines.
func verdict(t stats.Tag) string {
	switch t {
	case stats.TagSuccess:
		return "success"
	case stats.TagClientBlock:
		return "blocked / client error"
	case stats.TagServerError:
		return "server error (or blocked by device)"
	case stats.TagTimeout:
		return "timeout, no answer from device/server, block likely"
	case stats.TagReset:
		return "connection reset during send, block likely"
	case stats.TagNoResponse:
		return "block suspected (no or short response)"
	case stats.TagError:
		return "unexpected error"
	default:
		return "other response"
	}
}
