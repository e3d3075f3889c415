package transport

import (
	"context"
	"time"

	"github.com/kyojunkeum/webtest/wire"
)

// Result is what one attempt produced. Status is nil when no status line was
// parsed; Err is set, and Failure classifies it, when the socket work failed.
type Result struct {
	Status  *Status
	Sent    int64
	Elapsed time.Duration
	Err     error
	Failure Failure
}

// Do runs one request attempt for spec: build, connect, send, optionally read
// the status line, close. The socket is closed on every path.
func Do(ctx context.Context, spec *wire.RequestSpec) Result {
	req, err := wire.Build(spec)
	if err != nil {
		return Result{Err: err, Failure: FailureOther}
	}
	defer req.Close()

	start := time.Now()
	conn, err := Dial(ctx, spec.Addr(), spec.ConnectTimeout, spec.ReadTimeout)
	if err != nil {
		return Result{Err: err, Failure: Classify(err)}
	}
	defer conn.Close()

	n, err := conn.Send(req)
	if err != nil {
		return Result{Sent: n, Err: err, Failure: Classify(err)}
	}

	res := Result{Sent: n}
	if spec.MinimalRead {
		res.Status = conn.ReadStatus()
	}
	res.Elapsed = time.Since(start)
	return res
}
