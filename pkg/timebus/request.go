package timebus

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/fluxorio/syncpool/pkg/core"
)

// DefaultRequestTimeout bounds Request when ctx has no deadline.
const DefaultRequestTimeout = 5 * time.Second

// Reply is the answer to one time request.
type Reply struct {
	Answer    string
	RequestID string
}

// Request sends query to subject and waits for the answer. The request ID is
// taken from ctx (core.WithRequestID) or generated.
func Request(ctx context.Context, nc *nats.Conn, subject, query string) (Reply, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}

	rid := core.GetRequestID(ctx)
	if rid == "" {
		rid = core.NewID()
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    []byte(query),
		Header:  nats.Header{},
	}
	msg.Header.Set(core.RequestIDHeader, rid)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return Reply{}, fmt.Errorf("time request %s on %s: %w", rid, subject, err)
	}

	reply := Reply{Answer: string(resp.Data), RequestID: rid}
	if resp.Header != nil {
		if got := resp.Header.Get(core.RequestIDHeader); got != "" {
			reply.RequestID = got
		}
	}
	return reply, nil
}
