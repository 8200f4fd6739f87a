package did

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/pilacorp/go-substrate-did-sdk/rpc"
)

// ErrInclusionTimeout is returned when no terminal status arrived in time.
var ErrInclusionTimeout = errors.New("timed out waiting for inclusion")

// statusResolver turns a stream of status updates into exactly one outcome.
// Updates observed after the outcome are ignored.
type statusResolver struct {
	logger hclog.Logger

	once   sync.Once
	done   chan struct{}
	status ExtrinsicStatus
	err    error
}

func newStatusResolver(logger hclog.Logger) *statusResolver {
	return &statusResolver{
		logger: logger,
		done:   make(chan struct{}),
	}
}

// observe feeds one update and reports whether the submission is resolved.
func (r *statusResolver) observe(status ExtrinsicStatus) bool {
	select {
	case <-r.done:
		r.logger.Debug("ignoring update after resolution", "status", status.Kind)
		return true
	default:
	}

	switch {
	case status.Included():
		r.resolve(status, nil)
	case status.Rejected():
		r.resolve(status, &ChainRejectionError{Status: status})
	default:
		r.logger.Debug("extrinsic status", "status", status.Kind, "hash", status.Hash)
	}

	return r.resolved()
}

func (r *statusResolver) fail(err error) {
	r.resolve(ExtrinsicStatus{}, err)
}

func (r *statusResolver) resolve(status ExtrinsicStatus, err error) {
	r.once.Do(func() {
		r.status = status
		r.err = err
		close(r.done)
	})
}

func (r *statusResolver) resolved() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// result blocks until the submission is resolved.
func (r *statusResolver) result() (ExtrinsicStatus, error) {
	<-r.done

	return r.status, r.err
}

// watch feeds the updates of sub into r until it resolves, the connection
// fails or ctx ends.
func (r *statusResolver) watch(ctx context.Context, sub *rpc.Subscription) {
	for !r.resolved() {
		select {
		case raw := <-sub.Notifications():
			status, err := ParseExtrinsicStatus(raw)
			if err != nil {
				r.logger.Warn("skipping status update", "err", err)
				continue
			}

			r.observe(status)
		case err := <-sub.Err():
			if !errors.Is(err, rpc.ErrTransport) {
				err = fmt.Errorf("%w: %w", rpc.ErrTransport, err)
			}

			r.fail(err)
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				r.fail(fmt.Errorf("%w: %w", ErrInclusionTimeout, ctx.Err()))
			} else {
				r.fail(ctx.Err())
			}
		}
	}
}
