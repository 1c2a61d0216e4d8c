package resilience

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
)

// WithTimeout runs fn under a deadline. The wrapped call receives a context
// that is cancelled at the deadline, so in-flight I/O is cancelled rather
// than abandoned. A deadline hit returns TIMEOUT.
func WithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(tctx)
	if err == nil {
		return nil
	}
	if stderrors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return errors.Newf(errors.CodeTimeout, "resilience",
			"operation timed out after %s", d)
	}
	return err
}
