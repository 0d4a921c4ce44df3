package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"

	"github.com/MrEthical07/loginhook/host"
)

// Invoke calls the resolved routine and captures any failure as a
// *host.HookError. It never retries and never decides escalation.
func Invoke(ctx context.Context, invoker host.RoutineInvoker, id host.RoutineID, namespace, routine string, timeout time.Duration) (herr *host.HookError) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			herr = &host.HookError{
				Code:      pgerrcode.InternalError,
				Message:   fmt.Sprintf("panic: %v", r),
				Namespace: namespace,
				Routine:   routine,
			}
		}
	}()

	err := invoker.Invoke(ctx, id)
	if err == nil {
		return nil
	}
	return captureError(ctx, err, namespace, routine)
}

func captureError(ctx context.Context, err error, namespace, routine string) *host.HookError {
	var raised *host.HookError
	if errors.As(err, &raised) {
		out := *raised
		if out.Code == "" {
			out.Code = pgerrcode.RaiseException
		}
		if out.Namespace == "" {
			out.Namespace = namespace
		}
		if out.Routine == "" {
			out.Routine = routine
		}
		return &out
	}

	out := &host.HookError{
		Code:      pgerrcode.RaiseException,
		Message:   err.Error(),
		Namespace: namespace,
		Routine:   routine,
		Cause:     err,
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		out.Code = pgerrcode.QueryCanceled
		out.Message = "canceling login hook due to timeout"
		out.Detail = err.Error()
	} else if errors.Is(err, context.Canceled) {
		out.Code = pgerrcode.QueryCanceled
		out.Message = "canceling login hook due to user request"
		out.Detail = err.Error()
	}
	return out
}
