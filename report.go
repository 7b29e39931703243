package qerrors

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/vietddude/qerrors/internal/llm"
)

// OriginAdviceCall marks reports built from failures of the advice call
// itself. Analyze drops them so the library never analyzes its own
// outbound errors in a loop.
const OriginAdviceCall = "qerrors.advice"

// Report is one error occurrence handed to Analyze.
type Report struct {
	Message     string   // error text; required
	Stack       []string // stack frames, innermost first
	Context     string   // free-form caller context, e.g. "checkout"
	Fingerprint string   // precomputed dedup key; empty means compute it
	Origin      string   // OriginAdviceCall for advice-call failures
}

// Advice is the structured guidance returned for an error.
type Advice map[string]any

// FromError builds a Report from err, capturing the caller's stack.
// Errors that came out of the advice client are tagged so Analyze can
// drop them.
func FromError(err error, callContext string) *Report {
	if err == nil {
		return nil
	}

	rep := &Report{
		Message: err.Error(),
		Context: callContext,
		Stack:   captureStack(1),
	}

	var ce *llm.ClientError
	if errors.As(err, &ce) {
		rep.Origin = OriginAdviceCall
	}
	return rep
}

// captureStack renders the calling goroutine's frames as
// "func file:line" strings, dropping skip levels above itself.
func captureStack(skip int) []string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	var stack []string
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			stack = append(stack, fmt.Sprintf("%s %s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return stack
}
