package qerrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/vietddude/qerrors/internal/llm"
)

func TestFromErrorCapturesStack(t *testing.T) {
	rep := FromError(errors.New("dial tcp: connection refused"), "checkout")

	if rep.Message != "dial tcp: connection refused" {
		t.Errorf("Expected the error text, got %q", rep.Message)
	}
	if rep.Context != "checkout" {
		t.Errorf("Expected the call context, got %q", rep.Context)
	}
	if rep.Origin != "" {
		t.Errorf("Expected no origin tag on a plain error, got %q", rep.Origin)
	}
	if len(rep.Stack) == 0 {
		t.Fatal("Expected a captured stack")
	}
	if !strings.Contains(rep.Stack[0], "TestFromErrorCapturesStack") {
		t.Errorf("Expected the caller as the first frame, got %q", rep.Stack[0])
	}
	if !strings.Contains(rep.Stack[0], "report_test.go:") {
		t.Errorf("Expected file:line in the frame, got %q", rep.Stack[0])
	}
}

func TestFromErrorNil(t *testing.T) {
	if rep := FromError(nil, "checkout"); rep != nil {
		t.Errorf("Expected nil report for a nil error, got %+v", rep)
	}
}

func TestFromErrorTagsAdviceClientFailures(t *testing.T) {
	inner := &llm.ClientError{Err: errors.New("http 500: overloaded")}
	err := fmt.Errorf("background task: %w", inner)

	rep := FromError(err, "")
	if rep.Origin != OriginAdviceCall {
		t.Errorf("Expected the advice-call origin tag, got %q", rep.Origin)
	}
}
