// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stage defines the contract between the orchestrator and the
// reasoning/search backends. Every stage kind has exactly one input and one
// output payload type, and payloads are validated at the boundary so that
// loosely shaped backend output never reaches the orchestrator.
package stage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Kind identifies a stage.
type Kind string

const (
	KindPlan       Kind = "plan"
	KindSearch     Kind = "search"
	KindGapAnalyze Kind = "gap_analyze"
	KindFactCheck  Kind = "fact_check"
	KindWrite      Kind = "write"
)

// Kinds lists every stage kind in pipeline order.
var Kinds = []Kind{KindPlan, KindSearch, KindGapAnalyze, KindFactCheck, KindWrite}

// Payload is a stage input or output. Kind reports which stage the payload
// belongs to; Validate checks the variant's schema.
type Payload interface {
	Kind() Kind
	Validate() error
}

// Backend performs the work of a stage. Implementations must honor ctx
// cancellation and return a *BackendError for transport or model failures.
type Backend interface {
	Invoke(ctx context.Context, kind Kind, input Payload) (Payload, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, kind Kind, input Payload) (Payload, error)

// Invoke calls f.
func (f BackendFunc) Invoke(ctx context.Context, kind Kind, input Payload) (Payload, error) {
	return f(ctx, kind, input)
}

// Backend error codes.
const (
	CodeTransport     = "transport"
	CodeModel         = "model"
	CodeRateLimited   = "rate_limited"
	CodeInvalidOutput = "invalid_output"
	CodeUnsupported   = "unsupported"
)

// BackendError reports a transport or model failure inside a backend.
type BackendError struct {
	Code    string
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error (%s): %s", e.Code, e.Message)
}

// Errorf builds a BackendError with a formatted message.
func Errorf(code, format string, args ...any) *BackendError {
	return &BackendError{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	// ErrKindMismatch is returned when a payload does not belong to the
	// invoked stage.
	ErrKindMismatch = errors.New("payload kind does not match stage")

	// ErrUnsupportedKind is returned by backends that do not implement a stage.
	ErrUnsupportedKind = errors.New("stage kind not supported by backend")
)

// Unsupported returns the error a backend reports for a kind it does not serve.
func Unsupported(kind Kind) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
}

// call validates input, invokes the backend, and validates the output variant.
func call[Out Payload](ctx context.Context, b Backend, kind Kind, input Payload) (Out, error) {
	var zero Out
	if input.Kind() != kind {
		return zero, fmt.Errorf("%w: input is %s, stage is %s", ErrKindMismatch, input.Kind(), kind)
	}
	if err := input.Validate(); err != nil {
		return zero, fmt.Errorf("invalid %s input: %w", kind, err)
	}
	raw, err := b.Invoke(ctx, kind, input)
	if err != nil {
		return zero, err
	}
	if isNil(raw) {
		return zero, Errorf(CodeInvalidOutput, "%s stage returned no output", kind)
	}
	out, ok := raw.(Out)
	if !ok || raw.Kind() != kind {
		return zero, fmt.Errorf("%w: %s stage returned %T", ErrKindMismatch, kind, raw)
	}
	if err := out.Validate(); err != nil {
		return zero, fmt.Errorf("invalid %s output: %w", kind, err)
	}
	return out, nil
}

// isNil reports whether p is nil or a nil pointer wrapped in the interface.
func isNil(p Payload) bool {
	if p == nil {
		return true
	}
	v := reflect.ValueOf(p)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// Plan invokes the planner stage.
func Plan(ctx context.Context, b Backend, in PlanInput) (PlanOutput, error) {
	out, err := call[*PlanOutput](ctx, b, KindPlan, &in)
	if err != nil {
		return PlanOutput{}, err
	}
	return *out, nil
}

// Search invokes the search stage for one plan item.
func Search(ctx context.Context, b Backend, in SearchInput) (SearchOutput, error) {
	out, err := call[*SearchOutput](ctx, b, KindSearch, &in)
	if err != nil {
		return SearchOutput{}, err
	}
	return *out, nil
}

// AnalyzeGaps invokes the gap-analysis stage.
func AnalyzeGaps(ctx context.Context, b Backend, in GapInput) (GapOutput, error) {
	out, err := call[*GapOutput](ctx, b, KindGapAnalyze, &in)
	if err != nil {
		return GapOutput{}, err
	}
	return *out, nil
}

// FactCheck invokes the fact-check stage.
func FactCheck(ctx context.Context, b Backend, in FactCheckInput) (FactCheckOutput, error) {
	out, err := call[*FactCheckOutput](ctx, b, KindFactCheck, &in)
	if err != nil {
		return FactCheckOutput{}, err
	}
	return *out, nil
}

// Write invokes the writer stage.
func Write(ctx context.Context, b Backend, in WriteInput) (WriteOutput, error) {
	out, err := call[*WriteOutput](ctx, b, KindWrite, &in)
	if err != nil {
		return WriteOutput{}, err
	}
	return *out, nil
}
