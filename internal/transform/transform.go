// Package transform turns one image into another. Callers treat every
// implementation as an opaque bytes-in, bytes-out operation.
package transform

import (
	"context"
	"errors"
	"fmt"
)

// Transformer produces a new JPEG image from input.
type Transformer interface {
	Transform(ctx context.Context, input []byte) ([]byte, error)
}

// ErrTransformFailed matches every *Error via errors.Is.
var ErrTransformFailed = errors.New("transform failed")

// Kind says which stage of a transform failed.
type Kind string

const (
	KindDecode   Kind = "decode"
	KindProcess  Kind = "process"
	KindEncode   Kind = "encode"
	KindUpstream Kind = "upstream"
	KindTimeout  Kind = "timeout"
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transform %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrTransformFailed
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
