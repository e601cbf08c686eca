// Package perception defines the frame source and recognition contracts the
// engine and node handlers depend on, plus a bounded recognition worker.
package perception

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// Region is a capture rectangle in screen coordinates. The zero Region means
// the whole screen.
type Region = image.Rectangle

// Frame is one captured screen image.
type Frame struct {
	Image      image.Image
	Region     Region
	CapturedAt time.Time
}

// Match is one recognition hit inside a frame.
type Match struct {
	Label      string
	Bounds     image.Rectangle
	Confidence float64
	Text       string
}

// Source yields frames on demand. A nil frame with a nil error counts as a
// failed capture.
type Source interface {
	Capture(ctx context.Context, region Region) (*Frame, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, region Region) (*Frame, error)

func (f SourceFunc) Capture(ctx context.Context, region Region) (*Frame, error) {
	return f(ctx, region)
}

// Recognizer is an OCR, template or CV matcher. Node handlers call it; the
// engine never does.
type Recognizer interface {
	Analyze(ctx context.Context, frame *Frame) ([]Match, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, frame *Frame) ([]Match, error)

func (f RecognizerFunc) Analyze(ctx context.Context, frame *Frame) ([]Match, error) {
	return f(ctx, frame)
}

// ErrNoFrame is returned when a source produced nothing.
var ErrNoFrame = errors.New("perception: capture returned no frame")

// TimeoutError reports a capture or recognition call that overran its deadline.
type TimeoutError struct {
	Op       string
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	op := e.Op
	if op == "" {
		op = "recognition"
	}
	return fmt.Sprintf("%s timeout after %s", op, e.Deadline)
}

// Timeout lets callers treat this like any other timeout error.
func (e *TimeoutError) Timeout() bool { return true }

// Capture calls src and normalizes a nil frame into ErrNoFrame.
func Capture(ctx context.Context, src Source, region Region) (*Frame, error) {
	if src == nil {
		return nil, ErrNoFrame
	}
	frame, err := src.Capture(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if frame == nil {
		return nil, ErrNoFrame
	}
	return frame, nil
}

// CaptureWithin is Capture bounded by deadline. A source that overruns it is
// abandoned and reported as *TimeoutError; cancellation of ctx is returned
// unchanged. deadline <= 0 disables the bound.
func CaptureWithin(ctx context.Context, src Source, region Region, deadline time.Duration) (*Frame, error) {
	if deadline <= 0 {
		return Capture(ctx, src, region)
	}
	dctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type captured struct {
		frame *Frame
		err   error
	}
	done := make(chan captured, 1)
	go func() {
		f, err := Capture(dctx, src, region)
		done <- captured{frame: f, err: err}
	}()

	select {
	case c := <-done:
		if c.err != nil && ctx.Err() == nil && errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: "capture", Deadline: deadline}
		}
		return c.frame, c.err
	case <-dctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &TimeoutError{Op: "capture", Deadline: deadline}
	}
}
