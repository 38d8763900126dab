// Package models holds the value types shared by the cache, monitor and
// inference pipeline.
package models

import "fmt"

// Result is the outcome of classifying one image. A Result is either a
// success carrying a label and confidence, or a failure carrying nothing.
// The zero value is a failure.
type Result struct {
	label      string
	confidence float64
	ok         bool
}

// Success returns a successful classification result.
func Success(label string, confidence float64) Result {
	return Result{label: label, confidence: confidence, ok: true}
}

// Failure returns the "no usable result" value.
func Failure() Result {
	return Result{}
}

// OK reports whether the result holds a prediction.
func (r Result) OK() bool { return r.ok }

// Label returns the predicted class label; empty for failures.
func (r Result) Label() string { return r.label }

// Confidence returns the predicted class probability; 0 for failures.
func (r Result) Confidence() float64 { return r.confidence }

func (r Result) String() string {
	if !r.ok {
		return "failure"
	}
	return fmt.Sprintf("%s (%.3f)", r.label, r.confidence)
}
