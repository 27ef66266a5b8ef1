// Package decision turns a class-probability vector into a label and a verdict.
//
// The label is always the most probable class. The decision equals the label
// unless a threshold is given, in which case the positive class wins whenever
// its probability reaches the threshold. Under a threshold the two can differ,
// e.g. probs {fresh: 0.6, infected: 0.4} with threshold 0.3 gives label
// "fresh" and decision "infected".
package decision

import (
	"fmt"
)

// Result is the outcome for one probability vector.
type Result struct {
	Label     string
	Score     float64
	Decision  string
	Threshold *float64
}

// Engine holds the class order of the model and which classes the threshold decides between.
type Engine struct {
	classes  []string
	positive int
	negative int
}

func NewEngine(classes []string, positive, negative string) (*Engine, error) {
	e := &Engine{classes: append([]string(nil), classes...), positive: -1, negative: -1}
	for i, c := range classes {
		switch c {
		case positive:
			e.positive = i
		case negative:
			e.negative = i
		}
	}
	if e.positive < 0 || e.negative < 0 {
		return nil, fmt.Errorf("classes %v must contain %q and %q", classes, positive, negative)
	}
	return e, nil
}

func (e *Engine) Classes() []string {
	return append([]string(nil), e.classes...)
}

// Decide applies argmax, or the threshold rule when threshold is non-nil.
func (e *Engine) Decide(probs []float64, threshold *float64) (Result, error) {
	if len(probs) != len(e.classes) {
		return Result{}, fmt.Errorf("got %d probabilities for %d classes", len(probs), len(e.classes))
	}

	best := Argmax(probs)
	res := Result{
		Label: e.classes[best],
		Score: probs[best],
	}

	if threshold == nil {
		res.Decision = res.Label
		return res, nil
	}

	t := *threshold
	res.Threshold = &t
	if probs[e.positive] >= t {
		res.Decision = e.classes[e.positive]
	} else {
		res.Decision = e.classes[e.negative]
	}
	return res, nil
}

// Argmax returns the index of the largest value; the first one wins ties.
func Argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
