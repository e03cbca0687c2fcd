package model

import (
	"math"

	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/timeseries"
)

type BoundKind uint8

const (
	Unbounded BoundKind = iota
	BoundScalar
	BoundVector
	BoundSeries
	BoundExpr
)

// BoundValue is one side of a bound.
type BoundValue struct {
	Kind   BoundKind
	Scalar float64
	Vector []float64
	Series *timeseries.Series
	// Expr may depend on parameters only.
	Expr *sym.Node
}

func Scalar(v float64) BoundValue { return BoundValue{Kind: BoundScalar, Scalar: v} }

func Vector(v ...float64) BoundValue { return BoundValue{Kind: BoundVector, Vector: v} }

func FromSeries(s *timeseries.Series) BoundValue { return BoundValue{Kind: BoundSeries, Series: s} }

func FromExpr(e *sym.Node) BoundValue { return BoundValue{Kind: BoundExpr, Expr: e} }

func (v BoundValue) IsSet() bool { return v.Kind != Unbounded }

// Bound is a lower/upper pair. An unset side is unbounded.
type Bound struct {
	Lower BoundValue
	Upper BoundValue
}

// Between returns scalar bounds.
func Between(lower, upper float64) Bound {
	return Bound{Lower: Scalar(lower), Upper: Scalar(upper)}
}

// Fill returns the value used for an unbounded side.
func Fill(lower bool) float64 {
	if lower {
		return math.Inf(-1)
	}
	return math.Inf(1)
}
