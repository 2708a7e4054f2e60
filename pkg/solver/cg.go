// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package solver implements iterative solvers for the symmetric positive definite systems built by the
// system matrices.
package solver

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sgpar/sgpar/pkg/core/faults"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// Matrix is a linear operator on vectors of a fixed size.
type Matrix interface {
	// Mult computes result = A·x.
	Mult(x, result []float64) error
}

// DefaultMaxIterations and DefaultEpsilon used by a CG with zero values.
const (
	DefaultMaxIterations = 250
	DefaultEpsilon       = 1e-6
)

// CG is the conjugate gradients method.
//
// It stops when the squared norm of the residual falls below Epsilon² times its initial value, or after
// MaxIterations.
type CG struct {
	MaxIterations int
	Epsilon       float64

	// OnIteration, if not nil, is called after each iteration with the 1-based iteration number and the
	// norm of the residual.
	OnIteration func(iteration int, residual float64)
}

// Result of a solve.
type Result struct {
	Iterations int

	// InitialResidual and Residual are the norms of the residual before the first and after the last iteration.
	InitialResidual, Residual float64

	Converged bool
}

// Solve solves A·x = b, starting from the given x, which is updated in place.
func (cg *CG) Solve(a Matrix, b, x []float64) (Result, error) {
	n := len(b)
	if len(x) != n {
		return Result{}, faults.Configurationf("solver: x has %d elements, b has %d", len(x), n)
	}
	maxIterations, epsilon := cg.MaxIterations, cg.Epsilon
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}

	r := make([]float64, n)
	d := make([]float64, n)
	q := make([]float64, n)

	// r = b - A·x
	if err := a.Mult(x, q); err != nil {
		return Result{}, errors.WithMessage(err, "solver: initial residual")
	}
	floats.SubTo(r, b, q)
	copy(d, r)
	deltaNew := floats.Dot(r, r)
	delta0 := deltaNew
	result := Result{InitialResidual: math.Sqrt(delta0), Residual: math.Sqrt(delta0)}
	if delta0 == 0 {
		result.Converged = true
		return result, nil
	}
	threshold := epsilon * epsilon * delta0
	for result.Iterations < maxIterations && deltaNew > threshold {
		if err := a.Mult(d, q); err != nil {
			return result, errors.WithMessagef(err, "solver: iteration %d", result.Iterations+1)
		}
		dq := floats.Dot(d, q)
		if dq <= 0 {
			return result, errors.Errorf("solver: matrix is not positive definite (dᵀ·A·d = %g) at iteration %d",
				dq, result.Iterations+1)
		}
		step := deltaNew / dq
		floats.AddScaled(x, step, d)
		floats.AddScaled(r, -step, q)
		deltaOld := deltaNew
		deltaNew = floats.Dot(r, r)
		// d = r + (deltaNew/deltaOld)·d
		floats.AddScaledTo(d, r, deltaNew/deltaOld, d)
		result.Iterations++
		result.Residual = math.Sqrt(deltaNew)
		if cg.OnIteration != nil {
			cg.OnIteration(result.Iterations, result.Residual)
		}
		klog.V(2).Infof("solver: iteration %d, residual %g", result.Iterations, result.Residual)
	}
	result.Converged = deltaNew <= threshold
	return result, nil
}
