package l4perception

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/landmark.report/internal/lidar/l1scan"
)

const (
	// DefaultSingularThreshold is the smallest singular value of the data
	// matrix below which the points are taken to lie exactly on a circle.
	DefaultSingularThreshold = 1e-12

	// degenerateA0Tolerance bounds |A0| relative to |A|. Below it the
	// quadratic term has vanished and the points describe a line.
	degenerateA0Tolerance = 1e-10

	// rankTolerance bounds s[2] relative to s[0]. Below it Z has rank < 3.
	rankTolerance = 1e-12
)

var (
	// ErrInvalidClusterSize is returned when a fit is requested on fewer
	// than MinCirclePoints points.
	ErrInvalidClusterSize = errors.New("cluster too small for circle fit")

	// ErrDegenerateFit is returned when the points are (near-)collinear or
	// otherwise not approximated by any circle.
	ErrDegenerateFit = errors.New("degenerate circle fit")

	// ErrNegativeRadiusSquared is returned when the closed-form radius
	// squared comes out negative.
	ErrNegativeRadiusSquared = errors.New("negative radius squared")
)

// FitBranch records which solver produced a circle.
type FitBranch int

const (
	// BranchDirectSingularVector takes the right singular vector of the
	// smallest singular value; used when the data matrix is rank deficient.
	BranchDirectSingularVector FitBranch = iota + 1

	// BranchConstrainedEigensolve solves the hyperaccurate generalised
	// eigenproblem.
	BranchConstrainedEigensolve
)

func (b FitBranch) String() string {
	switch b {
	case BranchDirectSingularVector:
		return "direct_singular_vector"
	case BranchConstrainedEigensolve:
		return "constrained_eigensolve"
	default:
		return "unknown"
	}
}

// CircleEstimate is a fitted circle in the sensor frame. Only the centre
// and radius are consumed downstream; the remaining fields are fit
// diagnostics.
type CircleEstimate struct {
	CenterX     float64
	CenterY     float64
	Radius      float64
	Branch      FitBranch
	Points      int
	RMSResidual float64 // RMS of (distance to centre - Radius) over the input points
}

// Valid reports whether the radius is finite and strictly positive.
func (c CircleEstimate) Valid() bool {
	return !math.IsNaN(c.Radius) && !math.IsInf(c.Radius, 0) && c.Radius > 0 &&
		!math.IsNaN(c.CenterX) && !math.IsNaN(c.CenterY)
}

// FitParams holds circle fitter parameters.
type FitParams struct {
	SingularThreshold float64
}

// DefaultFitParams returns the production fitter parameters.
func DefaultFitParams() FitParams {
	return FitParams{SingularThreshold: DefaultSingularThreshold}
}

// FitCircle fits a circle to the cluster's points with default parameters.
func FitCircle(c Cluster) (CircleEstimate, error) {
	return FitPoints(c.Points, DefaultFitParams())
}

// FitPoints fits a circle to points using the hyperaccurate algebraic fit.
//
// Algorithm:
//  1. Translate the points so their centroid is the origin
//  2. Build Z with rows [x²+y², x, y, 1] and take z̄ = mean of column 0
//  3. SVD Z = U·diag(s)·Vᵀ
//  4. If s[3] is below SingularThreshold, A is the last column of V;
//     otherwise solve the constrained eigenproblem Y·Hinv·Y (Y = V·diag(s)·Vᵀ)
//  5. Convert A to centre and radius and undo the translation
//
// Degenerate inputs are reported through ErrDegenerateFit or
// ErrNegativeRadiusSquared rather than returned as a meaningless circle.
func FitPoints(points []l1scan.Point2D, params FitParams) (CircleEstimate, error) {
	n := len(points)
	if n < MinCirclePoints {
		return CircleEstimate{}, fmt.Errorf("%w: got %d points, need %d", ErrInvalidClusterSize, n, MinCirclePoints)
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range points {
		xs[i] = p.X
		ys[i] = p.Y
	}
	xHat := stat.Mean(xs, nil)
	yHat := stat.Mean(ys, nil)

	z := mat.NewDense(n, 4, nil)
	zz := make([]float64, n)
	for i := range points {
		x := xs[i] - xHat
		y := ys[i] - yHat
		zz[i] = x*x + y*y
		z.SetRow(i, []float64{zz[i], x, y, 1})
	}
	zBar := stat.Mean(zz, nil)

	threshold := params.SingularThreshold
	if threshold <= 0 || math.IsNaN(threshold) {
		threshold = DefaultSingularThreshold
	}
	sol, err := solveAlgebraic(z, zBar, threshold)
	if err != nil {
		return CircleEstimate{}, err
	}

	cx, cy, r, err := circleFromParams(sol.A)
	if err != nil {
		return CircleEstimate{}, fmt.Errorf("%s branch: %w", sol.Branch, err)
	}

	est := CircleEstimate{
		CenterX: cx + xHat,
		CenterY: cy + yHat,
		Radius:  r,
		Branch:  sol.Branch,
		Points:  n,
	}
	est.RMSResidual = rmsResidual(xs, ys, est)
	return est, nil
}

// algebraicSolution is the tagged output of the algebraic solve: the
// circle parameter vector A = [A0, A1, A2, A3] of
// A0(x²+y²) + A1·x + A2·y + A3 = 0, and the branch that produced it.
type algebraicSolution struct {
	Branch FitBranch
	A      [4]float64
	Sigma4 float64
}

// solveAlgebraic branches on the smallest singular value of z.
func solveAlgebraic(z *mat.Dense, zBar, threshold float64) (algebraicSolution, error) {
	var svd mat.SVD
	if ok := svd.Factorize(z, mat.SVDFull); !ok {
		return algebraicSolution{}, fmt.Errorf("%w: SVD did not converge", ErrDegenerateFit)
	}
	s := svd.Values(nil)
	// Three-point clusters give a 3×4 Z: the fourth singular value is zero.
	for len(s) < 4 {
		s = append(s, 0)
	}
	var v mat.Dense
	svd.VTo(&v)

	// Fewer than three distinct points leave a family of circles.
	if s[2] <= rankTolerance*s[0] {
		return algebraicSolution{}, fmt.Errorf("%w: data matrix rank below 3 (s=%v)", ErrDegenerateFit, s)
	}
	if s[3] < threshold {
		return directSingularVector(&v, s[3]), nil
	}
	return constrainedEigensolve(&v, s, zBar)
}

// directSingularVector takes A as the right singular vector of the
// smallest singular value. Z·A is then (numerically) zero: the points lie
// exactly on the circle described by A.
func directSingularVector(v *mat.Dense, sigma4 float64) algebraicSolution {
	sol := algebraicSolution{Branch: BranchDirectSingularVector, Sigma4: sigma4}
	for i := 0; i < 4; i++ {
		sol.A[i] = v.At(i, 3)
	}
	return sol
}

// constrainedEigensolve solves Zᵀ·Z·A = η·H·A for the smallest positive η
// via Q = Y·Hinv·Y with Y = V·diag(s)·Vᵀ, then recovers A from Y·A = A*.
func constrainedEigensolve(v *mat.Dense, s []float64, zBar float64) (algebraicSolution, error) {
	var vs, y mat.Dense
	vs.Mul(v, mat.NewDiagDense(4, s[:4]))
	y.Mul(&vs, v.T())

	var yh, q mat.Dense
	yh.Mul(&y, hyperConstraintInverse(zBar))
	q.Mul(&yh, &y)

	// Q is symmetric in exact arithmetic; average out rounding.
	qs := mat.NewSymDense(4, nil)
	for i := 0; i < 4; i++ {
		for j := i; j < 4; j++ {
			qs.SetSym(i, j, 0.5*(q.At(i, j)+q.At(j, i)))
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(qs, true); !ok {
		return algebraicSolution{}, fmt.Errorf("%w: eigendecomposition did not converge", ErrDegenerateFit)
	}
	values := eig.Values(nil)
	idx, ok := smallestPositive(values)
	if !ok {
		return algebraicSolution{}, fmt.Errorf("%w: no positive eigenvalue in %v", ErrDegenerateFit, values)
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	aStar := mat.NewVecDense(4, nil)
	aStar.CopyVec(vecs.ColView(idx))

	var a mat.VecDense
	if err := a.SolveVec(&y, aStar); err != nil {
		// A Condition error still carries a solution.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return algebraicSolution{}, fmt.Errorf("%w: solve Y·A = A*: %v", ErrDegenerateFit, err)
		}
	}

	sol := algebraicSolution{Branch: BranchConstrainedEigensolve, Sigma4: s[3]}
	for i := 0; i < 4; i++ {
		sol.A[i] = a.AtVec(i)
	}
	return sol, nil
}

// smallestPositive returns the index of the smallest strictly positive
// value. Ties keep the first occurrence.
func smallestPositive(values []float64) (int, bool) {
	best := -1
	bestVal := math.Inf(1)
	for i, v := range values {
		if v > 0 && v < bestVal {
			best = i
			bestVal = v
		}
	}
	return best, best >= 0
}

// hyperConstraint returns the hyperaccurate constraint matrix H for the
// given z̄.
func hyperConstraint(zBar float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		8 * zBar, 0, 0, 2,
		0, 1, 0, 0,
		0, 0, 1, 0,
		2, 0, 0, 0,
	})
}

// hyperConstraintInverse returns the closed-form inverse of hyperConstraint.
func hyperConstraintInverse(zBar float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		0, 0, 0, 0.5,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0.5, 0, 0, -2 * zBar,
	})
}

// circleFromParams converts A to a centre and radius in the translated frame.
func circleFromParams(a [4]float64) (cx, cy, r float64, err error) {
	for _, v := range a {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, 0, fmt.Errorf("%w: non-finite parameters %v", ErrDegenerateFit, a)
		}
	}
	norm := floats.Norm(a[:], 2)
	if norm == 0 || math.Abs(a[0]) <= degenerateA0Tolerance*norm {
		return 0, 0, 0, fmt.Errorf("%w: quadratic coefficient %g vanishes (|A|=%g)", ErrDegenerateFit, a[0], norm)
	}

	cx = -a[1] / (2 * a[0])
	cy = -a[2] / (2 * a[0])
	r2 := (a[1]*a[1] + a[2]*a[2] - 4*a[0]*a[3]) / (4 * a[0] * a[0])
	if r2 < 0 {
		return 0, 0, 0, fmt.Errorf("%w: R²=%g", ErrNegativeRadiusSquared, r2)
	}
	if r2 == 0 || math.IsNaN(r2) || math.IsInf(r2, 0) {
		return 0, 0, 0, fmt.Errorf("%w: R²=%g", ErrDegenerateFit, r2)
	}
	return cx, cy, math.Sqrt(r2), nil
}

func rmsResidual(xs, ys []float64, c CircleEstimate) float64 {
	res := make([]float64, len(xs))
	for i := range xs {
		res[i] = math.Hypot(xs[i]-c.CenterX, ys[i]-c.CenterY) - c.Radius
	}
	return floats.Norm(res, 2) / math.Sqrt(float64(len(res)))
}
