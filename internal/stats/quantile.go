package stats

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// QuantileOptions tunes the IRLS quantile regression
type QuantileOptions struct {
	Ridge   float64 // L2 penalty on non-intercept coefficients, relative to mean weight
	MaxIter int
	Tol     float64 // stop when no coefficient moves more than Tol
	Epsilon float64 // residual floor in the re-weighting
}

// DefaultQuantileOptions returns the settings used by the forecaster
func DefaultQuantileOptions() QuantileOptions {
	return QuantileOptions{
		Ridge:   1e-3,
		MaxIter: 100,
		Tol:     1e-7,
		Epsilon: 1e-4,
	}
}

// QuantileModel is a fitted linear conditional-quantile model.
// Features are standardized internally; Predict takes raw features.
type QuantileModel struct {
	Tau        float64
	Iterations int

	intercept float64
	coef      []float64
	mean      []float64
	scale     []float64
}

// FitQuantile fits y ≈ b0 + X·b at quantile tau by minimizing the pinball loss
// with iteratively re-weighted least squares. Deterministic for identical input.
func FitQuantile(X [][]float64, y []float64, tau float64, opts QuantileOptions) (*QuantileModel, error) {
	n := len(y)
	if n == 0 {
		return nil, errors.New("quantile fit: no samples")
	}
	if len(X) != n {
		return nil, fmt.Errorf("quantile fit: %d feature rows for %d targets", len(X), n)
	}
	if tau <= 0 || tau >= 1 {
		return nil, fmt.Errorf("quantile fit: tau %v outside (0, 1)", tau)
	}
	p := len(X[0])
	for i, row := range X {
		if len(row) != p {
			return nil, fmt.Errorf("quantile fit: row %d has %d features, want %d", i, len(row), p)
		}
	}
	if opts.MaxIter <= 0 {
		opts = DefaultQuantileOptions()
	}

	m := &QuantileModel{Tau: tau, mean: make([]float64, p), scale: make([]float64, p)}

	// standardized design with a leading intercept column
	design := mat.NewDense(n, p+1, nil)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		for i := 0; i < n; i++ {
			col[i] = X[i][j]
		}
		mu, sd := stat.MeanStdDev(col, nil)
		if sd == 0 || math.IsNaN(sd) {
			sd = 1
		}
		m.mean[j], m.scale[j] = mu, sd
	}
	for i := 0; i < n; i++ {
		design.Set(i, 0, 1)
		for j := 0; j < p; j++ {
			design.Set(i, j+1, (X[i][j]-m.mean[j])/m.scale[j])
		}
	}

	target := mat.NewVecDense(n, append([]float64(nil), y...))
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
	}

	beta, err := weightedRidge(design, target, weights, opts.Ridge)
	if err != nil {
		return nil, err
	}

	resid := mat.NewVecDense(n, nil)
	for iter := 1; iter <= opts.MaxIter; iter++ {
		m.Iterations = iter

		resid.MulVec(design, beta)
		resid.SubVec(target, resid)
		for i := 0; i < n; i++ {
			r := resid.AtVec(i)
			side := tau
			if r < 0 {
				side = 1 - tau
			}
			weights[i] = side / math.Max(math.Abs(r), opts.Epsilon)
		}

		next, err := weightedRidge(design, target, weights, opts.Ridge)
		if err != nil {
			return nil, err
		}

		delta := 0.0
		for j := 0; j <= p; j++ {
			delta = math.Max(delta, math.Abs(next.AtVec(j)-beta.AtVec(j)))
		}
		beta = next
		if delta < opts.Tol {
			break
		}
	}

	m.intercept = beta.AtVec(0)
	m.coef = make([]float64, p)
	for j := 0; j < p; j++ {
		m.coef[j] = beta.AtVec(j + 1)
	}
	return m, nil
}

// weightedRidge solves (XᵀWX + λ·w̄·R) b = XᵀWy where R penalizes all but the intercept
func weightedRidge(design *mat.Dense, target *mat.VecDense, weights []float64, ridge float64) (*mat.VecDense, error) {
	n, k := design.Dims()

	wx := mat.NewDense(n, k, nil)
	wy := mat.NewVecDense(n, nil)
	wsum := 0.0
	for i := 0; i < n; i++ {
		w := weights[i]
		wsum += w
		for j := 0; j < k; j++ {
			wx.Set(i, j, w*design.At(i, j))
		}
		wy.SetVec(i, w*target.AtVec(i))
	}

	var gram mat.Dense
	gram.Mul(design.T(), wx)

	penalty := ridge * wsum / float64(n)
	if penalty <= 0 {
		penalty = 1e-12
	}
	sym := mat.NewSymDense(k, nil)
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			v := gram.At(a, b)
			if a == b && a > 0 {
				v += penalty
			}
			sym.SetSym(a, b, v)
		}
	}

	rhs := mat.NewVecDense(k, nil)
	rhs.MulVec(design.T(), wy)

	beta := mat.NewVecDense(k, nil)
	var chol mat.Cholesky
	if chol.Factorize(sym) {
		if err := chol.SolveVecTo(beta, rhs); err == nil {
			return beta, nil
		}
	}

	// near-singular: fall back to a least-squares solve
	if err := beta.SolveVec(sym, rhs); err != nil {
		return nil, fmt.Errorf("quantile fit: normal equations: %w", err)
	}
	return beta, nil
}

// Predict evaluates the model on one raw feature vector
func (m *QuantileModel) Predict(x []float64) float64 {
	v := m.intercept
	for j, c := range m.coef {
		if j >= len(x) {
			break
		}
		v += c * (x[j] - m.mean[j]) / m.scale[j]
	}
	return v
}

// PinballLoss is the mean quantile loss of predictions at tau
func PinballLoss(y, pred []float64, tau float64) float64 {
	if len(y) == 0 {
		return 0
	}
	sum := 0.0
	for i := range y {
		r := y[i] - pred[i]
		if r >= 0 {
			sum += tau * r
		} else {
			sum += (tau - 1) * r
		}
	}
	return sum / float64(len(y))
}
