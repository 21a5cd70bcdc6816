// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package base

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// RandomGenerator is the random stream owned by one simulation unit. It is not safe
// for concurrent use: every replicate creates its own.
type RandomGenerator struct {
	*rand.Rand
}

// NewRandomGenerator creates a RandomGenerator on the PCG stream (seed, stream).
func NewRandomGenerator(seed, stream uint64) RandomGenerator {
	return RandomGenerator{rand.New(rand.NewPCG(seed, stream))}
}

// NormalVector makes a vec filled with normal random floats.
func (rng RandomGenerator) NormalVector(size int, mean, stdDev float64) []float64 {
	ret := make([]float64, size)
	for i := 0; i < len(ret); i++ {
		ret[i] = rng.NormFloat64()*stdDev + mean
	}
	return ret
}

// NormalMatrix makes a dense matrix filled with normal random floats.
func (rng RandomGenerator) NormalMatrix(row, col int, mean, stdDev float64) *mat.Dense {
	return mat.NewDense(row, col, rng.NormalVector(row*col, mean, stdDev))
}

// Bools makes a vec of fair coin flips.
func (rng RandomGenerator) Bools(size int) []bool {
	ret := make([]bool, size)
	for i := range ret {
		ret[i] = rng.IntN(2) == 1
	}
	return ret
}

// ShuffleInts shuffles a in place.
func (rng RandomGenerator) ShuffleInts(a []int) {
	rng.Shuffle(len(a), func(i, j int) {
		a[i], a[j] = a[j], a[i]
	})
}

// Sample n distinct values in [0, high).
func (rng RandomGenerator) Sample(high, n int) []int {
	return rng.Perm(high)[:n]
}

// Choice picks one element of a uniformly.
func (rng RandomGenerator) Choice(a []int) int {
	return a[rng.IntN(len(a))]
}

// Categorical draws an index with probability proportional to weights.
func (rng RandomGenerator) Categorical(weights []float64) int {
	return int(distuv.NewCategorical(weights, rng.Rand).Rand())
}

// Gamma draws from Gamma(alpha, 1).
func (rng RandomGenerator) Gamma(alpha float64) float64 {
	return distuv.Gamma{Alpha: alpha, Beta: 1, Src: rng.Rand}.Rand()
}

// Dirichlet draws a point on the simplex from Dir(alpha).
func (rng RandomGenerator) Dirichlet(alpha []float64) []float64 {
	x := make([]float64, len(alpha))
	sum := 0.0
	for i, a := range alpha {
		x[i] = rng.Gamma(a)
		sum += x[i]
	}
	if sum == 0 {
		// Every gamma draw underflowed. As the concentration vanishes Dir(alpha)
		// degenerates to the vertex e_i with probability alpha_i / sum(alpha).
		x[rng.Categorical(alpha)] = 1
		return x
	}
	for i := range x {
		x[i] /= sum
	}
	return x
}

// DirichletMatrix draws n points from Dir(alpha), one per row.
func (rng RandomGenerator) DirichletMatrix(n int, alpha []float64) *mat.Dense {
	ret := mat.NewDense(n, len(alpha), nil)
	for i := 0; i < n; i++ {
		ret.SetRow(i, rng.Dirichlet(alpha))
	}
	return ret
}

// Beta draws from Beta(alpha, beta). Both shapes must be positive.
func (rng RandomGenerator) Beta(alpha, beta float64) float64 {
	x := distuv.Beta{Alpha: alpha, Beta: beta, Src: rng.Rand}.Rand()
	if math.IsNaN(x) {
		// both gamma components underflowed
		return alpha / (alpha + beta)
	}
	return x
}
