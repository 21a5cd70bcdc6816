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

package population

import (
	"math"
	"sort"

	"github.com/gorse-io/marketsim/base"
	"github.com/gorse-io/marketsim/config"
	"github.com/juju/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// preferenceScale scales the population-level concentration of preferences.
	preferenceScale = 10
	// characteristicScale scales the population-level concentration of items. It is small so
	// that items sit close to the corners of the simplex.
	characteristicScale = 0.1
	// characteristicPrior is the symmetric prior of the item-level concentration.
	characteristicPrior = 100
	// clusteredItemAlpha is the concentration of non-corner categories of clustered items.
	clusteredItemAlpha = 0.01
	// minMeanUtility keeps the Beta mean away from zero.
	minMeanUtility = 1e-9
)

// Population is the ground truth of a market: who likes what and how much.
type Population struct {
	Preferences     *mat.Dense // users × K
	Groups          []int      // corner of each user, nil unless preferences are clustered
	Characteristics *mat.Dense // items × K
	Utility         *mat.Dense // users × items
	Reserve         []float64  // per-user reserve utility
}

// Generate draws a complete population from the configuration.
func Generate(rng base.RandomGenerator, cfg *config.Config) (*Population, error) {
	var (
		p   Population
		err error
	)
	k := cfg.Market.NumCategories
	if cfg.Population.ClusteredPreferences {
		p.Preferences, p.Groups = ClusteredPreferences(rng, k, cfg.Market.NumUsers,
			cfg.Population.NumClusters, cfg.Population.GammaPref)
	} else {
		p.Preferences = Preferences(rng, k, cfg.Market.NumUsers)
	}
	if cfg.Population.ClusteredItems {
		p.Characteristics = ClusteredItemCharacteristics(rng, k, cfg.Market.NumItems,
			cfg.Population.NumClusters, cfg.Population.GammaItem)
	} else {
		p.Characteristics = ItemCharacteristics(rng, k, cfg.Market.NumItems)
	}
	if p.Utility, err = Values(rng, p.Characteristics, p.Preferences, cfg.Population.Sigma); err != nil {
		return nil, errors.Trace(err)
	}
	p.Reserve = ReserveUtilities(p.Utility, cfg.Population.ReservePercentile)
	return &p, nil
}

// Preferences draws n preference vectors around a shared population-level distribution.
func Preferences(rng base.RandomGenerator, k, n int) *mat.Dense {
	mu := rng.Dirichlet(ones(k, 1))
	floats.Scale(preferenceScale, mu)
	return rng.DirichletMatrix(n, mu)
}

// ClusteredPreferences draws n preference vectors concentrated around numClusters random
// corners of the simplex. It also returns the corner of each vector.
func ClusteredPreferences(rng base.RandomGenerator, k, n, numClusters int, gamma float64) (*mat.Dense, []int) {
	return clustered(rng, k, n, numClusters, 1, gamma)
}

// ItemCharacteristics draws n item vectors. They have lower entropy than preferences.
func ItemCharacteristics(rng base.RandomGenerator, k, n int) *mat.Dense {
	mu := rng.Dirichlet(ones(k, characteristicPrior))
	floats.Scale(characteristicScale, mu)
	return rng.DirichletMatrix(n, mu)
}

// ClusteredItemCharacteristics draws n item vectors concentrated around numClusters random
// corners of the simplex.
func ClusteredItemCharacteristics(rng base.RandomGenerator, k, n, numClusters int, gamma float64) *mat.Dense {
	characteristics, _ := clustered(rng, k, n, numClusters, clusteredItemAlpha, clusteredItemAlpha*gamma)
	return characteristics
}

func clustered(rng base.RandomGenerator, k, n, numClusters int, low, high float64) (*mat.Dense, []int) {
	corners := rng.Sample(k, numClusters)
	alpha := ones(k, low)
	groups := make([]int, n)
	ret := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		corner := rng.Choice(corners)
		alpha[corner] = high
		ret.SetRow(i, rng.Dirichlet(alpha))
		alpha[corner] = low
		groups[i] = corner
	}
	return ret, groups
}

// Values draws the utility matrix. Entry (u, i) follows a Beta distribution whose mean is
// preferences_u · characteristics_i and whose standard deviation is sigma. All shape
// parameters are checked before anything is sampled.
func Values(rng base.RandomGenerator, characteristics, preferences *mat.Dense, sigma float64) (*mat.Dense, error) {
	var mean mat.Dense
	mean.Mul(preferences, characteristics.T())
	numUsers, numItems := mean.Dims()
	alpha := mat.NewDense(numUsers, numItems, nil)
	beta := mat.NewDense(numUsers, numItems, nil)
	variance := sigma * sigma
	for u := 0; u < numUsers; u++ {
		for i := 0; i < numItems; i++ {
			mu := math.Max(mean.At(u, i), minMeanUtility)
			a := ((1-mu)/variance - 1/mu) * mu * mu
			b := a * (1/mu - 1)
			if !(a > 0) || !(b > 0) {
				return nil, errors.NotValidf("sigma %v for mean utility %v of user %d and item %d (alpha = %v, beta = %v)",
					sigma, mu, u, i, a, b)
			}
			alpha.Set(u, i, a)
			beta.Set(u, i, b)
		}
	}
	values := mat.NewDense(numUsers, numItems, nil)
	for u := 0; u < numUsers; u++ {
		for i := 0; i < numItems; i++ {
			values.Set(u, i, rng.Beta(alpha.At(u, i), beta.At(u, i)))
		}
	}
	return values, nil
}

// ReserveUtility returns the percentile-th (0 to 100) value of a utility row. It interpolates
// linearly between the two closest ranks at position (n-1)·percentile/100.
func ReserveUtility(row []float64, percentile float64) float64 {
	if len(row) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(row))
	copy(sorted, row)
	sort.Float64s(sorted)
	h := float64(len(sorted)-1) * percentile / 100
	lo, hi := int(math.Floor(h)), int(math.Ceil(h))
	return sorted[lo] + (h-float64(lo))*(sorted[hi]-sorted[lo])
}

// ReserveUtilities computes the reserve utility of every user.
func ReserveUtilities(utility *mat.Dense, percentile float64) []float64 {
	numUsers, _ := utility.Dims()
	reserve := make([]float64, numUsers)
	for u := range reserve {
		reserve[u] = ReserveUtility(utility.RawRowView(u), percentile)
	}
	return reserve
}

func ones(n int, v float64) []float64 {
	ret := make([]float64, n)
	for i := range ret {
		ret[i] = v
	}
	return ret
}
