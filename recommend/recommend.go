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

package recommend

import (
	"math"
	"sort"

	"github.com/gorse-io/marketsim/config"
	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
)

// Recommender ranks every introduced item for every user.
type Recommender interface {
	// Rank returns one permutation of [0, items) per user, best first. history is the
	// users × items 0/1 interaction matrix restricted to introduced items and noise has the
	// same shape. Noise only breaks ties.
	Rank(history, noise *mat.Dense) ([][]int, error)
}

// New creates a recommender by name. utility is only used by the oracle.
func New(name string, utility *mat.Dense) (Recommender, error) {
	switch name {
	case config.UserBased:
		return &UserBased{}, nil
	case config.ItemBased:
		return &ItemBased{}, nil
	case config.Random:
		return &Random{}, nil
	case config.Oracle:
		if utility == nil {
			return nil, errors.NotValidf("oracle without utility matrix")
		}
		return NewOracle(utility), nil
	}
	return nil, errors.NotSupportedf("recommender %s", name)
}

func checkShape(history, noise *mat.Dense) error {
	if history == nil || noise == nil {
		return errors.NotValidf("empty interaction history")
	}
	hr, hc := history.Dims()
	nr, nc := noise.Dims()
	if hr != nr || hc != nc {
		return errors.NotValidf("noise of shape %d × %d for history of shape %d × %d", nr, nc, hr, hc)
	}
	return nil
}

// excludeConsumed sets the score of every consumed item to -Inf.
func excludeConsumed(scores, history *mat.Dense) {
	numUsers, numItems := history.Dims()
	for u := 0; u < numUsers; u++ {
		for i := 0; i < numItems; i++ {
			if history.At(u, i) > 0 {
				scores.Set(u, i, math.Inf(-1))
			}
		}
	}
}

// rankByScore sorts items by score then noise, both descending.
func rankByScore(scores, noise *mat.Dense) [][]int {
	numUsers, numItems := scores.Dims()
	ranking := make([][]int, numUsers)
	for u := range ranking {
		ranking[u] = sortItems(identity(numItems), scores.RawRowView(u), noise.RawRowView(u))
	}
	return ranking
}

// sortItems sorts items in place by (score, noise) descending. Items tied on both keep
// their relative order.
func sortItems(items []int, score, noise []float64) []int {
	sort.SliceStable(items, func(a, b int) bool {
		i, j := items[a], items[b]
		if score[i] != score[j] {
			return score[i] > score[j]
		}
		return noise[i] > noise[j]
	})
	return items
}

func identity(n int) []int {
	ret := make([]int, n)
	for i := range ret {
		ret[i] = i
	}
	return ret
}

// UserBased recommends items consumed by users with overlapping histories. The similarity
// of two users is the number of items both consumed.
type UserBased struct{}

func (r *UserBased) Rank(history, noise *mat.Dense) ([][]int, error) {
	if err := checkShape(history, noise); err != nil {
		return nil, errors.Trace(err)
	}
	numUsers, _ := history.Dims()
	var similarity mat.Dense
	similarity.Mul(history, history.T())
	for u := 0; u < numUsers; u++ {
		similarity.Set(u, u, 0)
	}
	var scores mat.Dense
	scores.Mul(&similarity, history)
	excludeConsumed(&scores, history)
	return rankByScore(&scores, noise), nil
}

// ItemBased recommends items whose consumers overlap with the consumers of the user's own
// items. The similarity of two items is the cosine of their interaction columns.
type ItemBased struct{}

func (r *ItemBased) Rank(history, noise *mat.Dense) ([][]int, error) {
	if err := checkShape(history, noise); err != nil {
		return nil, errors.Trace(err)
	}
	_, numItems := history.Dims()
	var similarity mat.Dense
	similarity.Mul(history.T(), history)
	norms := make([]float64, numItems)
	for i := range norms {
		norms[i] = math.Sqrt(similarity.At(i, i))
	}
	for i := 0; i < numItems; i++ {
		for j := 0; j < numItems; j++ {
			if norms[i] == 0 || norms[j] == 0 {
				similarity.Set(i, j, 0)
			} else {
				similarity.Set(i, j, similarity.At(i, j)/(norms[i]*norms[j]))
			}
		}
	}
	var scores mat.Dense
	scores.Mul(history, &similarity)
	excludeConsumed(&scores, history)
	return rankByScore(&scores, noise), nil
}

// Random ranks items by noise alone.
type Random struct{}

func (r *Random) Rank(history, noise *mat.Dense) ([][]int, error) {
	if err := checkShape(history, noise); err != nil {
		return nil, errors.Trace(err)
	}
	numUsers, numItems := noise.Dims()
	scores := mat.NewDense(numUsers, numItems, nil)
	return rankByScore(scores, noise), nil
}

// Oracle ranks the items a user has not consumed by true utility, followed by the consumed
// items in noise order. It needs the ground truth and only serves as a ceiling.
type Oracle struct {
	utility *mat.Dense
}

func NewOracle(utility *mat.Dense) *Oracle {
	return &Oracle{utility: utility}
}

func (r *Oracle) Rank(history, noise *mat.Dense) ([][]int, error) {
	if err := checkShape(history, noise); err != nil {
		return nil, errors.Trace(err)
	}
	numUsers, numItems := history.Dims()
	ur, uc := r.utility.Dims()
	if ur != numUsers || uc < numItems {
		return nil, errors.NotValidf("utility of shape %d × %d for history of shape %d × %d", ur, uc, numUsers, numItems)
	}
	zeros := make([]float64, numItems)
	ranking := make([][]int, numUsers)
	for u := range ranking {
		var unconsumed, consumed []int
		for i := 0; i < numItems; i++ {
			if history.At(u, i) > 0 {
				consumed = append(consumed, i)
			} else {
				unconsumed = append(unconsumed, i)
			}
		}
		noiseRow := noise.RawRowView(u)
		sortItems(unconsumed, r.utility.RawRowView(u), noiseRow)
		sortItems(consumed, zeros, noiseRow)
		ranking[u] = append(unconsumed, consumed...)
	}
	return ranking, nil
}
