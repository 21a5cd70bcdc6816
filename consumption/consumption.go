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

package consumption

import (
	"math"

	"github.com/gorse-io/marketsim/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
	"modernc.org/mathutil"
)

// searchCostExponent is the exponent of the positional discount p^-0.8.
const searchCostExponent = -0.8

// Discount returns the search-cost factor of a 1-indexed position in the presented list.
func Discount(position int) float64 {
	return math.Pow(float64(position), searchCostExponent)
}

// Interleave alternates recommended and new items, starting with the first recommended
// item. The rest of the longer list is appended in order.
func Interleave(recommended, newItems []int) []int {
	n := mathutil.Min(len(recommended), len(newItems))
	candidates := make([]int, 0, len(recommended)+len(newItems))
	for i := 0; i < n; i++ {
		candidates = append(candidates, recommended[i], newItems[i])
	}
	candidates = append(candidates, recommended[n:]...)
	candidates = append(candidates, newItems[n:]...)
	return candidates
}

// Model simulates the single-period purchase decision of users.
type Model struct {
	utility *mat.Dense
	reserve []float64
}

func NewModel(utility *mat.Dense, reserve []float64) *Model {
	return &Model{utility: utility, reserve: reserve}
}

// Consume returns the item bought by the user from the interleaved candidates, or
// dataset.NoPurchase if the best discounted utility does not beat the reserve utility.
// recommended must not contain items the user already consumed.
func (m *Model) Consume(user int, recommended, newItems []int) (int, error) {
	return m.choose(user, Interleave(recommended, newItems))
}

// ConsumeRestricted is Consume for the corpus co-diverted experiment: the user only sees
// items assigned to their own arm.
func (m *Model) ConsumeRestricted(user int, recommended, newItems []int, itemArms []bool, userArm bool) (int, error) {
	if err := m.checkItems(recommended); err != nil {
		return dataset.NoPurchase, errors.Trace(err)
	}
	if err := m.checkItems(newItems); err != nil {
		return dataset.NoPurchase, errors.Trace(err)
	}
	if len(itemArms) < m.countItems() {
		return dataset.NoPurchase, errors.NotValidf("%d item assignments for %d items", len(itemArms), m.countItems())
	}
	sameArm := func(item int, _ int) bool {
		return itemArms[item] == userArm
	}
	candidates := Interleave(lo.Filter(recommended, sameArm), lo.Filter(newItems, sameArm))
	if len(candidates) == 0 {
		return dataset.NoPurchase, nil
	}
	return m.choose(user, candidates)
}

func (m *Model) choose(user int, candidates []int) (int, error) {
	numUsers, _ := m.utility.Dims()
	if user < 0 || user >= numUsers || user >= len(m.reserve) {
		return dataset.NoPurchase, errors.NotValidf("user %d", user)
	}
	if err := m.checkItems(candidates); err != nil {
		return dataset.NoPurchase, errors.Trace(err)
	}
	chosen, best := dataset.NoPurchase, math.Inf(-1)
	for p, item := range candidates {
		observed := m.utility.At(user, item) * Discount(p+1)
		if observed > best {
			chosen, best = item, observed
		}
	}
	if chosen != dataset.NoPurchase && best > m.reserve[user] {
		return chosen, nil
	}
	return dataset.NoPurchase, nil
}

func (m *Model) countItems() int {
	_, numItems := m.utility.Dims()
	return numItems
}

func (m *Model) checkItems(items []int) error {
	numItems := m.countItems()
	for _, item := range items {
		if item < 0 || item >= numItems {
			return errors.NotValidf("item %d out of %d items", item, numItems)
		}
	}
	return nil
}
