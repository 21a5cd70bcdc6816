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

package dataset

import (
	"github.com/gorse-io/marketsim/base"
	"gonum.org/v1/gonum/mat"
)

// NoiseTensor holds one users × items slice of standard normal noise per period. It only
// breaks ties between recommendation scores.
type NoiseTensor struct {
	slices []*mat.Dense
}

func NewNoiseTensor(rng base.RandomGenerator, numPeriods, numUsers, numItems int) *NoiseTensor {
	slices := make([]*mat.Dense, numPeriods)
	for t := range slices {
		slices[t] = rng.NormalMatrix(numUsers, numItems, 0, 1)
	}
	return &NoiseTensor{slices: slices}
}

func (n *NoiseTensor) CountPeriods() int {
	return len(n.slices)
}

// Slice returns the noise of a period restricted to the first numItems items, or nil when
// numItems is zero.
func (n *NoiseTensor) Slice(period, numItems int) *mat.Dense {
	if numItems == 0 {
		return nil
	}
	rows, _ := n.slices[period].Dims()
	return n.slices[period].Slice(0, rows, 0, numItems).(*mat.Dense)
}
