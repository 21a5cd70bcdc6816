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
	"github.com/bits-and-blooms/bitset"
	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
)

// InteractionMatrix is the binary users × items consumption record of one replicate.
// Entries only ever flip from 0 to 1.
type InteractionMatrix struct {
	numItems int
	rows     []*bitset.BitSet
}

func NewInteractionMatrix(numUsers, numItems int) *InteractionMatrix {
	rows := make([]*bitset.BitSet, numUsers)
	for i := range rows {
		rows[i] = bitset.New(uint(numItems))
	}
	return &InteractionMatrix{numItems: numItems, rows: rows}
}

func (m *InteractionMatrix) CountUsers() int {
	return len(m.rows)
}

func (m *InteractionMatrix) CountItems() int {
	return m.numItems
}

// Set marks that the user has consumed the item.
func (m *InteractionMatrix) Set(user, item int) error {
	if user < 0 || user >= len(m.rows) || item < 0 || item >= m.numItems {
		return errors.NotValidf("interaction (%d, %d) out of %d × %d", user, item, len(m.rows), m.numItems)
	}
	m.rows[user].Set(uint(item))
	return nil
}

// Has reports whether the user has consumed the item.
func (m *InteractionMatrix) Has(user, item int) bool {
	return m.rows[user].Test(uint(item))
}

// Count returns the number of items consumed by the user.
func (m *InteractionMatrix) Count(user int) int {
	return int(m.rows[user].Count())
}

// Total returns the number of consumed (user, item) pairs.
func (m *InteractionMatrix) Total() int {
	total := 0
	for _, row := range m.rows {
		total += int(row.Count())
	}
	return total
}

// Dense returns the first numItems columns as a dense 0/1 matrix. It returns nil when
// numItems is zero since gonum does not allow empty matrices.
func (m *InteractionMatrix) Dense(numItems int) *mat.Dense {
	if numItems == 0 || len(m.rows) == 0 {
		return nil
	}
	dense := mat.NewDense(len(m.rows), numItems, nil)
	for u, row := range m.rows {
		for i, ok := row.NextSet(0); ok && int(i) < numItems; i, ok = row.NextSet(i + 1) {
			dense.Set(u, int(i), 1)
		}
	}
	return dense
}

// Clone returns a deep copy.
func (m *InteractionMatrix) Clone() *InteractionMatrix {
	rows := make([]*bitset.BitSet, len(m.rows))
	for i, row := range m.rows {
		rows[i] = row.Clone()
	}
	return &InteractionMatrix{numItems: m.numItems, rows: rows}
}

// Covers reports whether every interaction of other is also set in m.
func (m *InteractionMatrix) Covers(other *InteractionMatrix) bool {
	if len(m.rows) != len(other.rows) {
		return false
	}
	for i := range m.rows {
		if !m.rows[i].IsSuperSet(other.rows[i]) {
			return false
		}
	}
	return true
}
