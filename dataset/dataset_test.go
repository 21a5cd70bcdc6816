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
	"testing"

	"github.com/gorse-io/marketsim/base"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestInteractionMatrix(t *testing.T) {
	m := NewInteractionMatrix(3, 5)
	assert.Equal(t, 3, m.CountUsers())
	assert.Equal(t, 5, m.CountItems())
	assert.NoError(t, m.Set(0, 1))
	assert.NoError(t, m.Set(0, 4))
	assert.NoError(t, m.Set(2, 0))
	assert.True(t, m.Has(0, 1))
	assert.False(t, m.Has(1, 1))
	assert.Equal(t, 2, m.Count(0))
	assert.Equal(t, 3, m.Total())

	// out of range
	assert.True(t, errors.Is(m.Set(3, 0), errors.NotValid))
	assert.True(t, errors.Is(m.Set(0, 5), errors.NotValid))
	assert.True(t, errors.Is(m.Set(-1, 0), errors.NotValid))

	// setting twice keeps the entry
	assert.NoError(t, m.Set(0, 1))
	assert.Equal(t, 3, m.Total())
}

func TestInteractionMatrix_Dense(t *testing.T) {
	m := NewInteractionMatrix(2, 4)
	assert.NoError(t, m.Set(0, 0))
	assert.NoError(t, m.Set(1, 3))
	assert.Nil(t, m.Dense(0))
	dense := m.Dense(3)
	r, c := dense.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, []float64{1, 0, 0}, dense.RawRowView(0))
	assert.Equal(t, []float64{0, 0, 0}, dense.RawRowView(1))
	dense = m.Dense(4)
	assert.Equal(t, 1.0, dense.At(1, 3))
}

func TestInteractionMatrix_Covers(t *testing.T) {
	m := NewInteractionMatrix(2, 4)
	assert.NoError(t, m.Set(0, 0))
	snapshot := m.Clone()
	assert.NoError(t, m.Set(1, 2))
	assert.True(t, m.Covers(snapshot))
	assert.False(t, snapshot.Covers(m))
}

func TestNoiseTensor(t *testing.T) {
	rng := base.NewRandomGenerator(0, 0)
	noise := NewNoiseTensor(rng, 3, 4, 6)
	assert.Equal(t, 3, noise.CountPeriods())
	assert.Nil(t, noise.Slice(0, 0))
	slice := noise.Slice(1, 2)
	r, c := slice.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 2, c)
	full := noise.Slice(1, 6)
	assert.Equal(t, full.At(3, 1), slice.At(3, 1))
	assert.NotEqual(t, noise.Slice(0, 6).At(0, 0), full.At(0, 0))
}

func TestHistory(t *testing.T) {
	h := NewHistory(3, 2)
	assert.Equal(t, 3, h.CountUsers())
	assert.Equal(t, 2, h.CountPeriods())
	assert.Equal(t, []int{NoPurchase, NoPurchase}, h.User(1))
	h.Record(1, []int{4, NoPurchase, 7})
	assert.Equal(t, 4, h.Get(0, 1))
	assert.Equal(t, NoPurchase, h.Get(1, 1))
	assert.Equal(t, []int{NoPurchase, 7}, h.User(2))
}
