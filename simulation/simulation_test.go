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

package simulation

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/marketsim/base"
	"github.com/gorse-io/marketsim/config"
	"github.com/gorse-io/marketsim/dataset"
	"github.com/gorse-io/marketsim/population"
	"github.com/gorse-io/marketsim/recommend"
	"github.com/gorse-io/marketsim/storage"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// newSmallConfig is a market with 4 users, 2 periods and 2 new items per period.
func newSmallConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Market = config.MarketConfig{
		NumUsers:          4,
		NumItems:          4,
		NumCategories:     2,
		NumPeriods:        2,
		NumItemsPerPeriod: 2,
	}
	cfg.Population.NumClusters = 2
	cfg.Recommend = config.RecommendConfig{
		Control:           config.UserBased,
		Treatment:         config.Random,
		TrainingFrequency: 1,
		InitialPeriods:    0,
	}
	cfg.Experiment.Replicates = 3
	cfg.Experiment.Seed = 42
	return cfg
}

// newSmallPopulation has positive utilities and zero reserves, so every user buys every period.
// A reserve percentile of 0 would not do: it equals the row minimum, which never strictly
// beats itself.
func newSmallPopulation() *population.Population {
	return &population.Population{
		Utility: mat.NewDense(4, 4, []float64{
			0.9, 0.2, 0.4, 0.1,
			0.3, 0.8, 0.2, 0.6,
			0.5, 0.5, 0.7, 0.3,
			0.1, 0.4, 0.3, 0.9,
		}),
		Reserve: []float64{0, 0, 0, 0},
	}
}

func newGeneratedConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Market = config.MarketConfig{
		NumUsers:          30,
		NumItems:          40,
		NumCategories:     4,
		NumPeriods:        6,
		NumItemsPerPeriod: 5,
	}
	cfg.Population.NumClusters = 2
	cfg.Population.ReservePercentile = 50
	cfg.Recommend.InitialPeriods = 1
	cfg.Experiment.Replicates = 4
	cfg.Experiment.Seed = 7
	return cfg
}

func generate(t *testing.T, cfg *config.Config) *population.Population {
	pop, err := population.Generate(base.NewRandomGenerator(cfg.Experiment.Seed, PopulationStream), cfg)
	assert.NoError(t, err)
	return pop
}

func TestSmallMarket(t *testing.T) {
	cfg := newSmallConfig()
	// explicit zero reserves instead of a reserve percentile of 0
	s, err := NewSimulator(cfg, newSmallPopulation(), nil)
	assert.NoError(t, err)
	for b := 0; b < cfg.Experiment.Replicates; b++ {
		r, err := s.simulate(b)
		assert.NoError(t, err)
		for u := 0; u < cfg.Market.NumUsers; u++ {
			for period := 0; period < cfg.Market.NumPeriods; period++ {
				assert.NotEqual(t, dataset.NoPurchase, r.History.Get(u, period))
			}
		}
	}
	control, treatment, err := s.Run(context.Background())
	assert.NoError(t, err)
	assert.Len(t, control, 2)
	assert.Len(t, treatment, 2)
	for _, rate := range append(control, treatment...) {
		assert.GreaterOrEqual(t, rate, 0.0)
		assert.LessOrEqual(t, rate, 1.0)
	}
	// nothing is introduced before the first period
	assert.Zero(t, control[0])
	assert.Zero(t, treatment[0])
}

func TestReproducible(t *testing.T) {
	cfg := newSmallConfig()
	s, err := NewSimulator(cfg, newSmallPopulation(), nil)
	assert.NoError(t, err)
	control1, treatment1, err := s.Run(context.Background())
	assert.NoError(t, err)
	control2, treatment2, err := s.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, control1, control2)
	assert.Equal(t, treatment1, treatment2)

	// the number of workers does not matter
	parallelConfig := *newGeneratedConfig()
	parallelConfig.Experiment.Jobs = 4
	serial, err := NewSimulator(newGeneratedConfig(), generate(t, newGeneratedConfig()), nil)
	assert.NoError(t, err)
	concurrent, err := NewSimulator(&parallelConfig, generate(t, &parallelConfig), nil)
	assert.NoError(t, err)
	control1, treatment1, err = serial.Run(context.Background())
	assert.NoError(t, err)
	control2, treatment2, err = concurrent.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, control1, control2)
	assert.Equal(t, treatment1, treatment2)
}

func TestNoRepeatedPurchase(t *testing.T) {
	cfg := newGeneratedConfig()
	s, err := NewSimulator(cfg, generate(t, cfg), nil)
	assert.NoError(t, err)
	r, err := s.simulate(0)
	assert.NoError(t, err)
	for u := 0; u < cfg.Market.NumUsers; u++ {
		purchased := mapset.NewSet[int]()
		for period, item := range r.History.User(u) {
			if item == dataset.NoPurchase {
				continue
			}
			assert.False(t, purchased.Contains(item), "user %d bought item %d twice", u, item)
			purchased.Add(item)
			assert.Less(t, item, cfg.Market.IntroducedBefore(period+1))
			assert.True(t, r.Interactions.Has(u, item))
		}
		assert.Equal(t, purchased.Cardinality(), r.Interactions.Count(u))
	}
}

func TestOracleDominatesRandom(t *testing.T) {
	cfg := newGeneratedConfig()
	cfg.Market = config.MarketConfig{
		NumUsers:          60,
		NumItems:          100,
		NumCategories:     5,
		NumPeriods:        8,
		NumItemsPerPeriod: 10,
	}
	cfg.Population.ReservePercentile = 90
	cfg.Recommend.Control = config.Random
	cfg.Recommend.Treatment = config.Oracle
	cfg.Experiment.Replicates = 5
	s, err := NewSimulator(cfg, generate(t, cfg), nil)
	assert.NoError(t, err)
	control, treatment, err := s.Run(context.Background())
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, floats.Sum(treatment), floats.Sum(control))
}

func TestNeverPurchase(t *testing.T) {
	cfg := newSmallConfig()
	pop := newSmallPopulation()
	for u := range pop.Reserve {
		pop.Reserve[u] = math.Inf(1)
	}
	s, err := NewSimulator(cfg, pop, nil)
	assert.NoError(t, err)
	r, err := s.simulate(0)
	assert.NoError(t, err)
	assert.Zero(t, r.Interactions.Total())
	control, treatment, err := s.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, control)
	assert.Equal(t, []float64{0, 0}, treatment)
}

func TestCorpusDiverted(t *testing.T) {
	cfg := newGeneratedConfig()
	cfg.Experiment.CorpusDiverted = true
	s, err := NewSimulator(cfg, generate(t, cfg), nil)
	assert.NoError(t, err)
	r, err := s.simulate(1)
	assert.NoError(t, err)
	assert.Len(t, r.ItemArms, cfg.Market.NumItems)
	for u := 0; u < cfg.Market.NumUsers; u++ {
		for period, item := range r.History.User(u) {
			if period >= cfg.Recommend.InitialPeriods && item != dataset.NoPurchase {
				assert.Equal(t, r.Assignment[u], r.ItemArms[item])
			}
		}
	}
}

func TestGroupAssignment(t *testing.T) {
	cfg := newGeneratedConfig()
	cfg.Population.ClusteredPreferences = true
	cfg.Population.GroupAssignment = true
	pop := generate(t, cfg)
	s, err := NewSimulator(cfg, pop, nil)
	assert.NoError(t, err)
	r, err := s.simulate(0)
	assert.NoError(t, err)
	arms := make(map[int]bool)
	for u, group := range pop.Groups {
		if arm, exist := arms[group]; exist {
			assert.Equal(t, arm, r.Assignment[u])
		} else {
			arms[group] = r.Assignment[u]
		}
	}
	// preference clusters are required
	noGroups := *pop
	noGroups.Groups = nil
	_, err = NewSimulator(cfg, &noGroups, nil)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestRegeneratePopulation(t *testing.T) {
	cfg := newGeneratedConfig()
	cfg.Recommend.Treatment = config.Oracle
	cfg.Experiment.RegeneratePopulation = true
	s, err := NewSimulator(cfg, nil, nil)
	assert.NoError(t, err)
	control, treatment, err := s.Run(context.Background())
	assert.NoError(t, err)
	assert.Len(t, control, cfg.Market.NumPeriods)
	assert.Len(t, treatment, cfg.Market.NumPeriods)

	cfg.Experiment.RegeneratePopulation = false
	_, err = NewSimulator(cfg, nil, nil)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestInvalidPopulation(t *testing.T) {
	cfg := newSmallConfig()
	// fewer items than introduced over the run
	narrow := &population.Population{
		Utility: mat.NewDense(4, 3, nil),
		Reserve: []float64{0, 0, 0, 0},
	}
	_, err := NewSimulator(cfg, narrow, nil)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, _, err = RunSimulation(context.Background(), cfg, narrow, &recommend.Random{}, &recommend.Random{}, nil)
	assert.True(t, errors.Is(err, errors.NotValid))
	// wrong number of users
	wide := &population.Population{
		Utility: mat.NewDense(3, 4, nil),
		Reserve: []float64{0, 0, 0},
	}
	_, err = NewSimulator(cfg, wide, nil)
	assert.True(t, errors.Is(err, errors.NotValid))
	// missing reserve utilities
	pop := newSmallPopulation()
	pop.Reserve = pop.Reserve[:2]
	_, err = NewSimulator(cfg, pop, nil)
	assert.True(t, errors.Is(err, errors.NotValid))
	// invalid config
	cfg.Population.NumClusters = 5
	_, err = NewSimulator(cfg, newSmallPopulation(), nil)
	assert.True(t, errors.Is(err, errors.NotValid))
	cfg.Population.NumClusters = 2
	cfg.Experiment.Replicates = 0
	_, err = NewSimulator(cfg, newSmallPopulation(), nil)
	assert.Error(t, err)
}

func TestRunSimulation(t *testing.T) {
	cfg := newSmallConfig()
	pop := newSmallPopulation()
	control, treatment, err := RunSimulation(context.Background(), cfg, pop,
		&recommend.ItemBased{}, recommend.NewOracle(pop.Utility), nil)
	assert.NoError(t, err)
	assert.Len(t, control, 2)
	assert.Len(t, treatment, 2)

	cfg.Experiment.RegeneratePopulation = true
	_, _, err = RunSimulation(context.Background(), cfg, pop, &recommend.Random{}, &recommend.Random{}, nil)
	assert.True(t, errors.Is(err, errors.NotSupported))
}

func TestProgressLog(t *testing.T) {
	cfg := newSmallConfig()
	progressLog, err := storage.OpenProgressLog(filepath.Join(t.TempDir(), "progress.log"))
	assert.NoError(t, err)
	defer progressLog.Close()
	s, err := NewSimulator(cfg, newSmallPopulation(), progressLog)
	assert.NoError(t, err)
	replicates := testutil.ToFloat64(ReplicatesTotal)
	periods := testutil.ToFloat64(PeriodsTotal)
	_, _, err = s.Run(context.Background())
	assert.NoError(t, err)
	lines, err := progressLog.Lines(context.Background())
	assert.NoError(t, err)
	var expected []string
	for k := 1; k <= cfg.Experiment.Replicates; k++ {
		expected = append(expected, fmt.Sprintf("Simulation %d of %d completed", k, cfg.Experiment.Replicates))
	}
	assert.Equal(t, expected, lines)
	assert.Equal(t, float64(cfg.Experiment.Replicates), testutil.ToFloat64(ReplicatesTotal)-replicates)
	assert.Equal(t, float64(cfg.Experiment.Replicates*cfg.Market.NumPeriods), testutil.ToFloat64(PeriodsTotal)-periods)

	// completion lines stay ordered on many workers
	cfg = newGeneratedConfig()
	cfg.Experiment.Replicates = 16
	cfg.Experiment.Jobs = 4
	progressLog, err = storage.OpenProgressLog(filepath.Join(t.TempDir(), "progress.log"))
	assert.NoError(t, err)
	defer progressLog.Close()
	s, err = NewSimulator(cfg, generate(t, cfg), progressLog)
	assert.NoError(t, err)
	_, _, err = s.Run(context.Background())
	assert.NoError(t, err)
	lines, err = progressLog.Lines(context.Background())
	assert.NoError(t, err)
	expected = nil
	for k := 1; k <= cfg.Experiment.Replicates; k++ {
		expected = append(expected, fmt.Sprintf("Simulation %d of %d completed", k, cfg.Experiment.Replicates))
	}
	assert.Equal(t, expected, lines)
}

func TestInvalidRegeneratedPopulation(t *testing.T) {
	cfg := newGeneratedConfig()
	cfg.Experiment.RegeneratePopulation = true
	// Beta shapes are positive iff sigma² < mu(1-mu). Find the tightest bound of every
	// replicate and pick a sigma that the tightest replicate rejects.
	bounds := make([]float64, cfg.Experiment.Replicates)
	for b := range bounds {
		pop, err := population.Generate(base.NewRandomGenerator(cfg.Experiment.Seed, uint64(b)+PopulationStream+1), cfg)
		assert.NoError(t, err)
		var mean mat.Dense
		mean.Mul(pop.Preferences, pop.Characteristics.T())
		bounds[b] = math.Inf(1)
		rows, cols := mean.Dims()
		for u := 0; u < rows; u++ {
			for i := 0; i < cols; i++ {
				mu := math.Max(mean.At(u, i), 1e-9)
				bounds[b] = math.Min(bounds[b], mu*(1-mu))
			}
		}
	}
	low, high := floats.Min(bounds), floats.Max(bounds)
	cfg.Population.Sigma = math.Sqrt((low + high) / 2)

	progressLog, err := storage.OpenProgressLog(filepath.Join(t.TempDir(), "progress.log"))
	assert.NoError(t, err)
	defer progressLog.Close()
	s, err := NewSimulator(cfg, nil, progressLog)
	assert.NoError(t, err)
	replicates := testutil.ToFloat64(ReplicatesTotal)
	periods := testutil.ToFloat64(PeriodsTotal)
	for _, jobs := range []int{1, 4} {
		cfg.Experiment.Jobs = jobs
		_, _, err = s.Run(context.Background())
		assert.True(t, errors.Is(err, errors.NotValid))
	}
	// no period is simulated
	lines, err := progressLog.Lines(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, lines)
	assert.Equal(t, replicates, testutil.ToFloat64(ReplicatesTotal))
	assert.Equal(t, periods, testutil.ToFloat64(PeriodsTotal))
}

func TestInteractionsOnlyGrow(t *testing.T) {
	cfg := newGeneratedConfig()
	s, err := NewSimulator(cfg, generate(t, cfg), nil)
	assert.NoError(t, err)
	snapshots := make(map[int]*dataset.InteractionMatrix)
	observed := 0
	s.observe = func(replicate, period int, interactions *dataset.InteractionMatrix) {
		if last, ok := snapshots[replicate]; ok {
			assert.True(t, interactions.Covers(last), "replicate %d period %d", replicate, period)
			assert.GreaterOrEqual(t, interactions.Total(), last.Total())
		} else {
			assert.Zero(t, period)
		}
		snapshots[replicate] = interactions.Clone()
		observed++
	}
	_, _, err = s.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, cfg.Experiment.Replicates*cfg.Market.NumPeriods, observed)
	assert.Len(t, snapshots, cfg.Experiment.Replicates)
}

func TestRandomTakeUpRate(t *testing.T) {
	// Every user values the items introduced in period 1 at 1 and all others at 0, with a
	// reserve of 0.9. Only an item at the first position beats the reserve, and since that
	// slot is the top random recommendation, a user buys with chance about
	// (items per period) / (introduced items).
	const (
		numUsers          = 1000
		numPeriods        = 10
		numItemsPerPeriod = 40
	)
	cfg := config.GetDefaultConfig()
	cfg.Market = config.MarketConfig{
		NumUsers:          numUsers,
		NumItems:          numPeriods * numItemsPerPeriod,
		NumCategories:     4,
		NumPeriods:        numPeriods,
		NumItemsPerPeriod: numItemsPerPeriod,
	}
	cfg.Population.NumClusters = 2
	cfg.Recommend.TrainingFrequency = 1
	cfg.Recommend.InitialPeriods = 0
	cfg.Experiment.Replicates = 8
	cfg.Experiment.Seed = 11
	utility := mat.NewDense(numUsers, cfg.Market.NumItems, nil)
	for u := 0; u < numUsers; u++ {
		for i := numItemsPerPeriod; i < 2*numItemsPerPeriod; i++ {
			utility.Set(u, i, 1)
		}
	}
	reserve := make([]float64, numUsers)
	for u := range reserve {
		reserve[u] = 0.9
	}
	pop := &population.Population{Utility: utility, Reserve: reserve}
	control, treatment, err := RunSimulation(context.Background(), cfg, pop, &recommend.Random{}, &recommend.Random{}, nil)
	assert.NoError(t, err)
	assert.Zero(t, control[0]+treatment[0])
	assert.Zero(t, control[1]+treatment[1])
	for period := 2; period < numPeriods; period++ {
		expected := float64(numItemsPerPeriod) / float64(cfg.Market.IntroducedBefore(period))
		assert.InDelta(t, expected, (control[period]+treatment[period])/2, 0.03, "period %d", period)
	}
}

func TestCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := NewSimulator(newSmallConfig(), newSmallPopulation(), nil)
	assert.NoError(t, err)
	_, _, err = s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
