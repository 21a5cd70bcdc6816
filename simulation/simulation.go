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
	"sync"

	"github.com/gorse-io/marketsim/base"
	"github.com/gorse-io/marketsim/base/log"
	"github.com/gorse-io/marketsim/base/parallel"
	"github.com/gorse-io/marketsim/base/progress"
	"github.com/gorse-io/marketsim/config"
	"github.com/gorse-io/marketsim/consumption"
	"github.com/gorse-io/marketsim/dataset"
	"github.com/gorse-io/marketsim/metrics"
	"github.com/gorse-io/marketsim/population"
	"github.com/gorse-io/marketsim/recommend"
	"github.com/gorse-io/marketsim/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// PopulationStream is the random stream of the population shared by all replicates.
// Replicate b draws from stream b+1.
const PopulationStream = 0

// Simulator runs replicated A/B tests of two recommendation strategies on a simulated market.
type Simulator struct {
	config      *config.Config
	population  *population.Population
	control     recommend.Recommender
	treatment   recommend.Recommender
	progressLog storage.ProgressLog
	// observe is called with the interactions at the end of every period.
	observe func(replicate, period int, interactions *dataset.InteractionMatrix)
}

// NewSimulator creates a simulator whose strategies are named by the configuration. The
// population may be nil only if it is regenerated in every replicate.
func NewSimulator(cfg *config.Config, pop *population.Population, progressLog storage.ProgressLog) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	s := &Simulator{config: cfg, population: pop, progressLog: progressLog}
	if pop == nil {
		if !cfg.Experiment.RegeneratePopulation {
			return nil, errors.NotValidf("missing population")
		}
		return s, nil
	}
	if err := checkPopulation(cfg, pop); err != nil {
		return nil, errors.Trace(err)
	}
	var err error
	if s.control, s.treatment, err = newRecommenders(cfg, pop); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

// RunSimulation runs the replicates with the given population and strategies, and returns the
// take-up rate curves of the control and the treatment arm averaged over replicates.
func RunSimulation(ctx context.Context, cfg *config.Config, pop *population.Population,
	control, treatment recommend.Recommender, progressLog storage.ProgressLog) ([]float64, []float64, error) {
	if pop == nil {
		return nil, nil, errors.NotValidf("missing population")
	}
	if cfg.Experiment.RegeneratePopulation {
		return nil, nil, errors.NotSupportedf("population regeneration with given recommenders")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, errors.Trace(err)
	}
	if err := checkPopulation(cfg, pop); err != nil {
		return nil, nil, errors.Trace(err)
	}
	s := &Simulator{
		config:      cfg,
		population:  pop,
		control:     control,
		treatment:   treatment,
		progressLog: progressLog,
	}
	return s.Run(ctx)
}

func checkPopulation(cfg *config.Config, pop *population.Population) error {
	if pop.Utility == nil {
		return errors.NotValidf("missing utility matrix")
	}
	numUsers, numItems := pop.Utility.Dims()
	if numUsers != cfg.Market.NumUsers {
		return errors.NotValidf("utility matrix with %d users for %d users", numUsers, cfg.Market.NumUsers)
	}
	if numItems < cfg.Market.CatalogSize() {
		return errors.NotValidf("utility matrix with %d items for %d introduced items", numItems, cfg.Market.CatalogSize())
	}
	if len(pop.Reserve) != numUsers {
		return errors.NotValidf("%d reserve utilities for %d users", len(pop.Reserve), numUsers)
	}
	if cfg.Population.GroupAssignment && len(pop.Groups) != numUsers {
		return errors.NotValidf("group assignment without preference clusters")
	}
	return nil
}

func newRecommenders(cfg *config.Config, pop *population.Population) (control, treatment recommend.Recommender, err error) {
	if control, err = recommend.New(cfg.Recommend.Control, pop.Utility); err != nil {
		return nil, nil, errors.Trace(err)
	}
	if treatment, err = recommend.New(cfg.Recommend.Treatment, pop.Utility); err != nil {
		return nil, nil, errors.Trace(err)
	}
	return control, treatment, nil
}

// Run simulates every replicate on config.Experiment.Jobs workers. Results do not depend on
// the number of workers. Every market is set up before any period is simulated, so an invalid
// regenerated population fails the run without progress.
func (s *Simulator) Run(ctx context.Context) ([]float64, []float64, error) {
	numReplicates := s.config.Experiment.Replicates
	numPeriods := s.config.Market.NumPeriods
	ctx, span := progress.Start(ctx, "simulation", numReplicates)
	markets := make([]*market, numReplicates)
	err := parallel.Parallel(ctx, numReplicates, s.config.Experiment.Jobs, func(_, b int) error {
		var err error
		if markets[b], err = s.newMarket(b); err != nil {
			return errors.Annotatef(err, "replicate %d", b)
		}
		return nil
	})
	if err != nil {
		span.Fail(err)
		return nil, nil, errors.Trace(err)
	}
	controlCurves := make([][]float64, numReplicates)
	treatmentCurves := make([][]float64, numReplicates)
	var (
		mu        sync.Mutex
		completed int
	)
	err = parallel.Parallel(ctx, numReplicates, s.config.Experiment.Jobs, func(_, b int) error {
		log.Logger().Debug("start replicate", zap.Int("replicate", b))
		var err error
		if controlCurves[b], treatmentCurves[b], err = s.replicate(markets[b]); err != nil {
			return errors.Annotatef(err, "replicate %d", b)
		}
		markets[b] = nil
		ReplicatesTotal.Inc()
		span.Add(1)
		// lines reach the log in completion order
		mu.Lock()
		defer mu.Unlock()
		completed++
		log.Logger().Debug("complete replicate", zap.Int("replicate", b), zap.Int("completed", completed))
		s.appendProgress(ctx, fmt.Sprintf("Simulation %d of %d completed", completed, numReplicates))
		return nil
	})
	if err != nil {
		span.Fail(err)
		return nil, nil, errors.Trace(err)
	}
	span.End()
	return average(controlCurves, numPeriods), average(treatmentCurves, numPeriods), nil
}

// appendProgress never fails the simulation.
func (s *Simulator) appendProgress(ctx context.Context, line string) {
	if s.progressLog == nil {
		return
	}
	if err := s.progressLog.Append(ctx, line); err != nil {
		ProgressErrorsTotal.Inc()
		log.Logger().Warn("failed to append progress", zap.String("line", line), zap.Error(err))
	}
}

func average(curves [][]float64, numPeriods int) []float64 {
	mean := make([]float64, numPeriods)
	if len(curves) == 0 {
		return mean
	}
	for _, curve := range curves {
		floats.Add(mean, curve)
	}
	floats.Scale(1/float64(len(curves)), mean)
	return mean
}

// Replicate is the outcome of one independent market.
type Replicate struct {
	History      *dataset.History
	Interactions *dataset.InteractionMatrix
	Assignment   []bool
	ItemArms     []bool
}

func (s *Simulator) replicate(m *market) ([]float64, []float64, error) {
	r, err := s.play(m)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	controlRate, treatmentRate, err := metrics.TakeUpRate(r.History, r.Assignment, s.config.Market.NumItemsPerPeriod)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return controlRate, treatmentRate, nil
}

// market is the population and strategies of one replicate, with the random stream that
// continues into its periods.
type market struct {
	replicate int
	rng       base.RandomGenerator
	pop       *population.Population
	control   recommend.Recommender
	treatment recommend.Recommender
}

// newMarket sets up replicate b from its own random stream.
func (s *Simulator) newMarket(b int) (*market, error) {
	cfg := s.config
	m := &market{
		replicate: b,
		rng:       base.NewRandomGenerator(cfg.Experiment.Seed, uint64(b)+PopulationStream+1),
		pop:       s.population,
		control:   s.control,
		treatment: s.treatment,
	}
	if cfg.Experiment.RegeneratePopulation {
		var err error
		if m.pop, err = population.Generate(m.rng, cfg); err != nil {
			return nil, errors.Trace(err)
		}
		if m.control, m.treatment, err = newRecommenders(cfg, m.pop); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return m, nil
}

// simulate runs replicate b from its own random stream.
func (s *Simulator) simulate(b int) (*Replicate, error) {
	m, err := s.newMarket(b)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return s.play(m)
}

func (s *Simulator) play(m *market) (*Replicate, error) {
	cfg := s.config
	rng, pop, control, treatment := m.rng, m.pop, m.control, m.treatment
	numUsers := cfg.Market.NumUsers
	numPeriods := cfg.Market.NumPeriods
	numNew := cfg.Market.NumItemsPerPeriod
	_, numItems := pop.Utility.Dims()

	// replicate setup
	assignment := assign(rng, cfg, pop)
	noise := dataset.NewNoiseTensor(rng, numPeriods, numUsers, cfg.Market.CatalogSize())
	var itemArms []bool
	if cfg.Experiment.CorpusDiverted {
		itemArms = rng.Bools(numItems)
	}
	interactions := dataset.NewInteractionMatrix(numUsers, cfg.Market.CatalogSize())
	history := dataset.NewHistory(numUsers, numPeriods)
	model := consumption.NewModel(pop.Utility, pop.Reserve)

	var lists [][]int
	choices := make([]int, numUsers)
	for t := 0; t < numPeriods; t++ {
		introduced := cfg.Market.IntroducedBefore(t)
		if t%cfg.Recommend.TrainingFrequency == 0 && t >= cfg.Recommend.InitialPeriods && introduced > 0 {
			var err error
			if lists, err = train(interactions, noise, t, introduced, assignment, control, treatment); err != nil {
				return nil, errors.Trace(err)
			}
			RetrainsTotal.Inc()
		}
		restricted := cfg.Experiment.CorpusDiverted && t >= cfg.Recommend.InitialPeriods
		for u := 0; u < numUsers; u++ {
			newItems := lo.RangeFrom(introduced, numNew)
			rng.ShuffleInts(newItems)
			var recommended []int
			if lists != nil {
				recommended = lo.Filter(lists[u], func(item int, _ int) bool {
					return !interactions.Has(u, item)
				})
			}
			var err error
			if restricted {
				choices[u], err = model.ConsumeRestricted(u, recommended, newItems, itemArms, assignment[u])
			} else {
				choices[u], err = model.Consume(u, recommended, newItems)
			}
			if err != nil {
				return nil, errors.Trace(err)
			}
		}
		// choices of this period are applied after every user has chosen
		for u, item := range choices {
			if item == dataset.NoPurchase {
				continue
			}
			if err := interactions.Set(u, item); err != nil {
				return nil, errors.Trace(err)
			}
			PurchasesTotal.WithLabelValues(armLabel(assignment[u])).Inc()
		}
		history.Record(t, choices)
		PeriodsTotal.Inc()
		if s.observe != nil {
			s.observe(m.replicate, t, interactions)
		}
	}
	return &Replicate{
		History:      history,
		Interactions: interactions,
		Assignment:   assignment,
		ItemArms:     itemArms,
	}, nil
}

// assign draws the arm of every user. Under group assignment the arm is drawn per corner
// category, so users of the same preference cluster share an arm.
func assign(rng base.RandomGenerator, cfg *config.Config, pop *population.Population) []bool {
	if !cfg.Population.GroupAssignment {
		return rng.Bools(cfg.Market.NumUsers)
	}
	arms := rng.Bools(cfg.Market.NumCategories)
	assignment := make([]bool, len(pop.Groups))
	for u, group := range pop.Groups {
		assignment[u] = arms[group]
	}
	return assignment
}

// train ranks the introduced items with both strategies and gives every user the list of
// their own arm.
func train(interactions *dataset.InteractionMatrix, noise *dataset.NoiseTensor, period, introduced int,
	assignment []bool, control, treatment recommend.Recommender) ([][]int, error) {
	history := interactions.Dense(introduced)
	slice := noise.Slice(period, introduced)
	controlLists, err := control.Rank(history, slice)
	if err != nil {
		return nil, errors.Trace(err)
	}
	treatmentLists, err := treatment.Rank(history, slice)
	if err != nil {
		return nil, errors.Trace(err)
	}
	lists := make([][]int, len(assignment))
	for u, arm := range assignment {
		if arm {
			lists[u] = treatmentLists[u]
		} else {
			lists[u] = controlLists[u]
		}
	}
	return lists, nil
}
