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

package config

import (
	"github.com/go-playground/validator/v10"
	"github.com/gorse-io/marketsim/base/log"
	"github.com/juju/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Names of the recommendation strategies.
const (
	UserBased = "user_based"
	ItemBased = "item_based"
	Random    = "random"
	Oracle    = "oracle"
)

// Strategies lists every strategy name accepted by the configuration.
var Strategies = []string{UserBased, ItemBased, Random, Oracle}

// Config is the configuration of a simulation run. It is treated as immutable once loaded.
type Config struct {
	Market     MarketConfig     `mapstructure:"market"`
	Population PopulationConfig `mapstructure:"population"`
	Recommend  RecommendConfig  `mapstructure:"recommend"`
	Experiment ExperimentConfig `mapstructure:"experiment"`
	Output     OutputConfig     `mapstructure:"output"`
}

// MarketConfig is the size of the simulated marketplace.
type MarketConfig struct {
	NumUsers          int `mapstructure:"num_users" validate:"gt=0"`
	NumItems          int `mapstructure:"num_items" validate:"gt=0"`
	NumCategories     int `mapstructure:"num_categories" validate:"gt=0"`
	NumPeriods        int `mapstructure:"num_periods" validate:"gt=0"`
	NumItemsPerPeriod int `mapstructure:"num_items_per_period" validate:"gt=0"`
}

// IntroducedBefore returns the number of items introduced before the period starts.
func (c *MarketConfig) IntroducedBefore(period int) int {
	return period * c.NumItemsPerPeriod
}

// CatalogSize returns the number of items introduced over the whole run.
func (c *MarketConfig) CatalogSize() int {
	return c.NumPeriods * c.NumItemsPerPeriod
}

type PopulationConfig struct {
	Sigma                float64 `mapstructure:"sigma" validate:"gt=0"`
	ReservePercentile    float64 `mapstructure:"reserve_percentile" validate:"gte=0,lte=100"`
	GammaPref            float64 `mapstructure:"gamma_pref" validate:"gt=0"`
	GammaItem            float64 `mapstructure:"gamma_item" validate:"gt=0"`
	ClusteredPreferences bool    `mapstructure:"clustered_preferences"`
	ClusteredItems       bool    `mapstructure:"clustered_items"`
	NumClusters          int     `mapstructure:"num_clusters" validate:"gt=0"`
	GroupAssignment      bool    `mapstructure:"group_assignment"`
}

type RecommendConfig struct {
	Control           string `mapstructure:"control" validate:"oneof=user_based item_based random oracle"`
	Treatment         string `mapstructure:"treatment" validate:"oneof=user_based item_based random oracle"`
	TrainingFrequency int    `mapstructure:"training_frequency" validate:"gt=0"`
	InitialPeriods    int    `mapstructure:"initial_periods" validate:"gte=0"`
}

type ExperimentConfig struct {
	Replicates           int    `mapstructure:"replicates" validate:"gt=0"`
	Seed                 uint64 `mapstructure:"seed"`
	Jobs                 int    `mapstructure:"jobs" validate:"gt=0"`
	CorpusDiverted       bool   `mapstructure:"corpus_diverted"`
	RegeneratePopulation bool   `mapstructure:"regenerate_population"`
}

type OutputConfig struct {
	ProgressLog string `mapstructure:"progress_log" validate:"required"`
	ResultStore string `mapstructure:"result_store"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Market: MarketConfig{
			NumUsers:          100,
			NumItems:          200,
			NumCategories:     10,
			NumPeriods:        20,
			NumItemsPerPeriod: 10,
		},
		Population: PopulationConfig{
			Sigma:             1e-5,
			ReservePercentile: 90,
			GammaPref:         10,
			GammaItem:         10,
			NumClusters:       4,
		},
		Recommend: RecommendConfig{
			Control:           UserBased,
			Treatment:         ItemBased,
			TrainingFrequency: 1,
			InitialPeriods:    5,
		},
		Experiment: ExperimentConfig{
			Replicates: 10,
			Jobs:       1,
		},
		Output: OutputConfig{
			ProgressLog: "marketsim_progress.log",
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [market]
	v.SetDefault("market.num_users", defaultConfig.Market.NumUsers)
	v.SetDefault("market.num_items", defaultConfig.Market.NumItems)
	v.SetDefault("market.num_categories", defaultConfig.Market.NumCategories)
	v.SetDefault("market.num_periods", defaultConfig.Market.NumPeriods)
	v.SetDefault("market.num_items_per_period", defaultConfig.Market.NumItemsPerPeriod)
	// [population]
	v.SetDefault("population.sigma", defaultConfig.Population.Sigma)
	v.SetDefault("population.reserve_percentile", defaultConfig.Population.ReservePercentile)
	v.SetDefault("population.gamma_pref", defaultConfig.Population.GammaPref)
	v.SetDefault("population.gamma_item", defaultConfig.Population.GammaItem)
	v.SetDefault("population.clustered_preferences", defaultConfig.Population.ClusteredPreferences)
	v.SetDefault("population.clustered_items", defaultConfig.Population.ClusteredItems)
	v.SetDefault("population.num_clusters", defaultConfig.Population.NumClusters)
	v.SetDefault("population.group_assignment", defaultConfig.Population.GroupAssignment)
	// [recommend]
	v.SetDefault("recommend.control", defaultConfig.Recommend.Control)
	v.SetDefault("recommend.treatment", defaultConfig.Recommend.Treatment)
	v.SetDefault("recommend.training_frequency", defaultConfig.Recommend.TrainingFrequency)
	v.SetDefault("recommend.initial_periods", defaultConfig.Recommend.InitialPeriods)
	// [experiment]
	v.SetDefault("experiment.replicates", defaultConfig.Experiment.Replicates)
	v.SetDefault("experiment.seed", defaultConfig.Experiment.Seed)
	v.SetDefault("experiment.jobs", defaultConfig.Experiment.Jobs)
	v.SetDefault("experiment.corpus_diverted", defaultConfig.Experiment.CorpusDiverted)
	v.SetDefault("experiment.regenerate_population", defaultConfig.Experiment.RegeneratePopulation)
	// [output]
	v.SetDefault("output.progress_log", defaultConfig.Output.ProgressLog)
	v.SetDefault("output.result_store", defaultConfig.Output.ResultStore)
}

type configBinding struct {
	key string
	env string
}

var bindings = []configBinding{
	{"experiment.seed", "MARKETSIM_SEED"},
	{"experiment.replicates", "MARKETSIM_REPLICATES"},
	{"experiment.jobs", "MARKETSIM_JOBS"},
	{"output.progress_log", "MARKETSIM_PROGRESS_LOG"},
	{"output.result_store", "MARKETSIM_RESULT_STORE"},
}

// LoadConfig loads configuration from a toml file. Keys missing from the file take their
// default values, environment variables override the file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	for _, binding := range bindings {
		if err := v.BindEnv(binding.key, binding.env); err != nil {
			log.Logger().Fatal("failed to bind a Viper key to a ENV variable", zap.Error(err))
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks field ranges and the rules spanning several fields.
func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.Trace(err)
	}
	if err := validateNotGreater("market.num_periods * market.num_items_per_period",
		config.Market.CatalogSize(), "market.num_items", config.Market.NumItems); err != nil {
		return err
	}
	if err := validateNotGreater("population.num_clusters", config.Population.NumClusters,
		"market.num_categories", config.Market.NumCategories); err != nil {
		return err
	}
	if err := validateRequires("population.group_assignment", config.Population.GroupAssignment,
		"population.clustered_preferences", config.Population.ClusteredPreferences); err != nil {
		return err
	}
	if err := validateIn("recommend.control", config.Recommend.Control, Strategies); err != nil {
		return err
	}
	return validateIn("recommend.treatment", config.Recommend.Treatment, Strategies)
}
