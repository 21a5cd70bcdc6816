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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/gorse-io/marketsim/base"
	"github.com/gorse-io/marketsim/base/log"
	"github.com/gorse-io/marketsim/base/progress"
	"github.com/gorse-io/marketsim/cmd/version"
	"github.com/gorse-io/marketsim/config"
	"github.com/gorse-io/marketsim/population"
	"github.com/gorse-io/marketsim/simulation"
	"github.com/gorse-io/marketsim/storage"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "marketsim",
	Short: "Simulate A/B tests of recommendation strategies on a synthetic marketplace.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.CloseLogger()
	},
}

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run replicated A/B tests and print the take-up rate of both arms.",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		pop := loadPopulation(conf)

		// open progress log
		progressLog, err := storage.OpenProgressLog(conf.Output.ProgressLog)
		if err != nil {
			log.Logger().Fatal("failed to open progress log", zap.String("progress_log", log.RedactDBURL(conf.Output.ProgressLog)), zap.Error(err))
		}
		defer progressLog.Close()
		bar := progressbar.Default(int64(conf.Experiment.Replicates), "simulating")
		sim, err := simulation.NewSimulator(conf, pop, &barProgressLog{ProgressLog: progressLog, bar: bar})
		if err != nil {
			log.Logger().Fatal("failed to create simulator", zap.Error(err))
		}

		// run simulation
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		tracer := progress.NewTracer("marketsim")
		ctx, span := tracer.Start(ctx, "run", 1)
		log.Logger().Info("start simulation",
			zap.Int("replicates", conf.Experiment.Replicates),
			zap.Int("jobs", conf.Experiment.Jobs),
			zap.String("control", conf.Recommend.Control),
			zap.String("treatment", conf.Recommend.Treatment))
		control, treatment, err := sim.Run(ctx)
		if err != nil {
			span.Fail(err)
			log.Logger().Fatal("failed to run simulation", zap.Error(err))
		}
		span.End()
		_ = bar.Finish()
		fmt.Println()
		if err = renderCurves(os.Stdout, conf, control, treatment); err != nil {
			log.Logger().Fatal("failed to render take-up rates", zap.Error(err))
		}
		if err = renderProgress(os.Stdout, tracer.List()); err != nil {
			log.Logger().Fatal("failed to render progress", zap.Error(err))
		}

		// save result
		if conf.Output.ResultStore != "" {
			id, err := saveResult(context.Background(), conf, control, treatment)
			if err != nil {
				log.Logger().Fatal("failed to save result", zap.String("result_store", log.RedactDBURL(conf.Output.ResultStore)), zap.Error(err))
			}
			log.Logger().Info("save result", zap.String("id", id),
				zap.String("result_store", log.RedactDBURL(conf.Output.ResultStore)))
		}

		// dump metrics
		if metricsPath, _ := cmd.Flags().GetString("metrics-path"); metricsPath != "" {
			if err = prometheus.WriteToTextfile(metricsPath, prometheus.DefaultGatherer); err != nil {
				log.Logger().Fatal("failed to dump metrics", zap.String("metrics_path", metricsPath), zap.Error(err))
			}
		}
	},
}

var generateCommand = &cobra.Command{
	Use:   "generate",
	Short: "Generate a population and print its summary.",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		rng := base.NewRandomGenerator(conf.Experiment.Seed, simulation.PopulationStream)
		pop, err := population.Generate(rng, conf)
		if err != nil {
			log.Logger().Fatal("failed to generate population", zap.Error(err))
		}
		if err = renderSummary(os.Stdout, summarize(pop)); err != nil {
			log.Logger().Fatal("failed to render summary", zap.Error(err))
		}
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show the version of marketsim",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.BuildInfo())
	},
}

func loadConfig(cmd *cobra.Command) *config.Config {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	return conf
}

// loadPopulation draws the population shared by all replicates, or returns nil if every
// replicate draws its own.
func loadPopulation(conf *config.Config) *population.Population {
	if conf.Experiment.RegeneratePopulation {
		return nil
	}
	rng := base.NewRandomGenerator(conf.Experiment.Seed, simulation.PopulationStream)
	pop, err := population.Generate(rng, conf)
	if err != nil {
		log.Logger().Fatal("failed to generate population", zap.Error(err))
	}
	return pop
}

func saveResult(ctx context.Context, conf *config.Config, control, treatment []float64) (string, error) {
	store, err := storage.OpenResultStore(conf.Output.ResultStore, "marketsim_")
	if err != nil {
		return "", errors.Trace(err)
	}
	defer store.Close()
	if err = store.Init(); err != nil {
		return "", errors.Trace(err)
	}
	result, err := storage.NewResult(conf, control, treatment)
	if err != nil {
		return "", errors.Trace(err)
	}
	if err = store.SaveResult(ctx, result); err != nil {
		return "", errors.Trace(err)
	}
	return result.ID, nil
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	runCommand.Flags().String("metrics-path", "", "dump prometheus metrics to this file after the run")
	rootCommand.AddCommand(runCommand, generateCommand, versionCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
