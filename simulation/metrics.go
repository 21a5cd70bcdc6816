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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelControl   = "control"
	LabelTreatment = "treatment"
)

var (
	ReplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketsim",
		Subsystem: "simulation",
		Name:      "replicates_total",
		Help:      "Number of completed replicates.",
	})
	PeriodsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketsim",
		Subsystem: "simulation",
		Name:      "periods_total",
		Help:      "Number of simulated periods over all replicates.",
	})
	RetrainsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketsim",
		Subsystem: "simulation",
		Name:      "retrains_total",
		Help:      "Number of periods in which recommendation lists were regenerated.",
	})
	PurchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketsim",
		Subsystem: "simulation",
		Name:      "purchases_total",
		Help:      "Number of purchases by arm.",
	}, []string{"arm"})
	ProgressErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketsim",
		Subsystem: "simulation",
		Name:      "progress_errors_total",
		Help:      "Number of progress lines that could not be appended.",
	})
)

func armLabel(treatment bool) string {
	if treatment {
		return LabelTreatment
	}
	return LabelControl
}
