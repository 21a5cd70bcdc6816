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

package metrics

import (
	"github.com/gorse-io/marketsim/dataset"
	"github.com/juju/errors"
)

// TakeUpRate returns the fraction of users in each arm who bought, during each period, an
// item introduced in an earlier period. Items introduced in the period itself are not
// counted. An arm without users has rate 0.
func TakeUpRate(history *dataset.History, assignment []bool, itemsPerPeriod int) (control, treatment []float64, err error) {
	if len(assignment) != history.CountUsers() {
		return nil, nil, errors.NotValidf("%d assignments for %d users", len(assignment), history.CountUsers())
	}
	numPeriods := history.CountPeriods()
	control = make([]float64, numPeriods)
	treatment = make([]float64, numPeriods)
	var numControl, numTreatment int
	for _, arm := range assignment {
		if arm {
			numTreatment++
		} else {
			numControl++
		}
	}
	for user, arm := range assignment {
		for period, item := range history.User(user) {
			if item == dataset.NoPurchase || item > itemsPerPeriod*period-1 {
				continue
			}
			if arm {
				treatment[period]++
			} else {
				control[period]++
			}
		}
	}
	normalize(control, numControl)
	normalize(treatment, numTreatment)
	return control, treatment, nil
}

func normalize(rates []float64, n int) {
	if n == 0 {
		return
	}
	for i := range rates {
		rates[i] /= float64(n)
	}
}
