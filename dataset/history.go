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

// NoPurchase is the ChosenItem of a period in which the user bought nothing.
const NoPurchase = -1

// History is the ChosenItem of every user in every period, preallocated for the whole run.
type History struct {
	choices [][]int
}

func NewHistory(numUsers, numPeriods int) *History {
	choices := make([][]int, numUsers)
	for u := range choices {
		choices[u] = make([]int, numPeriods)
		for t := range choices[u] {
			choices[u][t] = NoPurchase
		}
	}
	return &History{choices: choices}
}

func (h *History) CountUsers() int {
	return len(h.choices)
}

func (h *History) CountPeriods() int {
	if len(h.choices) == 0 {
		return 0
	}
	return len(h.choices[0])
}

// Record stores the choices of all users in a period.
func (h *History) Record(period int, choices []int) {
	for u, item := range choices {
		h.choices[u][period] = item
	}
}

func (h *History) Get(user, period int) int {
	return h.choices[user][period]
}

// User returns the choices of a user ordered by period.
func (h *History) User(user int) []int {
	return h.choices[user]
}
