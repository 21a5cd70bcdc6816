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
	"io"
	"sort"
	"time"

	"github.com/gorse-io/marketsim/base/progress"
	"github.com/gorse-io/marketsim/config"
	"github.com/gorse-io/marketsim/population"
	"github.com/gorse-io/marketsim/storage"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/stat"
)

// barProgressLog advances a progress bar for every appended line.
type barProgressLog struct {
	storage.ProgressLog
	bar *progressbar.ProgressBar
}

func (b *barProgressLog) Append(ctx context.Context, line string) error {
	_ = b.bar.Add(1)
	return b.ProgressLog.Append(ctx, line)
}

func renderCurves(w io.Writer, conf *config.Config, control, treatment []float64) error {
	table := tablewriter.NewWriter(w)
	table.Header("Period",
		fmt.Sprintf("Control (%s)", conf.Recommend.Control),
		fmt.Sprintf("Treatment (%s)", conf.Recommend.Treatment))
	for period := range control {
		if err := table.Append([]string{
			fmt.Sprint(period),
			fmt.Sprintf("%.4f", control[period]),
			fmt.Sprintf("%.4f", treatment[period]),
		}); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

func renderProgress(w io.Writer, spans []progress.Progress) error {
	table := tablewriter.NewWriter(w)
	table.Header("Task", "Status", "Progress", "Elapsed")
	for _, span := range spans {
		elapsed := "-"
		if !span.FinishTime.IsZero() {
			elapsed = span.FinishTime.Sub(span.StartTime).Round(time.Millisecond).String()
		}
		if err := table.Append([]string{
			span.Name,
			string(span.Status),
			fmt.Sprintf("%d/%d", span.Count, span.Total),
			elapsed,
		}); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

type summary struct {
	NumUsers     int
	NumItems     int
	MeanUtility  float64
	MeanReserve  float64
	ClusterSizes map[int]int
}

func summarize(pop *population.Population) summary {
	numUsers, numItems := pop.Utility.Dims()
	return summary{
		NumUsers:     numUsers,
		NumItems:     numItems,
		MeanUtility:  stat.Mean(pop.Utility.RawMatrix().Data, nil),
		MeanReserve:  stat.Mean(pop.Reserve, nil),
		ClusterSizes: lo.CountValues(pop.Groups),
	}
}

func renderSummary(w io.Writer, s summary) error {
	table := tablewriter.NewWriter(w)
	table.Header("Statistic", "Value")
	rows := [][]string{
		{"users", fmt.Sprint(s.NumUsers)},
		{"items", fmt.Sprint(s.NumItems)},
		{"mean utility", fmt.Sprintf("%.6f", s.MeanUtility)},
		{"mean reserve utility", fmt.Sprintf("%.6f", s.MeanReserve)},
	}
	corners := lo.Keys(s.ClusterSizes)
	sort.Ints(corners)
	for _, corner := range corners {
		rows = append(rows, []string{fmt.Sprintf("users of corner %d", corner), fmt.Sprint(s.ClusterSizes[corner])})
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}
