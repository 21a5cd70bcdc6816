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
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
)

func validateNotGreater(name string, val int, boundName string, bound int) error {
	if val > bound {
		return errors.NotValidf("value of `%s` in config must not be greater than `%s` (%d), but the current value %d is",
			name, boundName, bound, val)
	}
	return nil
}

func validateRequires(name string, val bool, requiredName string, required bool) error {
	if val && !required {
		return errors.NotValidf("`%s` in config requires `%s` to be enabled", name, requiredName)
	}
	return nil
}

func validateIn(name, val string, expectedValues []string) error {
	expectedValueSet := mapset.NewSet(expectedValues...)
	if !expectedValueSet.Contains(val) {
		return errors.NotValidf("value of `%s` in config must be one of [%s], but the current value %s is",
			name, strings.Join(expectedValues, ","), val)
	}
	return nil
}
