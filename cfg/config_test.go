// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "shell.elf", c.Program)
	assert.Equal(t, 16, c.NumThreads)
	assert.Equal(t, 64, c.CacheSlots)
}

func TestLoadOverride(t *testing.T) {
	v := viper.New()
	v.Set("num-threads", 4)
	v.Set("disk", "disk.img")
	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 4, c.NumThreads)
	assert.Equal(t, "disk.img", c.Disk)
}

func TestValidateRejectsTooFewThreads(t *testing.T) {
	c := Default()
	c.NumThreads = 1
	assert.Error(t, Validate(&c))
}

func TestValidateRejectsBadSeverity(t *testing.T) {
	c := Default()
	c.Log.Severity = "BOGUS"
	assert.Error(t, Validate(&c))
}

func TestLogSeverityRank(t *testing.T) {
	assert.Equal(t, 0, TraceLogSeverity.Rank())
	assert.Less(t, DebugLogSeverity.Rank(), InfoLogSeverity.Rank())
	assert.Equal(t, -1, LogSeverity("bogus").Rank())
}
