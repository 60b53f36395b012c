// config_test.go - Jam server configuration tests.
// Copyright (C) 2017  Jamtaba authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	_, err := Load(nil)
	require.Error(err, "no Server block")

	const basicConfig = `# A basic configuration example.
[Server]
Addresses = [ "tcp://127.0.0.1:2049", "quic://127.0.0.1:2050" ]
DataDir = "/var/lib/jamtaba"
UserDB = "users.db"

[Parameters]
BPM = 90
BPI = 32
Topic = "welcome"
`

	cfg, err := Load([]byte(basicConfig))
	require.NoError(err, "Load() with basic config")
	require.Equal([]string{"tcp://127.0.0.1:2049", "quic://127.0.0.1:2050"}, cfg.Server.Addresses)
	require.Equal(uint16(90), cfg.Parameters.BPM)
	require.Equal(uint16(32), cfg.Parameters.BPI)
	require.Equal("welcome", cfg.Parameters.Topic)
	require.Equal(filepath.Join("/var/lib/jamtaba", "users.db"), cfg.UserDBPath())

	// Defaulted sections.
	require.Equal(uint8(defaultMaxUsers), cfg.Parameters.MaxUsers)
	require.Equal(uint8(defaultMaxChannels), cfg.Parameters.MaxChannels)
	require.Equal(uint16(defaultKeepAlivePeriod), cfg.Parameters.KeepAlivePeriod)
	require.Equal(defaultLogLevel, cfg.Logging.Level)
	require.Equal("unix", cfg.Management.Net)
	require.Equal(defaultMetricsAddress, cfg.Metrics.Address)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	const minimalConfig = `[Server]
DataDir = "/tmp/jam"
`
	cfg, err := Load([]byte(minimalConfig))
	require.NoError(err, "Load() with minimal config")
	require.Equal([]string{defaultAddress}, cfg.Server.Addresses)
	require.Equal(uint16(defaultBPM), cfg.Parameters.BPM)
	require.Equal(uint16(defaultBPI), cfg.Parameters.BPI)
	require.Equal("", cfg.UserDBPath(), "anonymous only when UserDB unset")
}

func TestConfigInvalid(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	for _, body := range []string{
		`[Server]
DataDir = "relative/path"
`,
		`[Server]
Addresses = [ "udp://127.0.0.1:2049" ]
DataDir = "/tmp/jam"
`,
		`[Server]
DataDir = "/tmp/jam"

[Parameters]
BPM = 9001
`,
		`[Server]
DataDir = "/tmp/jam"

[Logging]
Level = "VERBOSE"
`,
		`[Server]
DataDir = "/tmp/jam"
TotallyNotAKey = true
`,
	} {
		_, err := Load([]byte(body))
		require.Error(err, "Load(%v)", body)
	}
}
