// server_test.go - Jam server tests.
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

package server

import (
	"net"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/elieserdejesus/jamtaba/server/config"
	"github.com/elieserdejesus/jamtaba/wire"
	"github.com/elieserdejesus/jamtaba/wire/commands"
)

func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		Server: &config.Server{
			Addresses: []string{"tcp://127.0.0.1:0"},
			DataDir:   t.TempDir(),
		},
		Logging: &config.Logging{Disable: true},
	}
	require.NoError(t, cfg.FixupAndValidate())
	return cfg
}

func readServerCommand(t *testing.T, c net.Conn) commands.Command {
	dec := new(wire.StreamDecoder)
	buf := make([]byte, 4096)
	for {
		if hdr, payload, err := dec.Next(); err == nil && hdr != nil {
			cmd, err := commands.FromServerBytes(hdr.MessageType, payload)
			require.NoError(t, err)
			return cmd
		}
		c.SetReadDeadline(time.Now().Add(10 * time.Second))
		n, err := c.Read(buf)
		require.NoError(t, err)
		dec.Feed(buf[:n])
	}
}

func TestServerStartShutdown(t *testing.T) {
	cfg := testConfig(t)

	s, err := New(cfg)
	require.NoError(t, err)

	addrs := s.ListenerAddresses()
	require.Len(t, addrs, 1)
	require.Empty(t, s.GetConnectedUsersNames())

	// A fresh connection gets challenged straight away.
	c, err := net.Dial("tcp", addrs[0].String())
	require.NoError(t, err)
	defer c.Close()
	_, ok := readServerCommand(t, c).(*commands.AuthChallenge)
	require.True(t, ok, "expected AuthChallenge")

	s.Shutdown()
	s.Shutdown() // Idempotent.
	s.Wait()

	// The port is released, a new instance can bind it immediately.
	cfg2 := testConfig(t)
	cfg2.Server.Addresses = []string{"tcp://" + addrs[0].String()}
	s2, err := New(cfg2)
	require.NoError(t, err)
	s2.Shutdown()
	s2.Wait()
}

func TestServerBindFailure(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg)
	require.NoError(t, err)
	defer func() {
		s.Shutdown()
		s.Wait()
	}()

	// Binding the same port again must surface a startup error.
	cfg2 := testConfig(t)
	cfg2.Server.Addresses = []string{"tcp://" + s.ListenerAddresses()[0].String()}
	_, err = New(cfg2)
	require.Error(t, err)
}

func TestServerManagement(t *testing.T) {
	cfg := testConfig(t)
	cfg.Parameters.Topic = "welcome"
	cfg.Management.Enable = true
	cfg.Management.Net = "unix"
	cfg.Management.Addr = filepath.Join(cfg.Server.DataDir, "management.sock")

	s, err := New(cfg)
	require.NoError(t, err)
	defer func() {
		s.Shutdown()
		s.Wait()
	}()

	c, err := textproto.Dial("unix", cfg.Management.Addr)
	require.NoError(t, err)
	defer c.Close()

	banner, err := c.ReadLine()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(banner, "220 "), "banner: %v", banner)

	readOk := func() {
		l, err := c.ReadLine()
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(l, "250 "), "reply: %v", l)
	}

	// Query the topic.
	require.NoError(t, c.PrintfLine("TOPIC"))
	l, err := c.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "welcome", l)
	readOk()

	// Change the tempo and read it back.
	require.NoError(t, c.PrintfLine("BPM 90"))
	readOk()
	require.NoError(t, c.PrintfLine("BPI 32"))
	readOk()
	bpm, bpi := s.jam.Tempo()
	require.Equal(t, uint16(90), bpm)
	require.Equal(t, uint16(32), bpi)

	require.NoError(t, c.PrintfLine("BPM"))
	l, err = c.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "90 32", l)
	readOk()

	// No connected users.
	require.NoError(t, c.PrintfLine("USERS"))
	readOk()

	// Kicking an unknown user fails the transaction.
	require.NoError(t, c.PrintfLine("KICK nobody"))
	l, err = c.ReadLine()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(l, "554 "), "reply: %v", l)

	require.NoError(t, c.PrintfLine("QUIT"))
	l, err = c.ReadLine()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(l, "250 "), "reply: %v", l)
}
