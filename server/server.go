// server.go - Jam server.
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

// Package server implements the jam session server.
package server

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/elieserdejesus/jamtaba/core/log"
	"github.com/elieserdejesus/jamtaba/core/worker"
	"github.com/elieserdejesus/jamtaba/server/config"
	"github.com/elieserdejesus/jamtaba/server/internal/glue"
	"github.com/elieserdejesus/jamtaba/server/internal/incoming"
	"github.com/elieserdejesus/jamtaba/server/internal/instrument"
	"github.com/elieserdejesus/jamtaba/server/internal/management"
	"github.com/elieserdejesus/jamtaba/server/internal/registry"
	"github.com/elieserdejesus/jamtaba/server/userdb"
	"github.com/elieserdejesus/jamtaba/server/userdb/boltuserdb"
	"github.com/elieserdejesus/jamtaba/thwack"
	"github.com/elieserdejesus/jamtaba/wire/commands"
)

// Server is a jam session server instance.
type Server struct {
	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	db         userdb.UserDB
	registry   *registry.Registry
	jam        *jamState
	management *thwack.Server
	listeners  []glue.Listener

	rateWorker  worker.Worker
	sweepWorker worker.Worker

	recvRate uint64 // Bytes per second, accessed atomically.
	sendRate uint64

	fatalErrCh chan error
	haltedCh   chan interface{}
	haltOnce   sync.Once
}

// jamState is the mutable jam session state.  Changes are pushed to every
// connected session.
type jamState struct {
	sync.Mutex

	s *Server

	bpm, bpi uint16
	topic    string
	licence  string
}

func (j *jamState) Tempo() (uint16, uint16) {
	j.Lock()
	defer j.Unlock()

	return j.bpm, j.bpi
}

func (j *jamState) SetTempo(bpm, bpi uint16) {
	j.Lock()
	j.bpm, j.bpi = bpm, bpi
	j.Unlock()

	j.s.log.Noticef("Tempo changed: %v bpm, %v bpi", bpm, bpi)
	j.s.registry.Broadcast(&commands.ConfigChangeNotify{BPM: bpm, BPI: bpi}, nil)
}

func (j *jamState) Topic() string {
	j.Lock()
	defer j.Unlock()

	return j.topic
}

func (j *jamState) SetTopic(topic, setBy string) {
	j.Lock()
	j.topic = topic
	j.Unlock()

	j.s.log.Noticef("Topic changed by '%v': %v", setBy, topic)
	j.s.registry.Broadcast(&commands.ChatNotify{
		Command: commands.ChatCommandTopic,
		Args:    []string{setBy, topic},
	}, nil)
}

func (j *jamState) Licence() string {
	j.Lock()
	defer j.Unlock()

	return j.licence
}

// serverGlue binds the internal components to the Server.
type serverGlue struct {
	s *Server
}

func (g *serverGlue) Config() *config.Config       { return g.s.cfg }
func (g *serverGlue) LogBackend() *log.Backend     { return g.s.logBackend }
func (g *serverGlue) UserDB() userdb.UserDB        { return g.s.db }
func (g *serverGlue) Registry() *registry.Registry { return g.s.registry }
func (g *serverGlue) Jam() glue.Jam                { return g.s.jam }
func (g *serverGlue) Listeners() []glue.Listener   { return g.s.listeners }

func (s *Server) initDataDir() error {
	const dirMode = os.ModeDir | 0700
	d := s.cfg.Server.DataDir

	// Initialize the data directory, by ensuring that it exists (or can
	// be created), and that it has the appropriate permissions.
	if fi, err := os.Lstat(d); err != nil {
		// Directory doesn't exist, create one.
		if !os.IsNotExist(err) {
			return fmt.Errorf("server: failed to stat() DataDir: %v", err)
		}
		if err = os.Mkdir(d, dirMode); err != nil {
			return fmt.Errorf("server: failed to create DataDir: %v", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("server: DataDir '%v' is not a directory", d)
		}
	}

	return nil
}

func (s *Server) initLogging() error {
	p := s.cfg.Logging.File
	if !s.cfg.Logging.Disable && s.cfg.Logging.File != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.cfg.Server.DataDir, p)
		}
	}

	var err error
	s.logBackend, err = log.New(p, s.cfg.Logging.Level, s.cfg.Logging.Disable)
	if err == nil {
		s.log = s.logBackend.GetLogger("server")
	}
	return err
}

// RotateLog rotates the log file if logging to a file is enabled.
func (s *Server) RotateLog() {
	err := s.logBackend.Rotate()
	if err != nil {
		s.fatalErrCh <- fmt.Errorf("failed to rotate log file, shutting down server")
		return
	}
	s.log.Notice("Log rotated.")
}

// ListenerAddresses returns the bound addresses of all listeners.
func (s *Server) ListenerAddresses() []net.Addr {
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// GetConnectedUsersNames returns the names of all connected users.
func (s *Server) GetConnectedUsersNames() []string {
	return s.registry.UserNames()
}

// TransferRates returns the most recent download and upload rates, in
// bytes per second, measured across all sessions.
func (s *Server) TransferRates() (uint64, uint64) {
	return atomic.LoadUint64(&s.recvRate), atomic.LoadUint64(&s.sendRate)
}

// sweeper periodically evicts sessions that stopped sending traffic.
func (s *Server) sweeper() {
	period := time.Duration(s.cfg.Parameters.KeepAlivePeriod) * time.Second
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-s.sweepWorker.HaltCh():
			return
		case <-t.C:
		}
		for _, l := range s.listeners {
			l.SweepStaleSessions()
		}
	}
}

// rateLoop samples the transfer counters once a second.
func (s *Server) rateLoop() {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	lastRecv, lastSent := instrument.TotalBytes()
	for {
		select {
		case <-s.rateWorker.HaltCh():
			return
		case <-t.C:
		}
		recv, sent := instrument.TotalBytes()
		atomic.StoreUint64(&s.recvRate, recv-lastRecv)
		atomic.StoreUint64(&s.sendRate, sent-lastSent)
		lastRecv, lastSent = recv, sent
	}
}

// Wait waits till the server is terminated for any reason.
func (s *Server) Wait() {
	<-s.haltedCh
}

// Shutdown cleanly shuts down a given Server instance.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() { s.halt() })
}

func (s *Server) halt() {
	s.log.Notice("Starting graceful shutdown.")

	// Halt the listeners, closing all sessions before the sockets are
	// released.
	for idx, l := range s.listeners {
		if l != nil {
			l.Halt()
		}
		s.listeners[idx] = nil
	}

	if s.management != nil {
		s.management.Halt()
		s.management = nil
	}

	s.sweepWorker.Halt()
	s.rateWorker.Halt()

	if s.db != nil {
		s.db.Close()
		s.db = nil
	}

	close(s.fatalErrCh)

	s.log.Notice("Shutdown complete.")
	close(s.haltedCh)
}

// New returns a new Server instance parameterized with the specified
// configuration.
func New(cfg *config.Config) (*Server, error) {
	s := new(Server)
	s.cfg = cfg
	s.fatalErrCh = make(chan error)
	s.haltedCh = make(chan interface{})

	// Do the early initialization and bring up logging.
	if err := s.initDataDir(); err != nil {
		return nil, err
	}
	if err := s.initLogging(); err != nil {
		return nil, err
	}
	if s.cfg.Logging.Level == "DEBUG" {
		s.log.Warning("Unsafe Debug logging is enabled.")
	}
	if s.cfg.Metrics.Enable {
		instrument.Init(s.cfg.Metrics.Address)
	} else {
		instrument.Init("")
	}

	s.registry = registry.New(int(cfg.Parameters.MaxUsers))
	s.jam = &jamState{
		s:       s,
		bpm:     cfg.Parameters.BPM,
		bpi:     cfg.Parameters.BPI,
		topic:   cfg.Parameters.Topic,
		licence: cfg.Parameters.Licence,
	}

	goo := &serverGlue{s}

	// Past this point, failures need to call s.Shutdown() to do cleanup.
	isOk := false
	defer func() {
		if !isOk {
			s.Shutdown()
		}
	}()

	// Start the fatal error watcher.
	go func() {
		err, ok := <-s.fatalErrCh
		if !ok {
			return
		}
		s.log.Errorf("Shutting down due to error: %v", err)
		s.Shutdown()
	}()

	// Bring the user database online, if any.
	if p := cfg.UserDBPath(); p != "" {
		var err error
		if s.db, err = boltuserdb.New(p); err != nil {
			s.log.Errorf("Failed to initialize user database: %v", err)
			return nil, err
		}
		s.log.Noticef("User database: %v", p)
	} else {
		s.log.Notice("No user database, running anonymous only.")
	}

	// Bring the management interface online.
	if cfg.Management.Enable {
		var err error
		if s.management, err = management.New(goo); err != nil {
			s.log.Errorf("Failed to initialize management interface: %v", err)
			return nil, err
		}
		if err = s.management.Start(); err != nil {
			s.log.Errorf("Failed to start management interface: %v", err)
			return nil, err
		}
	}

	// Bring the listeners online.
	for i, addr := range cfg.Server.Addresses {
		l, err := incoming.New(goo, i, addr)
		if err != nil {
			s.log.Errorf("Failed to bring listener '%v' online: %v", addr, err)
			return nil, err
		}
		s.listeners = append(s.listeners, l)
	}

	s.sweepWorker.Go(s.sweeper)
	s.rateWorker.Go(s.rateLoop)

	isOk = true
	return s, nil
}
