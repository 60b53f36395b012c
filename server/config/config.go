// config.go - Jam server configuration.
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

// Package config implements the jam server configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	defaultAddress         = "tcp://0.0.0.0:2049"
	defaultLogLevel        = "NOTICE"
	defaultBPM             = 120
	defaultBPI             = 16
	defaultMaxUsers        = 10
	defaultMaxChannels     = 2
	defaultKeepAlivePeriod = 30 // Seconds.
	defaultMetricsAddress  = ":6543"

	absoluteMaxBPM = 400
	absoluteMaxBPI = 64
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Server is the server configuration.
type Server struct {
	// Addresses are the address URLs (`tcp://host:port` or
	// `quic://host:port`) that the server will bind to for incoming
	// connections.
	Addresses []string

	// DataDir is the absolute path to the server's state files.
	DataDir string

	// UserDB is the path to the registered user database, relative to
	// DataDir unless absolute.  When empty only anonymous logins are
	// accepted.
	UserDB string
}

func (sCfg *Server) validate() error {
	if sCfg.Addresses != nil {
		for _, v := range sCfg.Addresses {
			u, err := url.Parse(v)
			if err != nil {
				return fmt.Errorf("config: Server: Address '%v' is invalid: %v", v, err)
			}
			switch u.Scheme {
			case "tcp", "tcp4", "tcp6", "quic":
			default:
				return fmt.Errorf("config: Server: Address '%v' has invalid scheme '%v'", v, u.Scheme)
			}
		}
	} else {
		sCfg.Addresses = []string{defaultAddress}
	}
	if !filepath.IsAbs(sCfg.DataDir) {
		return fmt.Errorf("config: Server: DataDir '%v' is not an absolute path", sCfg.DataDir)
	}
	return nil
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lCfg.Level = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Parameters is the jam session parameters.
type Parameters struct {
	// BPM is the server tempo in beats per minute.
	BPM uint16

	// BPI is the interval length in beats.  Together with BPM it defines
	// the audio interval all uploaders chunk against.
	BPI uint16

	// Topic is the initial server topic.
	Topic string

	// Licence is the licence agreement text presented to connecting
	// clients.  Clients must acknowledge it before joining.
	Licence string

	// MaxUsers is the connected user limit.
	MaxUsers uint8

	// MaxChannels is the per user channel limit.
	MaxChannels uint8

	// KeepAlivePeriod is the keep alive sweep interval in seconds.
	// Sessions silent for more than twice this period are evicted.
	KeepAlivePeriod uint16
}

func (pCfg *Parameters) validate() error {
	if pCfg.BPM > absoluteMaxBPM {
		return fmt.Errorf("config: Parameters: BPM %v is out of range", pCfg.BPM)
	}
	if pCfg.BPI > absoluteMaxBPI {
		return fmt.Errorf("config: Parameters: BPI %v is out of range", pCfg.BPI)
	}
	return nil
}

func (pCfg *Parameters) applyDefaults() {
	if pCfg.BPM == 0 {
		pCfg.BPM = defaultBPM
	}
	if pCfg.BPI == 0 {
		pCfg.BPI = defaultBPI
	}
	if pCfg.MaxUsers == 0 {
		pCfg.MaxUsers = defaultMaxUsers
	}
	if pCfg.MaxChannels == 0 {
		pCfg.MaxChannels = defaultMaxChannels
	}
	if pCfg.KeepAlivePeriod == 0 {
		pCfg.KeepAlivePeriod = defaultKeepAlivePeriod
	}
}

// Management is the management interface configuration.
type Management struct {
	// Enable enables the management interface.
	Enable bool

	// Net and Addr specify the network and address of the interface.
	// The default is a `management.sock` unix socket in DataDir.
	Net, Addr string
}

func (mCfg *Management) applyDefaults(sCfg *Server) {
	if mCfg.Net == "" && mCfg.Addr == "" {
		mCfg.Net = "unix"
		mCfg.Addr = filepath.Join(sCfg.DataDir, "management.sock")
	}
}

// Metrics is the metrics endpoint configuration.
type Metrics struct {
	// Enable exposes registered prometheus metrics over HTTP.
	Enable bool

	// Address is the listen address of the metrics endpoint.
	Address string
}

func (mCfg *Metrics) applyDefaults() {
	if mCfg.Address == "" {
		mCfg.Address = defaultMetricsAddress
	}
}

// Debug is the debug configuration.
type Debug struct {
	// HandshakeTimeout is the maximum time in milliseconds a connection
	// may take to complete the authentication handshake.
	HandshakeTimeout int
}

func (dCfg *Debug) applyDefaults() {
	if dCfg.HandshakeTimeout <= 0 {
		dCfg.HandshakeTimeout = 30000
	}
}

// Config is the top level jam server configuration.
type Config struct {
	Server     *Server
	Logging    *Logging
	Parameters *Parameters
	Management *Management
	Metrics    *Metrics
	Debug      *Debug
}

// FixupAndValidate applies defaults to missing sections and validates the
// configuration.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Server == nil {
		return fmt.Errorf("config: No Server block was present")
	}
	if cfg.Logging == nil {
		cfg.Logging = &defaultLogging
	}
	if cfg.Parameters == nil {
		cfg.Parameters = &Parameters{}
	}
	if cfg.Management == nil {
		cfg.Management = &Management{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}
	if cfg.Debug == nil {
		cfg.Debug = &Debug{}
	}

	if err := cfg.Server.validate(); err != nil {
		return err
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	if err := cfg.Parameters.validate(); err != nil {
		return err
	}
	cfg.Parameters.applyDefaults()
	cfg.Management.applyDefaults(cfg.Server)
	cfg.Metrics.applyDefaults()
	cfg.Debug.applyDefaults()

	return nil
}

// UserDBPath returns the absolute path of the user database, or an empty
// string when the server runs anonymous only.
func (cfg *Config) UserDBPath() string {
	if cfg.Server.UserDB == "" {
		return ""
	}
	if filepath.IsAbs(cfg.Server.UserDB) {
		return cfg.Server.UserDB
	}
	return filepath.Join(cfg.Server.DataDir, cfg.Server.UserDB)
}

// Load parses and validates the provided buffer b as a config file body
// and returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
