// glue.go - Jam server internal glue.
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

// Package glue implements the glue structure that ties all the internal
// subpackages together.
package glue

import (
	"net"

	"github.com/elieserdejesus/jamtaba/core/log"
	"github.com/elieserdejesus/jamtaba/server/config"
	"github.com/elieserdejesus/jamtaba/server/internal/registry"
	"github.com/elieserdejesus/jamtaba/server/userdb"
)

// Glue is the structure that binds the internal components together.
type Glue interface {
	Config() *config.Config
	LogBackend() *log.Backend

	// UserDB returns the registered user database, or nil when the
	// server accepts anonymous logins only.
	UserDB() userdb.UserDB

	Registry() *registry.Registry
	Jam() Jam

	Listeners() []Listener
}

// Jam is the mutable jam session state shared by every session.
type Jam interface {
	// Tempo returns the current bpm and bpi.
	Tempo() (uint16, uint16)

	// SetTempo updates the tempo and notifies every session.
	SetTempo(bpm, bpi uint16)

	// Topic returns the current topic.
	Topic() string

	// SetTopic updates the topic and notifies every session.  setBy is
	// the user name announced with the change.
	SetTopic(topic, setBy string)

	// Licence returns the licence agreement text, empty if none.
	Licence() string
}

// Listener is a single bound listen socket and its connections.
type Listener interface {
	Halt()
	Addr() net.Addr
	KickUser(name string) bool
	SweepStaleSessions()
}
