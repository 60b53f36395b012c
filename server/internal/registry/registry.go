// registry.go - Connected session registry.
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

// Package registry tracks the authenticated sessions of a jam server and
// fans commands out to them.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/elieserdejesus/jamtaba/wire/commands"
)

// Session is the registry's view of an authenticated connection.
type Session interface {
	// UserName returns the unique session user name.
	UserName() string

	// SendCommand enqueues a command for transmission to the session's
	// peer.  It must not block on the peer.
	SendCommand(commands.Command)

	// UserChannels returns a snapshot of the session's channel set as
	// wire entries.
	UserChannels() []commands.UserChannel

	// WantsAudioFrom returns true when the session subscribed to the
	// given channel of the named uploader.
	WantsAudioFrom(userName string, channelIndex uint8) bool
}

// ErrSessionFull is returned by Register when the user limit is reached.
var ErrSessionFull = fmt.Errorf("registry: user limit reached")

// Registry tracks the sessions that completed authentication.
type Registry struct {
	sync.Mutex

	sessions map[string]Session
	maxUsers int
}

// New constructs a new Registry enforcing the provided user limit.
func New(maxUsers int) *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		maxUsers: maxUsers,
	}
}

// Register adds the session to the registry under a unique variation of
// requested, derived by appending a numeric suffix on collision, and
// returns the assigned name.  Derivation and insertion share one critical
// section so concurrent sessions requesting the same name can never both
// be assigned it.
func (r *Registry) Register(s Session, requested string) (string, error) {
	r.Lock()
	defer r.Unlock()

	if r.maxUsers > 0 && len(r.sessions) >= r.maxUsers {
		return "", ErrSessionFull
	}
	name := requested
	for i := 1; ; i++ {
		if _, ok := r.sessions[name]; !ok {
			break
		}
		name = fmt.Sprintf("%s.%d", requested, i)
	}
	r.sessions[name] = s
	return name, nil
}

// Unregister removes the session from the registry.  Unregistering a
// session that is not present is a no-op.
func (r *Registry) Unregister(s Session) {
	r.Lock()
	defer r.Unlock()

	name := s.UserName()
	if existing, ok := r.sessions[name]; ok && existing == s {
		delete(r.sessions, name)
	}
}

// Broadcast sends cmd to every registered session except exclude, which
// may be nil to reach all sessions.
func (r *Registry) Broadcast(cmd commands.Command, exclude Session) {
	r.Lock()
	defer r.Unlock()

	for _, s := range r.sessions {
		if s == exclude {
			continue
		}
		s.SendCommand(cmd)
	}
}

// SendTo sends cmd to the session registered under name, and returns false
// when no such session exists.
func (r *Registry) SendTo(name string, cmd commands.Command) bool {
	r.Lock()
	defer r.Unlock()

	s, ok := r.sessions[name]
	if !ok {
		return false
	}
	s.SendCommand(cmd)
	return true
}

// Sessions returns a snapshot of the registered sessions.
func (r *Registry) Sessions() []Session {
	r.Lock()
	defer r.Unlock()

	sessions := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Get returns the session registered under name, or nil.
func (r *Registry) Get(name string) Session {
	r.Lock()
	defer r.Unlock()

	return r.sessions[name]
}

// UserNames returns the names of all registered sessions in lexicographic
// order.
func (r *Registry) UserNames() []string {
	r.Lock()
	defer r.Unlock()

	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.Lock()
	defer r.Unlock()

	return len(r.sessions)
}
