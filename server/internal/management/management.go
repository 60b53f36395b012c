// management.go - Jam server management interface.
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

// Package management binds the jam session controls to the text based
// management protocol.
package management

import (
	"strconv"
	"strings"

	"github.com/elieserdejesus/jamtaba/server/internal/glue"
	"github.com/elieserdejesus/jamtaba/thwack"
)

const (
	cmdTopic = "TOPIC"
	cmdBPM   = "BPM"
	cmdBPI   = "BPI"
	cmdUsers = "USERS"
	cmdKick  = "KICK"
)

type management struct {
	glue glue.Glue
}

func (m *management) onTopic(c *thwack.Conn, l string) error {
	sp := strings.SplitN(l, " ", 2)
	if len(sp) == 1 {
		if err := c.Writer().PrintfLine("%v", m.glue.Jam().Topic()); err != nil {
			return err
		}
		return c.WriteReply(thwack.StatusOk)
	}
	m.glue.Jam().SetTopic(strings.TrimSpace(sp[1]), "")
	return c.WriteReply(thwack.StatusOk)
}

func (m *management) onBPM(c *thwack.Conn, l string) error {
	return m.doSetTempo(c, l, false)
}

func (m *management) onBPI(c *thwack.Conn, l string) error {
	return m.doSetTempo(c, l, true)
}

func (m *management) doSetTempo(c *thwack.Conn, l string, isBPI bool) error {
	jam := m.glue.Jam()
	bpm, bpi := jam.Tempo()

	sp := strings.Split(l, " ")
	if len(sp) == 1 {
		if err := c.Writer().PrintfLine("%v %v", bpm, bpi); err != nil {
			return err
		}
		return c.WriteReply(thwack.StatusOk)
	}
	if len(sp) != 2 {
		c.Log().Debugf("%v invalid syntax: '%v'", sp[0], l)
		return c.WriteReply(thwack.StatusSyntaxError)
	}
	v, err := strconv.ParseUint(sp[1], 10, 16)
	if err != nil || v == 0 {
		c.Log().Debugf("%v invalid value: '%v'", sp[0], sp[1])
		return c.WriteReply(thwack.StatusSyntaxError)
	}
	if isBPI {
		jam.SetTempo(bpm, uint16(v))
	} else {
		jam.SetTempo(uint16(v), bpi)
	}
	return c.WriteReply(thwack.StatusOk)
}

func (m *management) onUsers(c *thwack.Conn, l string) error {
	for _, name := range m.glue.Registry().UserNames() {
		if err := c.Writer().PrintfLine("%v", name); err != nil {
			return err
		}
	}
	return c.WriteReply(thwack.StatusOk)
}

func (m *management) onKick(c *thwack.Conn, l string) error {
	sp := strings.Split(l, " ")
	if len(sp) != 2 {
		c.Log().Debugf("KICK invalid syntax: '%v'", l)
		return c.WriteReply(thwack.StatusSyntaxError)
	}
	for _, listener := range m.glue.Listeners() {
		if listener.KickUser(sp[1]) {
			return c.WriteReply(thwack.StatusOk)
		}
	}
	c.Log().Debugf("KICK no such user: '%v'", sp[1])
	return c.WriteReply(thwack.StatusTransactionFailed)
}

// New constructs the management server with the jam session commands
// registered, but does not start it.
func New(g glue.Glue) (*thwack.Server, error) {
	cfg := g.Config()
	t, err := thwack.New(&thwack.Config{
		Net:         cfg.Management.Net,
		Addr:        cfg.Management.Addr,
		ServiceName: "Jamtaba Management Interface",
		LogModule:   "mgmt",
		NewLoggerFn: g.LogBackend().GetLogger,
	})
	if err != nil {
		return nil, err
	}

	m := &management{glue: g}
	t.RegisterCommand(cmdTopic, m.onTopic)
	t.RegisterCommand(cmdBPM, m.onBPM)
	t.RegisterCommand(cmdBPI, m.onBPI)
	t.RegisterCommand(cmdUsers, m.onUsers)
	t.RegisterCommand(cmdKick, m.onKick)

	return t, nil
}
