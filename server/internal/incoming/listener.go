// listener.go - Jam server listener.
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

// Package incoming implements the incoming connection support.
package incoming

import (
	"container/list"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"gopkg.in/op/go-logging.v1"

	"github.com/elieserdejesus/jamtaba/core/monotime"
	"github.com/elieserdejesus/jamtaba/core/worker"
	"github.com/elieserdejesus/jamtaba/quic/common"
	"github.com/elieserdejesus/jamtaba/server/internal/glue"
)

type listener struct {
	sync.Mutex
	worker.Worker

	glue glue.Glue
	log  *logging.Logger

	l     net.Listener
	conns *list.List

	closeAllCh chan interface{}
	closeAllWg sync.WaitGroup
}

func (l *listener) Halt() {
	// Close the listener, wait for worker() to return.
	l.l.Close()
	l.Worker.Halt()

	// Close all connections belonging to the listener.
	close(l.closeAllCh)
	l.closeAllWg.Wait()
}

func (l *listener) worker() {
	addr := l.l.Addr()
	l.log.Noticef("Listening on: %v", addr)
	defer func() {
		l.log.Noticef("Stopping listening on: %v", addr)
		l.l.Close() // Usually redundant, but harmless.
	}()
	for {
		select {
		case <-l.closeAllCh:
			return
		default:
		}
		conn, err := l.l.Accept()
		if err != nil {
			if e, ok := err.(net.Error); ok && !e.Temporary() {
				l.log.Errorf("accept failure: %v", err)
				return
			}
			continue
		}

		tcpConn, ok := conn.(*net.TCPConn)
		if ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(3 * time.Minute)
		}

		l.log.Debugf("Accepted new connection: %v", conn.RemoteAddr())

		l.onNewConn(conn)
	}

	// NOTREACHED
}

func (l *listener) onNewConn(conn net.Conn) {
	c := newIncomingConn(l, conn)

	l.closeAllWg.Add(1)
	l.Lock()
	defer func() {
		l.Unlock()
		go c.worker()
	}()
	c.e = l.conns.PushFront(c)
}

func (l *listener) onClosedConn(c *incomingConn) {
	l.Lock()
	defer func() {
		l.Unlock()
		l.closeAllWg.Done()
	}()
	l.conns.Remove(c.e)
}

// Addr returns the listener's bound address.
func (l *listener) Addr() net.Addr {
	return l.l.Addr()
}

// KickUser closes the connection of the session registered under name, and
// returns false when no such session belongs to this listener.
func (l *listener) KickUser(name string) bool {
	l.Lock()
	defer l.Unlock()

	for e := l.conns.Front(); e != nil; e = e.Next() {
		cc := e.Value.(*incomingConn)
		if cc.UserName() == name {
			cc.Close()
			return true
		}
	}
	return false
}

// SweepStaleSessions closes every connection that has been silent for more
// than twice the keep alive period.
func (l *listener) SweepStaleSessions() {
	deadline := 2 * time.Duration(l.glue.Config().Parameters.KeepAlivePeriod) * time.Second
	now := monotime.Now()

	l.Lock()
	defer l.Unlock()

	for e := l.conns.Front(); e != nil; e = e.Next() {
		cc := e.Value.(*incomingConn)
		silent := now - cc.lastActivity()
		if silent > deadline {
			l.log.Debugf("Evicting stale connection: %v (silent for %v)", cc.RemoteAddr(), silent)
			cc.Close()
		}
	}
}

// New creates a new listener.
func New(glue glue.Glue, id int, addr string) (glue.Listener, error) {
	l := &listener{
		glue:       glue,
		log:        glue.LogBackend().GetLogger(fmt.Sprintf("listener:%d", id)),
		conns:      list.New(),
		closeAllCh: make(chan interface{}),
	}

	// Parse the Address line as a URL.
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("incoming: address '%v' is invalid: %v", addr, err)
	}
	switch u.Scheme {
	case "tcp", "tcp4", "tcp6":
		l.l, err = net.Listen(u.Scheme, u.Host)
		if err != nil {
			l.log.Errorf("Failed to start listener '%v': %v", addr, err)
			return nil, err
		}
	case "quic":
		ql, err := quic.ListenAddr(u.Host, common.GenerateTLSConfig(), nil)
		if err != nil {
			l.log.Errorf("Failed to start listener '%v': %v", addr, err)
			return nil, err
		}
		// Wrap quic.Listener with common.QuicListener so it behaves
		// like a net.Listener for a single QUIC Stream.
		l.l = &common.QuicListener{Listener: ql}
	default:
		return nil, fmt.Errorf("incoming: unsupported listener scheme '%v'", u.Scheme)
	}

	l.Go(l.worker)
	return l, nil
}
