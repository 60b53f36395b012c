// quic_test.go - QUIC adapter tests.
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

package common

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"
)

func TestQuicConnRoundTrip(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	ql, err := quic.ListenAddr("127.0.0.1:0", GenerateTLSConfig(), nil)
	require.NoError(err)
	l := &QuicListener{Listener: ql}
	defer l.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		acceptedCh <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := Dial(ctx, l.Addr().String())
	require.NoError(err)
	defer c.Close()

	// Stream creation is lazy on the wire, the server side only sees the
	// stream once data flows.
	_, err = c.Write([]byte("da jam"))
	require.NoError(err)

	var sc net.Conn
	select {
	case sc = <-acceptedCh:
	case <-ctx.Done():
		t.Fatal("timed out waiting for accept")
	}
	defer sc.Close()

	buf := make([]byte, 6)
	sc.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, err = io.ReadFull(sc, buf)
	require.NoError(err)
	require.Equal([]byte("da jam"), buf)

	_, err = sc.Write([]byte("echo"))
	require.NoError(err)

	buf = make([]byte, 4)
	c.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, err = io.ReadFull(c, buf)
	require.NoError(err)
	require.Equal([]byte("echo"), buf)
}
