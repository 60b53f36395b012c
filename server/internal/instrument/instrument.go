// instrument.go - Prometheus instrumentation.
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

// Package instrument exposes the server metrics.
package instrument

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	totalReceived uint64
	totalSent     uint64
)

var (
	connectedUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jamtaba_connected_users",
			Help: "Number of connected users",
		},
	)
	incomingMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jamtaba_incoming_total_messages",
			Help: "Number of incoming messages",
		},
		[]string{"type"},
	)
	bytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jamtaba_received_total_bytes",
			Help: "Number of bytes received from clients",
		},
	)
	bytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jamtaba_sent_total_bytes",
			Help: "Number of bytes sent to clients",
		},
	)
	chunksDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jamtaba_number_of_dropped_chunks",
			Help: "Number of dropped interval chunks",
		},
	)
	authFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jamtaba_auth_total_failures",
			Help: "Number of failed authentication attempts",
		},
	)
)

// Init registers the server metrics and, when addr is not empty, exposes
// them over HTTP.
func Init(addr string) {
	initOnce.Do(func() {
		prometheus.MustRegister(connectedUsers)
		prometheus.MustRegister(incomingMessages)
		prometheus.MustRegister(bytesReceived)
		prometheus.MustRegister(bytesSent)
		prometheus.MustRegister(chunksDropped)
		prometheus.MustRegister(authFailures)

		if addr != "" {
			http.Handle("/metrics", promhttp.Handler())
			go http.ListenAndServe(addr, nil)
		}
	})
}

// UserConnected increments the connected user gauge.
func UserConnected() {
	connectedUsers.Inc()
}

// UserDisconnected decrements the connected user gauge.
func UserDisconnected() {
	connectedUsers.Dec()
}

// IncomingMessage increments the counter for incoming messages of the
// given type.
func IncomingMessage(messageType string) {
	incomingMessages.With(prometheus.Labels{"type": messageType}).Inc()
}

// BytesReceived adds to the counter for bytes received from clients.
func BytesReceived(n uint64) {
	atomic.AddUint64(&totalReceived, n)
	bytesReceived.Add(float64(n))
}

// BytesSent adds to the counter for bytes sent to clients.
func BytesSent(n uint64) {
	atomic.AddUint64(&totalSent, n)
	bytesSent.Add(float64(n))
}

// TotalBytes returns the total bytes received from and sent to clients.
func TotalBytes() (uint64, uint64) {
	return atomic.LoadUint64(&totalReceived), atomic.LoadUint64(&totalSent)
}

// ChunkDropped increments the counter for dropped interval chunks.
func ChunkDropped() {
	chunksDropped.Inc()
}

// AuthFailure increments the counter for failed authentication attempts.
func AuthFailure() {
	authFailures.Inc()
}
