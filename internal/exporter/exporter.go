/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package exporter adapts the teacher's TCPInfoCollector
// (Describe/Collect/Add/Remove over a live connection map) into a
// pixelflut-specific prometheus.Collector: one set of gauges mirrors the
// statistics aggregator's global/per-IP counters, the other walks every
// admitted connection's live TCP_INFO on each scrape.
package exporter

import (
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/pixelflut/goflut/internal/netstat"
	"github.com/pixelflut/goflut/internal/stats"
)

type connEntry struct {
	conn *netstat.Conn
	id   xid.ID
}

// Collector is a prometheus.Collector exposing both the statistics
// aggregator's counters and live per-connection TCP_INFO. It holds a map
// of in-flight connections the same way the teacher's TCPInfoCollector
// does, guarded by the same single mutex taken only on Add/Remove/Collect
// (never on the per-packet hot path).
type Collector struct {
	aggregator *stats.Aggregator

	mu    sync.Mutex
	conns map[net.Conn]connEntry

	bytesInTotal      *prometheus.Desc
	bytesInV4         *prometheus.Desc
	bytesInV6         *prometheus.Desc
	connectionsTotal  *prometheus.Desc
	activeConnections *prometheus.Desc
	deniedConnections *prometheus.Desc
	framesRendered    *prometheus.Desc
	commandsParsed    *prometheus.Desc
	pixelsSet         *prometheus.Desc
	perIPBytesIn      *prometheus.Desc
	perIPConnections  *prometheus.Desc
	perIPCommands     *prometheus.Desc
	perIPPixelsSet    *prometheus.Desc

	tcpRTT          *prometheus.Desc
	tcpRTTVar       *prometheus.Desc
	tcpSendCwnd     *prometheus.Desc
	tcpRetransmits  *prometheus.Desc
	tcpTotalRetrans *prometheus.Desc
}

// New returns a Collector reporting aggregator's counters and the
// TCP_INFO of whatever connections have been Add-ed and not yet Removed.
func New(aggregator *stats.Aggregator, constLabels prometheus.Labels) *Collector {
	return &Collector{
		aggregator: aggregator,
		conns:      make(map[net.Conn]connEntry),

		bytesInTotal:      prometheus.NewDesc("pixelflut_bytes_in_total", "Total bytes received from all clients.", nil, constLabels),
		bytesInV4:         prometheus.NewDesc("pixelflut_bytes_in_v4_total", "Total bytes received over IPv4.", nil, constLabels),
		bytesInV6:         prometheus.NewDesc("pixelflut_bytes_in_v6_total", "Total bytes received over IPv6.", nil, constLabels),
		connectionsTotal:  prometheus.NewDesc("pixelflut_connections_total", "Total connections ever admitted.", nil, constLabels),
		activeConnections: prometheus.NewDesc("pixelflut_active_connections", "Currently open connections.", nil, constLabels),
		deniedConnections: prometheus.NewDesc("pixelflut_denied_connections_total", "Connections rejected by the per-IP admission cap.", nil, constLabels),
		framesRendered:    prometheus.NewDesc("pixelflut_frames_rendered_total", "Frames pushed to a display sink.", nil, constLabels),
		commandsParsed:    prometheus.NewDesc("pixelflut_commands_parsed_total", "Total wire commands successfully parsed from all clients.", nil, constLabels),
		pixelsSet:         prometheus.NewDesc("pixelflut_pixels_set_total", "Total pixels written to the framebuffer by all clients.", nil, constLabels),
		perIPBytesIn:      prometheus.NewDesc("pixelflut_per_ip_bytes_in_total", "Bytes received, broken down by source IP.", []string{"source_ip"}, constLabels),
		perIPConnections:  prometheus.NewDesc("pixelflut_per_ip_connections_total", "Connections ever admitted, broken down by source IP.", []string{"source_ip"}, constLabels),
		perIPCommands:     prometheus.NewDesc("pixelflut_per_ip_commands_parsed_total", "Wire commands successfully parsed, broken down by source IP.", []string{"source_ip"}, constLabels),
		perIPPixelsSet:    prometheus.NewDesc("pixelflut_per_ip_pixels_set_total", "Pixels written to the framebuffer, broken down by source IP.", []string{"source_ip"}, constLabels),

		tcpRTT:          prometheus.NewDesc("pixelflut_tcp_rtt_seconds", "Smoothed round-trip time of one live connection.", []string{"correlation_id"}, constLabels),
		tcpRTTVar:       prometheus.NewDesc("pixelflut_tcp_rttvar_seconds", "Round-trip time variance of one live connection.", []string{"correlation_id"}, constLabels),
		tcpSendCwnd:     prometheus.NewDesc("pixelflut_tcp_send_cwnd_segments", "Sender congestion window of one live connection.", []string{"correlation_id"}, constLabels),
		tcpRetransmits:  prometheus.NewDesc("pixelflut_tcp_retransmits", "Unacknowledged RTO-based retransmissions of one live connection.", []string{"correlation_id"}, constLabels),
		tcpTotalRetrans: prometheus.NewDesc("pixelflut_tcp_total_retransmits", "Total retransmitted segments of one live connection.", []string{"correlation_id"}, constLabels),
	}
}

// Add registers conn for TCP_INFO polling on every future Collect and
// returns the correlation ID assigned to it, suitable for inclusion in
// connection-scoped log lines so an operator can join a log entry to a
// metrics series for the same connection.
func (c *Collector) Add(conn *netstat.Conn) xid.ID {
	id := xid.New()

	c.mu.Lock()
	c.conns[conn] = connEntry{conn: conn, id: id}
	c.mu.Unlock()

	return id
}

// Remove stops polling conn's TCP_INFO, typically called as the
// connection loop exits.
func (c *Collector) Remove(conn *netstat.Conn) {
	c.mu.Lock()
	delete(c.conns, conn)
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.bytesInTotal
	descs <- c.bytesInV4
	descs <- c.bytesInV6
	descs <- c.connectionsTotal
	descs <- c.activeConnections
	descs <- c.deniedConnections
	descs <- c.framesRendered
	descs <- c.commandsParsed
	descs <- c.pixelsSet
	descs <- c.perIPBytesIn
	descs <- c.perIPConnections
	descs <- c.perIPCommands
	descs <- c.perIPPixelsSet
	descs <- c.tcpRTT
	descs <- c.tcpRTTVar
	descs <- c.tcpSendCwnd
	descs <- c.tcpRetransmits
	descs <- c.tcpTotalRetrans
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	snap := c.aggregator.Snapshot()

	metrics <- prometheus.MustNewConstMetric(c.bytesInTotal, prometheus.CounterValue, float64(snap.BytesInTotal))
	metrics <- prometheus.MustNewConstMetric(c.bytesInV4, prometheus.CounterValue, float64(snap.BytesInV4))
	metrics <- prometheus.MustNewConstMetric(c.bytesInV6, prometheus.CounterValue, float64(snap.BytesInV6))
	metrics <- prometheus.MustNewConstMetric(c.connectionsTotal, prometheus.CounterValue, float64(snap.ConnectionsTotal))
	metrics <- prometheus.MustNewConstMetric(c.activeConnections, prometheus.GaugeValue, float64(snap.ActiveConnections))
	metrics <- prometheus.MustNewConstMetric(c.deniedConnections, prometheus.CounterValue, float64(snap.DeniedConnections))
	metrics <- prometheus.MustNewConstMetric(c.framesRendered, prometheus.CounterValue, float64(snap.FramesRendered))
	metrics <- prometheus.MustNewConstMetric(c.commandsParsed, prometheus.CounterValue, float64(snap.CommandsParsed))
	metrics <- prometheus.MustNewConstMetric(c.pixelsSet, prometheus.CounterValue, float64(snap.PixelsSet))

	for ip, perIP := range snap.PerIP {
		metrics <- prometheus.MustNewConstMetric(c.perIPBytesIn, prometheus.CounterValue, float64(perIP.BytesIn), ip)
		metrics <- prometheus.MustNewConstMetric(c.perIPConnections, prometheus.CounterValue, float64(perIP.Connections), ip)
		metrics <- prometheus.MustNewConstMetric(c.perIPCommands, prometheus.CounterValue, float64(perIP.CommandsParsed), ip)
		metrics <- prometheus.MustNewConstMetric(c.perIPPixelsSet, prometheus.CounterValue, float64(perIP.PixelsSet), ip)
	}

	c.mu.Lock()
	entries := make([]connEntry, 0, len(c.conns))
	for _, e := range c.conns {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	for _, e := range entries {
		info, ok := e.conn.TCPInfo()
		if !ok {
			continue
		}
		label := e.id.String()
		metrics <- prometheus.MustNewConstMetric(c.tcpRTT, prometheus.GaugeValue, info.RTT.Seconds(), label)
		metrics <- prometheus.MustNewConstMetric(c.tcpRTTVar, prometheus.GaugeValue, info.RTTVar.Seconds(), label)
		metrics <- prometheus.MustNewConstMetric(c.tcpSendCwnd, prometheus.GaugeValue, float64(info.SendCwnd), label)
		metrics <- prometheus.MustNewConstMetric(c.tcpRetransmits, prometheus.GaugeValue, float64(info.Retransmits), label)
		metrics <- prometheus.MustNewConstMetric(c.tcpTotalRetrans, prometheus.GaugeValue, float64(info.TotalRetrans), label)
	}
}

// MustRegister registers c with prometheus's default registry, logging
// and exiting the process on failure exactly as the teacher's exporter
// examples do at startup.
func MustRegister(c *Collector) {
	if err := prometheus.Register(c); err != nil {
		logrus.WithError(err).Fatal("failed to register prometheus collector")
	}
}
