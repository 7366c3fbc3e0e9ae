package netscan

import (
	"context"
	"net"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/go-ping/ping"
	"github.com/metal-toolbox/toolshed/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPingCount   = 3
	DefaultPingTimeout = 5 * time.Second
	DefaultWorkers     = 20
)

// Pinger sends echo requests to an address.
type Pinger interface {
	// Ping returns true when at least one reply was received.
	Ping(ctx context.Context, ip net.IP) (bool, error)
}

// ICMPPinger implements the Pinger interface with ICMP echo requests.
type ICMPPinger struct {
	Count      int
	Timeout    time.Duration
	Privileged bool
}

// Ping sends Count echo requests to the address and waits up to Timeout for the replies.
func (p *ICMPPinger) Ping(ctx context.Context, ip net.IP) (bool, error) {
	pinger, err := ping.NewPinger(ip.String())
	if err != nil {
		return false, err
	}

	pinger.Count = p.Count
	pinger.Timeout = p.Timeout
	pinger.Interval = time.Second
	pinger.SetPrivileged(p.Privileged)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		return false, err
	}

	return pinger.Statistics().PacketsRecv > 0, nil
}

// Sweeper pings a list of addresses concurrently.
type Sweeper struct {
	pinger  Pinger
	workers int
	logger  *logrus.Entry
}

// NewSweeper returns a Sweeper that runs up to workers pings at a time.
func NewSweeper(pinger Pinger, workers int, logger *logrus.Logger) *Sweeper {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Sweeper{
		pinger:  pinger,
		workers: workers,
		logger:  logger.WithField("component", "netscan.sweep"),
	}
}

// Sweep returns the addresses that replied, in the order they were given.
func (s *Sweeper) Sweep(ctx context.Context, ips []net.IP) []net.IP {
	replied := make([]bool, len(ips))
	wp := workerpool.New(s.workers)

	for idx, ip := range ips {
		idx, ip := idx, ip

		wp.Submit(func() {
			if ctx.Err() != nil {
				return
			}

			ok, err := s.pinger.Ping(ctx, ip)

			var outcome string

			switch {
			case err != nil:
				outcome = "failed"
				s.logger.WithField("ip", ip.String()).WithError(err).Debug("ping failed")
			case ok:
				outcome = "ok"
				s.logger.WithField("ip", ip.String()).Info("ping ok")
			default:
				outcome = "no response"
				s.logger.WithField("ip", ip.String()).Debug("no response")
			}

			metrics.HostsSwept.With(
				metrics.AddLabels(metrics.StageLabelBMC, prometheus.Labels{"outcome": outcome}),
			).Inc()

			replied[idx] = ok
		})
	}

	wp.StopWait()

	alive := []net.IP{}

	for idx, ok := range replied {
		if ok {
			alive = append(alive, ips[idx])
		}
	}

	s.logger.WithFields(logrus.Fields{"pinged": len(ips), "alive": len(alive)}).Info("sweep complete")

	return alive
}
