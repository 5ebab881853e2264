// Package gateway wires the six forwarder activities together: it owns
// the radio and GPS HAL, the per-chain JIT queues, the shared time
// reference and crystal state, and cancellation: SIGINT/SIGTERM or a fatal
// activity error cancels the one context every activity polls, after which
// the radio is stopped. There is no second level that skips the radio
// stop, and the UDP sockets are not closed explicitly.
package gateway

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/brocaar/lorawan"
	"github.com/loraforge/pktfwd/internal/beacon"
	"github.com/loraforge/pktfwd/internal/boardreset"
	"github.com/loraforge/pktfwd/internal/config"
	"github.com/loraforge/pktfwd/internal/downstream"
	"github.com/loraforge/pktfwd/internal/gpsreader"
	"github.com/loraforge/pktfwd/internal/hal"
	"github.com/loraforge/pktfwd/internal/jit"
	"github.com/loraforge/pktfwd/internal/jitdispatch"
	"github.com/loraforge/pktfwd/internal/lorapkt"
	"github.com/loraforge/pktfwd/internal/spectral"
	"github.com/loraforge/pktfwd/internal/stats"
	"github.com/loraforge/pktfwd/internal/timeref"
	"github.com/loraforge/pktfwd/internal/upstream"
	"github.com/loraforge/pktfwd/internal/validator"
	"github.com/pkg/errors"
)

const (
	beaconMinLeadUS = 2000000  // beacon must be queued at least 2s ahead
	beaconMaxLeadUS = (jit.MaxBeaconReserved*beacon.Period + 2) * 1000000 // room for MaxBeaconReserved periods ahead
)

// Manager owns the running gateway's shared state and coordinates its
// activities, the same role the concentrator's own runtime manager plays
// over its uplink/downlink/status/GPS routines.
type Manager struct {
	logger log.Interface
	conf   config.Config
	radio  hal.Radio
	gps    hal.GPS

	ref     *timeref.Reference
	xtal    *timeref.XtalState
	coords  *gpsreader.Coordinates
	stats   *stats.Counters
	queues  map[uint8]*jit.Queue
	idle    *spectral.IdleTracker
}

// New builds a Manager for the given configuration and HAL.
func New(logger log.Interface, conf config.Config, radio hal.Radio, gps hal.GPS) *Manager {
	return &Manager{
		logger: logger,
		conf:   conf,
		radio:  radio,
		gps:    gps,
		ref:    timeref.New(),
		xtal:   timeref.NewXtalState(),
		coords: &gpsreader.Coordinates{},
		stats:  stats.New(),
		queues: map[uint8]*jit.Queue{0: jit.NewQueue(), 1: jit.NewQueue()},
		idle:   spectral.NewIdleTracker(),
	}
}

// Run starts the concentrator and every activity, blocking until either a
// termination signal arrives (graceful exit) or a fatal activity error is
// reported.
func (m *Manager) Run() error {
	runStart := time.Now()
	m.logger.WithField("DateTime", runStart).Info("Starting concentrator")

	if pin := m.conf.Gateway.ResetPin; pin != nil {
		if err := boardreset.Pin(*pin); err != nil {
			m.logger.WithError(err).Warn("Couldn't reset concentrator board over GPIO")
		}
	}

	if err := m.radio.Start(); err != nil {
		return errors.Wrap(err, "concentrator start failure")
	}
	m.stats.SetBootTime(runStart)
	m.logger.Info("Concentrator started, packets can now be sent and received")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	bgCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errC := make(chan error, 8)
	m.startActivities(bgCtx, errC)

	var runErr error
	select {
	case sig := <-sigCh:
		m.logger.WithField("Signal", sig.String()).Info("Stopping packet forwarder")
	case runErr = <-errC:
		m.logger.WithError(runErr).Error("Stopping packet forwarder after activity failure")
	}

	cancel()
	if err := m.radio.Stop(); err != nil {
		m.logger.WithError(err).Error("Couldn't stop concentrator gracefully")
	} else {
		m.logger.Info("Concentrator stopped gracefully")
	}
	return runErr
}

func (m *Manager) startActivities(ctx context.Context, errC chan<- error) {
	addrUp, addrDown, err := m.resolveAddrs()
	if err != nil {
		errC <- err
		return
	}

	connUp, err := net.DialUDP("udp", nil, addrUp)
	if err != nil {
		errC <- errors.Wrap(err, "opening upstream socket")
		return
	}
	connDown, err := net.DialUDP("udp", nil, addrDown)
	if err != nil {
		errC <- errors.Wrap(err, "opening downstream socket")
		return
	}

	gwEUI, err := m.radio.GetEUI()
	if err != nil {
		errC <- errors.Wrap(err, "reading gateway EUI")
		return
	}
	m.logger.WithField("EUI", lorawan.EUI64(gwEUI).String()).Info("Gateway identity")

	up := &upstream.Engine{
		Logger:      m.logger.WithField("Activity", "upstream"),
		Radio:       m.radio,
		Ref:         m.ref,
		Stats:       m.stats,
		Status:      m.stats,
		Conn:        connUp,
		GwEUI:       gwEUI,
		PushTimeout: time.Duration(m.conf.Gateway.PushTimeoutMS) * time.Millisecond,
	}
	go func() {
		if err := up.Run(ctx); err != nil {
			select {
			case errC <- errors.Wrap(err, "upstream activity"):
			default:
			}
		}
	}()

	down := &downstream.Engine{
		Logger:            m.logger.WithField("Activity", "downstream"),
		Conn:              connDown,
		GwEUI:             gwEUI,
		Queues:            m.queues,
		Ref:               m.ref,
		Stats:             m.stats,
		KeepaliveInterval: time.Duration(m.conf.Gateway.KeepaliveIntervalS) * time.Second,
		AutoquitThreshold: m.conf.Gateway.AutoquitThreshold,
		CounterNow:        m.radio.GetInstCnt,
		Radios:            m.conf.SX130x.GetRadios(),
		TxLuts:            m.conf.SX130x.GetTxLuts(),
	}
	go func() {
		if err := down.Run(ctx); err != nil {
			select {
			case errC <- errors.Wrap(err, "downstream activity"):
			default:
			}
		}
	}()

	for chain, q := range m.queues {
		go jitdispatch.Run(ctx, m.logger.WithField("Activity", "jit"), chain, m.radio, q, m.ref, m.idle, m.stats)
	}

	statInterval := time.Duration(m.conf.Gateway.StatIntervalS) * time.Second
	go m.stats.RunReporter(ctx, m.logger.WithField("Activity", "status"), statInterval, m.coords)

	if m.conf.Gateway.SpectralScanNbChan > 0 {
		scanCfg := spectral.Config{
			FreqStart: m.conf.Gateway.SpectralScanFreqStart,
			NbChan:    m.conf.Gateway.SpectralScanNbChan,
			Pace:      time.Duration(m.conf.Gateway.SpectralScanPaceS) * time.Second,
		}
		go spectral.Run(ctx, m.logger.WithField("Activity", "spectral"), m.radio, scanCfg, m.idle.AllIdle, func(res spectral.Result) {
			m.logger.WithField("Freq", res.Freq).Debug("Spectral scan step complete")
		})
	}

	if m.conf.Gateway.GPSPath != "" {
		go func() {
			if err := gpsreader.Run(ctx, m.logger.WithField("Activity", "gps"), m.radio, m.gps, m.conf.Gateway.GPSPath, m.ref, m.coords); err != nil {
				select {
				case errC <- errors.Wrap(err, "GPS activity"):
				default:
				}
			}
		}()
		go validator.Run(ctx, m.logger.WithField("Activity", "validator"), m.gps, m.ref, m.xtal)
		go m.beaconLoop(ctx)
	}
}

// beaconLoop watches the GPS time reference and keeps up to
// jit.MaxBeaconReserved future beacons queued on chain 0 ahead of the
// concentrator, refilling the lookahead window every tick rather than
// scheduling one beacon at a time, so a slow tick or a burst of
// downlink traffic can't starve the queue down to zero beacons.
func (m *Manager) beaconLoop(ctx context.Context) {
	if m.conf.Gateway.BeaconPeriodS == 0 {
		return
	}
	q, ok := m.queues[0]
	if !ok {
		return
	}

	var nextToSchedule uint32
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gpsSec, ok := m.ref.GPSSeconds()
			if !ok {
				continue
			}
			if nextToSchedule <= gpsSec {
				nextToSchedule = beacon.NextBeaconTime(gpsSec)
			}

			for q.BeaconCount() < jit.MaxBeaconReserved {
				if !m.scheduleBeacon(q, nextToSchedule) {
					break
				}
				nextToSchedule += beacon.Period
			}
		}
	}
}

// scheduleBeacon builds and enqueues the beacon due at gpsSeconds. It
// returns false when the beacon couldn't be enqueued (queue full, too
// far ahead, or the time/counter reference isn't ready yet), telling
// the caller to stop refilling for this tick rather than skip ahead to
// the next period.
func (m *Manager) scheduleBeacon(q *jit.Queue, gpsSeconds uint32) bool {
	now, err := m.radio.GetInstCnt()
	if err != nil {
		return false
	}
	target, ok := m.ref.CounterAtGPS(gpsSeconds)
	if !ok {
		return false
	}

	payload := beacon.Build(gpsSeconds, 9, m.conf.Gateway.Latitude, m.conf.Gateway.Longitude, m.conf.Gateway.BeaconInfoDesc)
	chanIdx := beacon.ChannelFor(gpsSeconds, m.conf.Gateway.BeaconFreqNb)
	freq := m.conf.Gateway.BeaconFreqHz + chanIdx*(200000)

	tx := lorapkt.TXPacket{
		Freq:       freq,
		Modulation: lorapkt.ModulationLoRa,
		SF:         9,
		Bandwidth:  0,
		Coderate:   4,
		Power:      27,
		Payload:    payload,
		Mode:       lorapkt.TXModeTimestamp,
		CountUS:    target,
		IsBeacon:   true,
	}
	entry := jit.Entry{Packet: tx, Target: target, TOA: lorapkt.TimeOnAir(tx), IsBeacon: true}
	if err := q.Enqueue(entry, now, beaconMinLeadUS, beaconMaxLeadUS); err != nil {
		m.logger.WithError(err).WithField("Activity", "beacon").Debug("Beacon not scheduled")
		return false
	}
	return true
}

func (m *Manager) resolveAddrs() (up, down *net.UDPAddr, err error) {
	up, err = net.ResolveUDPAddr("udp", net.JoinHostPort(m.conf.Gateway.ServerAddress, strconv.Itoa(m.conf.Gateway.ServPortUp)))
	if err != nil {
		return nil, nil, errors.Wrap(err, "resolving upstream server address")
	}
	down, err = net.ResolveUDPAddr("udp", net.JoinHostPort(m.conf.Gateway.ServerAddress, strconv.Itoa(m.conf.Gateway.ServPortDown)))
	if err != nil {
		return nil, nil, errors.Wrap(err, "resolving downstream server address")
	}
	return up, down, nil
}
