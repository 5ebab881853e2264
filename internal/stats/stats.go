// Package stats tracks the upstream/downstream counters reported in the
// gateway's periodic "stat" object, following the concentrator's own
// atomic-counter status manager.
package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/loraforge/pktfwd/internal/semtech"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Counters accumulates upstream and downstream traffic counts between two
// status reports.
type Counters struct {
	rxIn uint32
	rxOk uint32
	rxFw uint32
	dwNb uint32
	txNb uint32
	txOk uint32

	mu       sync.Mutex
	bootTime *time.Time
	pending  *semtech.Stat
}

// New returns a fresh, zeroed counter set.
func New() *Counters {
	return &Counters{}
}

func (c *Counters) SetBootTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bootTime = &t
}

func (c *Counters) HandledRXBatch(received, valid, forwarded int) {
	atomic.AddUint32(&c.rxIn, uint32(received))
	atomic.AddUint32(&c.rxOk, uint32(valid))
	atomic.AddUint32(&c.rxFw, uint32(forwarded))
}

func (c *Counters) ReceivedDownlink() {
	atomic.AddUint32(&c.dwNb, 1)
}

func (c *Counters) SentTX() {
	atomic.AddUint32(&c.txNb, 1)
	atomic.AddUint32(&c.txOk, 1)
}

func (c *Counters) FailedTX() {
	atomic.AddUint32(&c.txNb, 1)
}

// Snapshot is a point-in-time read of the accumulated counters, used to
// build the "stat" JSON object.
type Snapshot struct {
	RxNb, RxOk, RxFw, DwNb, TxNb, TxOk uint32
	AckRatio                           float32
	Uptime                             time.Duration
}

// TakePendingStatus returns and clears the most recently built "stat"
// object, if any, satisfying upstream.StatusSource so a report is
// piggybacked onto the next PUSH_DATA frame exactly once.
func (c *Counters) TakePendingStatus() *semtech.Stat {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.pending
	c.pending = nil
	return s
}

// Coordinates supplies the gateway's position for the "stat" object,
// when known.
type Coordinates interface {
	Latitude() float64
	Longitude() float64
	Altitude() float64
}

// RunReporter builds a fresh "stat" object every interval from the
// accumulated counters and coords, queues it for TakePendingStatus, and
// logs OS load/memory metrics as ambient diagnostics alongside it — the
// same information the concentrator's own status manager samples via
// gopsutil, just not folded into the wire object.
func (c *Counters) RunReporter(ctx context.Context, logger log.Interface, interval time.Duration, coords Coordinates) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := c.Snapshot()
			// Start the next window by subtracting exactly what this report
			// carries, so increments that land after the snapshot are kept.
			atomic.AddUint32(&c.rxIn, ^(snap.RxNb - 1))
			atomic.AddUint32(&c.rxOk, ^(snap.RxOk - 1))
			atomic.AddUint32(&c.rxFw, ^(snap.RxFw - 1))
			atomic.AddUint32(&c.dwNb, ^(snap.DwNb - 1))
			atomic.AddUint32(&c.txNb, ^(snap.TxNb - 1))
			atomic.AddUint32(&c.txOk, ^(snap.TxOk - 1))
			stat := &semtech.Stat{
				Time: time.Now().UTC().Format("2006-01-02 15:04:05 GMT"),
				Rxnb: snap.RxNb,
				Rxok: snap.RxOk,
				Rxfw: snap.RxFw,
				Ackr: snap.AckRatio,
				Dwnb: snap.DwNb,
				Txnb: snap.TxNb,
			}
			if coords != nil {
				stat.Lati = coords.Latitude()
				stat.Long = coords.Longitude()
				stat.Alti = int32(coords.Altitude())
			}

			c.mu.Lock()
			c.pending = stat
			c.mu.Unlock()

			logger.WithFields(logFields(snap)).Info("Gateway status")
		}
	}
}

func logFields(snap Snapshot) log.Fields {
	fields := log.Fields{
		"RxNb": snap.RxNb, "RxOk": snap.RxOk, "RxFw": snap.RxFw,
		"DwNb": snap.DwNb, "TxNb": snap.TxNb, "TxOk": snap.TxOk,
		"Uptime": snap.Uptime.String(),
	}
	if cpuStats, err := cpu.Times(false); err == nil && len(cpuStats) > 0 {
		total := cpuStats[0].Total()
		if total > 0 {
			fields["CPUPercentage"] = (total - cpuStats[0].Idle) / total * 100
		}
	}
	if loadInfo, err := load.Avg(); err == nil {
		fields["Load1"] = loadInfo.Load1
		fields["Load5"] = loadInfo.Load5
		fields["Load15"] = loadInfo.Load15
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields["MemoryPercentage"] = vm.UsedPercent
	}
	return fields
}

// Snapshot reads the current counters without resetting them.
func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		RxNb: atomic.LoadUint32(&c.rxIn),
		RxOk: atomic.LoadUint32(&c.rxOk),
		RxFw: atomic.LoadUint32(&c.rxFw),
		DwNb: atomic.LoadUint32(&c.dwNb),
		TxNb: atomic.LoadUint32(&c.txNb),
		TxOk: atomic.LoadUint32(&c.txOk),
	}
	if s.DwNb > 0 {
		s.AckRatio = float32(s.TxOk) / float32(s.DwNb)
	}
	c.mu.Lock()
	if c.bootTime != nil {
		s.Uptime = time.Since(*c.bootTime)
	}
	c.mu.Unlock()
	return s
}
