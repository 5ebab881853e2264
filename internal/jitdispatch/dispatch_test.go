package jitdispatch

import (
	"context"
	"testing"
	"time"

	ttnlog "github.com/TheThingsNetwork/go-utils/log"
	"github.com/TheThingsNetwork/go-utils/log/apex"
	"github.com/apex/log"
	"github.com/loraforge/pktfwd/internal/hal/simulated"
	"github.com/loraforge/pktfwd/internal/jit"
	"github.com/loraforge/pktfwd/internal/lorapkt"
	"github.com/loraforge/pktfwd/internal/stats"
)

func testLogger() ttnlog.Interface {
	return apex.Wrap(&log.Logger{Handler: log.HandlerFunc(func(*log.Entry) error { return nil })})
}

func TestRunDispatchesDueEntry(t *testing.T) {
	radio := simulated.NewRadio([8]byte{1, 2, 3, 4, 5, 6, 7, 8})
	radio.Start()
	defer radio.Stop()

	q := jit.NewQueue()
	now, _ := radio.GetInstCnt()
	entry := jit.Entry{
		Packet: lorapkt.TXPacket{Freq: 868100000, Payload: []byte{0xAA}},
		Target: now,
		TOA:    1000,
	}
	if err := q.Enqueue(entry, now, 0, 8000000); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	st := stats.New()
	Run(ctx, testLogger(), 0, radio, q, nil, nil, st)

	<-ctx.Done()
	if q.Len() != 0 {
		t.Fatalf("expected entry to be dequeued and dispatched, queue still has %d", q.Len())
	}
	if snap := st.Snapshot(); snap.TxOk == 0 {
		t.Fatal("expected at least one successful TX recorded")
	}
}
