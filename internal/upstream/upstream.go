// Package upstream implements the upstream pipeline (activity U): poll
// the concentrator for received packets, translate them into rxpk
// entries, merge in a pending status report, and push the result to the
// server as a PUSH_DATA frame, waiting (twice) for its PUSH_ACK.
package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/rand"
	"net"
	"time"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/loraforge/pktfwd/internal/hal"
	"github.com/loraforge/pktfwd/internal/lorapkt"
	"github.com/loraforge/pktfwd/internal/semtech"
	"github.com/loraforge/pktfwd/internal/stats"
	"github.com/loraforge/pktfwd/internal/timeref"
	"github.com/pkg/errors"
)

const (
	initPollRate   = 100 * time.Microsecond
	stablePollRate = 5 * time.Millisecond
	fetchSleep     = 10 * time.Millisecond
	nbPktMax       = 8

	pushAckRetries = 2 // wait twice at PushTimeout/2 before giving up on an ack

	// rxpkTimeLayout renders the rxpk "time" key with a fixed 6-digit
	// microsecond fraction, per the Semtech protocol's UTC ISO 8601 form.
	rxpkTimeLayout = "2006-01-02T15:04:05.000000Z"
)

var datarateStrings = map[uint8]string{7: "SF7", 8: "SF8", 9: "SF9", 10: "SF10", 11: "SF11", 12: "SF12"}
var bandwidthStrings = map[uint8]string{0: "BW125", 1: "BW250", 2: "BW500"}
var coderateStrings = map[uint8]string{4: "4/5", 1: "4/6", 2: "4/7", 3: "4/8"}

// StatusSource supplies (and consumes, exactly once) the next pending
// status object to piggyback onto a PUSH_DATA frame.
type StatusSource interface {
	TakePendingStatus() *semtech.Stat
}

// Engine runs the upstream pipeline.
type Engine struct {
	Logger    log.Interface
	Radio     hal.Radio
	Ref       *timeref.Reference
	Stats     *stats.Counters
	Conn      *net.UDPConn
	GwEUI     [8]byte
	Status    StatusSource
	PushTimeout time.Duration
}

func acceptedCRC(status lorapkt.CRCStatus) bool {
	return status == lorapkt.CRCOK || status == lorapkt.CRCNone
}

func toRxpk(pkt lorapkt.RXPacket, ref *timeref.Reference) (semtech.Rxpk, error) {
	rxpk := semtech.Rxpk{
		Tmst: pkt.CountUS,
		Freq: float64(pkt.Freq) / 1e6,
		Chan: pkt.IFChain,
		Rfch: pkt.RFChain,
		Rssi: int32(pkt.RSSI),
		Lsnr: pkt.SNR,
		Size: uint32(len(pkt.Payload)),
		Data: base64.StdEncoding.EncodeToString(pkt.Payload),
	}

	switch pkt.Status {
	case lorapkt.CRCOK:
		rxpk.Stat = 1
	case lorapkt.CRCBad:
		rxpk.Stat = -1
	default:
		rxpk.Stat = 0
	}

	switch pkt.Modulation {
	case lorapkt.ModulationLoRa:
		rxpk.Modu = "LORA"
		dr, ok := datarateStrings[pkt.SF]
		if !ok {
			return rxpk, errors.New("upstream: unknown spreading factor")
		}
		bw, ok := bandwidthStrings[pkt.Bandwidth]
		if !ok {
			return rxpk, errors.New("upstream: unknown bandwidth")
		}
		rxpk.Datr = dr + bw
		cr, ok := coderateStrings[pkt.Coderate]
		if !ok {
			return rxpk, errors.New("upstream: unknown coderate")
		}
		rxpk.Codr = cr
	case lorapkt.ModulationFSK:
		rxpk.Modu = "FSK"
		rxpk.Datr = "50000"
	default:
		return rxpk, errors.New("upstream: unknown modulation")
	}

	if now, ok := ref.UTC(pkt.CountUS); ok {
		rxpk.Time = now.UTC().Format(rxpkTimeLayout)
	}
	if ms, ok := ref.GPSMillis(pkt.CountUS); ok {
		rxpk.Tmms = ms
	}

	return rxpk, nil
}

// Run drives the upstream loop until ctx is cancelled. e.Conn must
// already be connected to the upstream server address.
func (e *Engine) Run(ctx context.Context) error {
	pollRate := initPollRate
	e.Logger.Info("Waiting for uplink packets")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		packets, err := e.Radio.Receive(nbPktMax)
		if err != nil {
			return errors.Wrap(err, "uplink packet retrieval error")
		}

		var stat *semtech.Stat
		if e.Status != nil {
			stat = e.Status.TakePendingStatus()
		}

		if len(packets) == 0 {
			if stat == nil {
				time.Sleep(pollRate)
				continue
			}
		} else {
			pollRate = stablePollRate
		}

		var rxpks []semtech.Rxpk
		validCount := 0
		for _, p := range packets {
			if !acceptedCRC(p.Status) {
				continue
			}
			rxpk, err := toRxpk(p, e.Ref)
			if err != nil {
				e.Logger.WithError(err).Warn("Dropping uplink packet with unrepresentable metadata")
				continue
			}
			rxpks = append(rxpks, rxpk)
			validCount++
		}
		if e.Stats != nil {
			e.Stats.HandledRXBatch(len(packets), validCount, len(rxpks))
		}

		if len(rxpks) == 0 && stat == nil {
			time.Sleep(pollRate)
			continue
		}

		body, err := json.Marshal(semtech.RxMessage{Rxpk: rxpks, Stat: stat})
		if err != nil {
			return errors.Wrap(err, "encoding PUSH_DATA body")
		}

		if err := e.pushData(ctx, body); err != nil {
			e.Logger.WithError(err).Warn("PUSH_DATA not acknowledged")
		}
	}
}

func (e *Engine) pushData(ctx context.Context, body []byte) error {
	token := uint16(rand.Intn(1 << 16))
	pkt := semtech.Packet{
		Version: semtech.ProtocolVersion,
		Token:   token,
		Type:    semtech.PushData,
		GwEUI:   e.GwEUI,
		Body:    body,
	}
	frame, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if _, err := e.Conn.Write(frame); err != nil {
		return errors.Wrap(err, "sending PUSH_DATA")
	}

	half := e.PushTimeout / 2
	if half <= 0 {
		half = 500 * time.Millisecond
	}
	for i := 0; i < pushAckRetries; i++ {
		if e.awaitPushAck(token, half) {
			return nil
		}
	}
	return errors.New("no PUSH_ACK received")
}

func (e *Engine) awaitPushAck(token uint16, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 512)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		e.Conn.SetReadDeadline(time.Now().Add(remaining))
		n, err := e.Conn.Read(buf)
		if err != nil {
			return false
		}
		pkt, err := semtech.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		if pkt.Type == semtech.PushAck && pkt.Token == token {
			return true
		}
	}
}
