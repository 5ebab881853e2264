// Package downstream implements the downstream pipeline (activity D):
// PULL_DATA heartbeats keep the server's return path open, PULL_RESP
// frames carry downlink packets to enqueue onto the JIT scheduler, and
// each PULL_RESP is acknowledged with a TX_ACK, except one whose JSON does
// not parse or whose txpk fails as errMalformed, which is logged and
// dropped without a TX_ACK.
package downstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/rand"
	"net"
	"strconv"
	"time"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/loraforge/pktfwd/internal/config"
	"github.com/loraforge/pktfwd/internal/jit"
	"github.com/loraforge/pktfwd/internal/lorapkt"
	"github.com/loraforge/pktfwd/internal/semtech"
	"github.com/loraforge/pktfwd/internal/stats"
	"github.com/loraforge/pktfwd/internal/timeref"
	"github.com/pkg/errors"
)

const (
	pullTimeout   = 1 * time.Second
	minLeadTimeUS = 100000  // 100ms minimum lead before target counter
	maxLeadTimeUS = 8000000 // 8s maximum lookahead

	stdLoRaPreamble = 8 // symbols, default LoRa preamble when prea is unset
	minLoRaPreamble = 6 // symbols, floor below which a demodulator can't sync
	minFSKPreamble  = 5 // bytes
)

// errMalformed marks a PULL_RESP whose txpk can never be scheduled under
// any of the closed TX_ACK error reasons (bad JSON, bad base64, an
// unrecognized coding rate, no scheduling field set, or a concentrator
// that can't report its counter). The real firmware has no jit_error_e
// for "the request doesn't parse", so these are logged and left
// unacknowledged rather than forced into an unrelated TX_ACK code.
var errMalformed = errors.New("malformed or unschedulable txpk")

// errTxFreq, errTxPower and errGPSUnlocked map onto the closed TX_ACK
// vocabulary (§6): the requested frequency falls outside the addressed
// radio's tx_freq_min/tx_freq_max, every entry of the tx gain LUT is above
// the requested power, or tmms was requested without a valid time
// reference.
var (
	errTxFreq      = errors.New("TX_FREQ")
	errTxPower     = errors.New("TX_POWER")
	errGPSUnlocked = errors.New("GPS_UNLOCKED")
)

// coderateAlias maps the aliased coding rate identifiers a server may send
// onto the ones the concentrator actually understands: "2/3"->"4/6" and
// "1/2"->"4/8", exactly as the concentrator's own coding rate table does.
var coderateAlias = map[string]string{
	"4/5": "4/5",
	"2/3": "4/6",
	"4/6": "4/6",
	"4/7": "4/7",
	"1/2": "4/8",
	"4/8": "4/8",
}

var coderateValue = map[string]uint8{"4/5": 4, "4/6": 1, "4/7": 2, "4/8": 3}
var bandwidthValue = map[string]uint8{"BW125": 0, "BW250": 1, "BW500": 2}

// Engine runs the downstream pipeline for one gateway connection.
type Engine struct {
	Logger            log.Interface
	Conn              *net.UDPConn
	GwEUI             [8]byte
	Queues            map[uint8]*jit.Queue
	Ref               *timeref.Reference
	Stats             *stats.Counters
	KeepaliveInterval time.Duration
	AutoquitThreshold int
	CounterNow        func() (uint32, error)

	// Radios is indexed by RF chain, from config.SX130xConf.GetRadios;
	// it supplies the tx_freq_min/tx_freq_max range schedule() checks
	// requested TX_FREQ against.
	Radios []config.RadioConf
	// TxLuts is the gain table schedule() resolves requested TX_POWER
	// against, from config.SX130xConf.GetTxLuts.
	TxLuts []config.GainTableConf
}

// Run drives the downstream loop, sending PULL_DATA heartbeats and
// dispatching every PULL_RESP it receives, until ctx is cancelled or the
// autoquit threshold of un-acked heartbeats is reached.
func (e *Engine) Run(ctx context.Context) error {
	if e.KeepaliveInterval <= 0 {
		e.KeepaliveInterval = 5 * time.Second
	}
	ticker := time.NewTicker(e.KeepaliveInterval)
	defer ticker.Stop()

	unacked := 0
	buf := make([]byte, 2048)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			token := uint16(rand.Intn(1 << 16))
			pkt := semtech.Packet{Version: semtech.ProtocolVersion, Token: token, Type: semtech.PullData, GwEUI: e.GwEUI}
			frame, err := pkt.Marshal()
			if err != nil {
				return err
			}
			if _, err := e.Conn.Write(frame); err != nil {
				return errors.Wrap(err, "sending PULL_DATA")
			}
			unacked++
			if e.AutoquitThreshold > 0 && unacked >= e.AutoquitThreshold {
				return errors.New("autoquit: too many un-acknowledged PULL_DATA heartbeats")
			}
		default:
			e.Conn.SetReadDeadline(time.Now().Add(pullTimeout))
			n, err := e.Conn.Read(buf)
			if err != nil {
				continue
			}
			pkt, err := semtech.Unmarshal(buf[:n])
			if err != nil {
				continue
			}
			switch pkt.Type {
			case semtech.PullAck:
				unacked = 0
			case semtech.PullResp:
				e.handlePullResp(pkt)
			}
		}
	}
}

// ackError maps a schedule() failure onto §6's closed TX_ACK vocabulary.
// It returns ok=false for errMalformed, telling the caller to skip the
// TX_ACK entirely rather than report a code that doesn't apply.
func ackError(err error) (code string, ok bool) {
	switch errors.Cause(err) {
	case nil:
		return "", true
	case jit.ErrTooLate:
		return "TOO_LATE", true
	case jit.ErrTooEarly:
		return "TOO_EARLY", true
	case jit.ErrFull, jit.ErrCollisionPkt:
		return "COLLISION_PACKET", true
	case jit.ErrCollisionBcn:
		return "COLLISION_BEACON", true
	case errTxFreq:
		return "TX_FREQ", true
	case errTxPower:
		return "TX_POWER", true
	case errGPSUnlocked:
		return "GPS_UNLOCKED", true
	}
	return "", false
}

func (e *Engine) handlePullResp(pkt semtech.Packet) {
	if e.Stats != nil {
		e.Stats.ReceivedDownlink()
	}

	var msg semtech.TxMessage
	if err := json.Unmarshal(pkt.Body, &msg); err != nil {
		e.Logger.WithError(err).Warn("Dropping unparseable PULL_RESP")
		return
	}

	result, scheduleErr := e.schedule(msg.Txpk)
	ackErr, ok := ackError(scheduleErr)
	if !ok {
		e.Logger.WithError(scheduleErr).Warn("Dropping unschedulable PULL_RESP")
		return
	}

	ack := semtech.TxAckMessage{}
	ack.TxpkAck.Error = ackErr
	if scheduleErr == nil {
		ack.TxpkAck.Warn = result.Warn
		ack.TxpkAck.Value = result.Value
	}
	body, err := json.Marshal(ack)
	if err != nil {
		e.Logger.WithError(err).Warn("Failed to encode TX_ACK")
		return
	}
	ackPkt := semtech.Packet{Version: semtech.ProtocolVersion, Token: pkt.Token, Type: semtech.TxAck, Body: body}
	frame, err := ackPkt.Marshal()
	if err != nil {
		e.Logger.WithError(err).Warn("Failed to encode TX_ACK frame")
		return
	}
	if _, err := e.Conn.Write(frame); err != nil {
		e.Logger.WithError(err).Warn("Failed to send TX_ACK")
	}
}

// scheduleResult carries a non-fatal TX_ACK warning alongside a
// successful schedule.
type scheduleResult struct {
	Warn  string
	Value string
}

func (e *Engine) schedule(txpk semtech.Txpk) (scheduleResult, error) {
	payload, err := base64.StdEncoding.DecodeString(txpk.Data)
	if err != nil {
		return scheduleResult{}, errMalformed
	}

	freqHz := uint32(txpk.Freq * 1e6)

	tx := lorapkt.TXPacket{
		RFChain:   txpk.Rfch,
		Freq:      freqHz,
		Payload:   payload,
		InvertPol: txpk.Ipol,
		NoCRC:     txpk.Ncrc,
		NoHeader:  txpk.Nhdr,
	}

	switch txpk.Modu {
	case "", "LORA":
		tx.Modulation = lorapkt.ModulationLoRa
	case "FSK":
		tx.Modulation = lorapkt.ModulationFSK
	default:
		return scheduleResult{}, errMalformed
	}

	if tx.Modulation == lorapkt.ModulationLoRa {
		if bw, ok := bandwidthValue[bwFromDatr(txpk.Datr)]; ok {
			tx.Bandwidth = bw
		}
		tx.SF = sfFromDatr(txpk.Datr)

		if txpk.Codr != "" {
			canon, ok := coderateAlias[txpk.Codr]
			if !ok {
				return scheduleResult{}, errMalformed
			}
			tx.Coderate = coderateValue[canon]
		}
	}

	tx.Preamble = preambleFor(tx.Modulation, txpk.Prea)

	if err := e.checkTxFreq(txpk.Rfch, freqHz); err != nil {
		return scheduleResult{}, err
	}

	resolvedPower, warn, err := e.checkTxPower(txpk.Powe)
	if err != nil {
		return scheduleResult{}, err
	}
	tx.Power = resolvedPower
	var result scheduleResult
	if warn {
		result.Warn = "TX_POWER"
		result.Value = strconv.Itoa(int(resolvedPower))
	}

	var target uint32
	var now uint32
	if e.CounterNow != nil {
		var err2 error
		now, err2 = e.CounterNow()
		if err2 != nil {
			return scheduleResult{}, errMalformed
		}
	}

	switch {
	case txpk.Imme:
		tx.Mode = lorapkt.TXModeImmediate
		target = now
	case txpk.Tmst != 0:
		tx.Mode = lorapkt.TXModeTimestamp
		target = txpk.Tmst
	case txpk.Tmms != 0:
		if e.Ref == nil || !e.Ref.Valid(time.Now()) {
			return scheduleResult{}, errGPSUnlocked
		}
		// tmms is GPS milliseconds; convert it to a counter target through Ref.
		secTarget, ok := e.Ref.CounterAtGPS(uint32(txpk.Tmms / 1000))
		if !ok {
			return scheduleResult{}, errGPSUnlocked
		}
		tx.Mode = lorapkt.TXModeOnGPS
		target = secTarget + uint32(txpk.Tmms%1000)*1000
	default:
		return scheduleResult{}, errMalformed
	}
	tx.CountUS = target

	q, ok := e.Queues[txpk.Rfch]
	if !ok {
		return scheduleResult{}, errMalformed
	}

	minLead := uint32(minLeadTimeUS)
	if tx.Mode == lorapkt.TXModeImmediate {
		minLead = 0
	}

	toa := lorapkt.TimeOnAir(tx)
	entry := jit.Entry{Packet: tx, Target: target, TOA: toa, IsImmediate: tx.Mode == lorapkt.TXModeImmediate}
	if err := q.Enqueue(entry, now, minLead, maxLeadTimeUS); err != nil {
		return scheduleResult{}, err
	}
	return result, nil
}

// preambleFor enforces the modulation-specific preamble floor. For LoRa,
// prea==0 falls back to the LoRa standard and any non-zero request below
// the demodulator's minimum is raised to that minimum; for FSK, any
// request below the minimum, 0 included, is raised to that minimum.
func preambleFor(mod lorapkt.Modulation, prea uint16) uint16 {
	if mod == lorapkt.ModulationFSK {
		if prea < minFSKPreamble {
			return minFSKPreamble
		}
		return prea
	}
	if prea == 0 {
		return stdLoRaPreamble
	}
	if prea < minLoRaPreamble {
		return minLoRaPreamble
	}
	return prea
}

// checkTxFreq rejects a request outside the addressed radio's configured
// tx_freq_min/tx_freq_max range. A chain with no radio configured, or a
// radio with no range set, is not restricted.
func (e *Engine) checkTxFreq(chain uint8, freqHz uint32) error {
	if int(chain) >= len(e.Radios) {
		return nil
	}
	radio := e.Radios[chain]
	if radio.TxFreqMin != nil && freqHz < *radio.TxFreqMin {
		return errTxFreq
	}
	if radio.TxFreqMax != nil && freqHz > *radio.TxFreqMax {
		return errTxFreq
	}
	return nil
}

// checkTxPower resolves the requested power against the configured gain
// LUT, picking the largest entry whose rf_power does not exceed the
// request, the same closest-match rule the concentrator's own gain-LUT
// lookup uses. A gateway with no LUT configured doesn't validate power
// at all. warn reports whether the resolved power differs from the
// request, which the caller surfaces as a non-fatal TX_ACK warning
// rather than failing the schedule.
func (e *Engine) checkTxPower(powe uint8) (resolved int8, warn bool, err error) {
	if len(e.TxLuts) == 0 {
		return int8(powe), false, nil
	}
	requested := int8(powe)
	best := int8(0)
	found := false
	for _, lut := range e.TxLuts {
		if lut.RfPower <= requested && (!found || lut.RfPower > best) {
			best = lut.RfPower
			found = true
		}
	}
	if !found {
		return 0, false, errTxPower
	}
	return best, best != requested, nil
}

func bwFromDatr(datr string) string {
	if len(datr) < 4 {
		return ""
	}
	for _, bw := range []string{"BW125", "BW250", "BW500"} {
		if len(datr) >= len(bw) && datr[len(datr)-len(bw):] == bw {
			return bw
		}
	}
	return ""
}

func sfFromDatr(datr string) uint8 {
	// datr looks like "SF7BW125"; extract the digits between SF and BW.
	if len(datr) < 3 || datr[0:2] != "SF" {
		return 7
	}
	i := 2
	for i < len(datr) && datr[i] >= '0' && datr[i] <= '9' {
		i++
	}
	sf := 0
	for _, c := range datr[2:i] {
		sf = sf*10 + int(c-'0')
	}
	if sf == 0 {
		return 7
	}
	return uint8(sf)
}
