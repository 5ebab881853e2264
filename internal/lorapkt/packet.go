// Package lorapkt describes the packets exchanged between the concentrator
// HAL and the rest of the forwarder, and the airtime math the JIT scheduler
// needs to keep radio chains collision-free.
package lorapkt

import "time"

// Modulation identifies the modulation scheme of a packet.
type Modulation uint8

const (
	ModulationLoRa Modulation = iota
	ModulationFSK
)

// CRCStatus is the concentrator's verdict on a received packet's CRC.
type CRCStatus uint8

const (
	CRCOK CRCStatus = iota
	CRCBad
	CRCNone
)

// TXMode selects how a TXPacket's target counter should be interpreted.
type TXMode uint8

const (
	// TXModeTimestamp sends the packet when the concentrator counter
	// reaches CountUS.
	TXModeTimestamp TXMode = iota
	// TXModeImmediate sends the packet as soon as the radio is free.
	TXModeImmediate
	// TXModeOnGPS sends the packet at a GPS time, already converted to the
	// concentrator counter value carried in CountUS.
	TXModeOnGPS
)

// RXPacket is a single frame received off the air, as handed back by the
// HAL's Receive call.
type RXPacket struct {
	Freq       uint32 // central frequency of the IF chain, Hz
	IFChain    uint8
	RFChain    uint8
	Status     CRCStatus
	CountUS    uint32 // concentrator counter at packet start, µs resolution
	Time       time.Time
	TimeValid  bool
	Modulation Modulation
	Bandwidth  uint8 // 0=125kHz 1=250kHz 2=500kHz
	SF         uint8 // spreading factor, LoRa only
	Datarate   uint32
	Coderate   uint8
	RSSI       float32
	RSSIStd    float32
	SNR        float32
	MinSNR     float32
	MaxSNR     float32
	FreqOffset int32
	Payload    []byte
}

// TXPacket is a single frame handed to the HAL's Send call.
type TXPacket struct {
	Mode        TXMode
	RFChain     uint8
	Freq        uint32
	Power       int8
	Modulation  Modulation
	Bandwidth   uint8
	SF          uint8
	Coderate    uint8
	InvertPol   bool
	Preamble    uint16
	NoHeader    bool
	NoCRC       bool
	CountUS     uint32
	GPSTime     time.Time
	Payload     []byte
	IsBeacon    bool
}

var bandwidthHz = map[uint8]uint32{0: 125000, 1: 250000, 2: 500000}

// codingRateBits maps a coding rate identifier (4 = 4/5, 1 = 4/6, 2 = 4/7,
// 3 = 4/8) to the number of parity bits per codeword, used by the airtime
// formula.
var codingRateBits = map[uint8]uint32{
	4: 1, // 4/5
	1: 2, // 4/6 (alias of 2/3)
	2: 3, // 4/7
	3: 4, // 4/8 (alias of 1/2)
}

// TimeOnAir returns the on-air duration of pkt, in microseconds, using the
// standard LoRa symbol/airtime formulas. FSK packets use a flat bit-rate
// estimate since the forwarder never schedules FSK beacons.
func TimeOnAir(pkt TXPacket) uint32 {
	if pkt.Modulation == ModulationFSK {
		return fskTimeOnAir(pkt)
	}
	return loraTimeOnAir(pkt)
}

func loraTimeOnAir(pkt TXPacket) uint32 {
	bw := bandwidthHz[pkt.Bandwidth]
	if bw == 0 {
		bw = 125000
	}
	sf := float64(pkt.SF)
	if sf == 0 {
		sf = 7
	}

	tSym := float64(int(1)<<uint(sf)) / float64(bw) // seconds per symbol

	lowDROpt := 0.0
	if sf >= 11 && pkt.Bandwidth == 0 {
		lowDROpt = 1.0
	}

	crBits := float64(codingRateBits[pkt.Coderate])
	if crBits == 0 {
		crBits = 1
	}

	headerBit := 0.0
	if pkt.NoHeader {
		headerBit = 1.0
	}
	crcBit := 16.0
	if pkt.NoCRC {
		crcBit = 0.0
	}

	payloadLen := float64(len(pkt.Payload))
	numerator := 8*payloadLen - 4*sf + 28 + crcBit - 20*headerBit
	denominator := 4 * (sf - 2*lowDROpt)

	nPayload := 8.0
	if numerator > 0 {
		nPayload = 8 + ceilDiv(numerator, denominator)*(crBits+4)
	}

	preamble := float64(pkt.Preamble)
	if preamble == 0 {
		preamble = 8
	}
	tPreamble := (preamble + 4.25) * tSym
	tPayload := nPayload * tSym

	totalSeconds := tPreamble + tPayload
	return uint32(totalSeconds * 1e6)
}

func ceilDiv(a, b float64) float64 {
	if b <= 0 {
		return 0
	}
	q := a / b
	if q < 0 {
		return 0
	}
	whole := float64(int64(q))
	if q > whole {
		return whole + 1
	}
	return whole
}

// fskTimeOnAir estimates airtime at a fixed 50kbps, since this forwarder
// never schedules FSK beacons and downstream FSK datarate negotiation is
// out of scope.
func fskTimeOnAir(pkt TXPacket) uint32 {
	const bitrate = 50000
	return uint32(float64(len(pkt.Payload)+1) * 8 * 1e6 / bitrate)
}
