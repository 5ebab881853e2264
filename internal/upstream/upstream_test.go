package upstream

import (
	"testing"

	"github.com/loraforge/pktfwd/internal/lorapkt"
	"github.com/loraforge/pktfwd/internal/timeref"
)

func TestToRxpkLoRa(t *testing.T) {
	pkt := lorapkt.RXPacket{
		Freq:       868100000,
		CountUS:    12345,
		RFChain:    1,
		IFChain:    2,
		Status:     lorapkt.CRCOK,
		Modulation: lorapkt.ModulationLoRa,
		Bandwidth:  0,
		SF:         7,
		Coderate:   4,
		RSSI:       -42,
		SNR:        9.5,
		Payload:    []byte{0x01, 0x02, 0x03},
	}
	ref := timeref.New()
	rxpk, err := toRxpk(pkt, ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rxpk.Datr != "SF7BW125" {
		t.Fatalf("expected SF7BW125, got %q", rxpk.Datr)
	}
	if rxpk.Codr != "4/5" {
		t.Fatalf("expected 4/5, got %q", rxpk.Codr)
	}
	if rxpk.Stat != 1 {
		t.Fatalf("expected stat=1 for CRC OK, got %d", rxpk.Stat)
	}
	if rxpk.Time != "" {
		t.Fatalf("expected no time field without a valid reference, got %q", rxpk.Time)
	}
}

func TestToRxpkUnknownSF(t *testing.T) {
	pkt := lorapkt.RXPacket{Modulation: lorapkt.ModulationLoRa, SF: 99, Bandwidth: 0}
	if _, err := toRxpk(pkt, timeref.New()); err == nil {
		t.Fatal("expected error for unrepresentable spreading factor")
	}
}

func TestToRxpkFSK(t *testing.T) {
	pkt := lorapkt.RXPacket{Modulation: lorapkt.ModulationFSK, Status: lorapkt.CRCBad}
	rxpk, err := toRxpk(pkt, timeref.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rxpk.Modu != "FSK" {
		t.Fatalf("expected FSK modulation, got %q", rxpk.Modu)
	}
	if rxpk.Stat != -1 {
		t.Fatalf("expected stat=-1 for bad CRC, got %d", rxpk.Stat)
	}
}
