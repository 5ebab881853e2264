package beacon

import (
	"encoding/binary"
	"testing"
)

func TestCRC16KnownVector(t *testing.T) {
	got := crc16([]byte("123456789"))
	if got != 0x31C3 {
		t.Fatalf("expected CRC-16/CCITT-XMODEM(\"123456789\")=0x31C3, got 0x%04X", got)
	}
}

func TestNextBeaconTimeRoundsUp(t *testing.T) {
	if got := NextBeaconTime(0); got != 0 {
		t.Fatalf("expected next beacon at 0, got %d", got)
	}
	if got := NextBeaconTime(200); got != 256 {
		t.Fatalf("expected next beacon at 256, got %d", got)
	}
}

func TestChannelForRotates(t *testing.T) {
	if got := ChannelFor(0, 8); got != 0 {
		t.Fatalf("expected channel 0, got %d", got)
	}
	if got := ChannelFor(Period, 8); got != 1 {
		t.Fatalf("expected channel 1, got %d", got)
	}
	if got := ChannelFor(Period*8, 8); got != 0 {
		t.Fatalf("expected channel rotation to wrap to 0, got %d", got)
	}
}

func TestBuildProducesConsistentCRC(t *testing.T) {
	payload := Build(1000, 9, 48.85, 2.35, 0)
	if len(payload) == 0 {
		t.Fatalf("expected non-empty beacon payload")
	}
	l := layoutFor(9)
	if got, want := binary.LittleEndian.Uint16(payload[l.S1+4:]), crc16(payload[:l.S1+4]); got != want {
		t.Fatalf("network part CRC = 0x%04X, want 0x%04X", got, want)
	}
	gw := payload[l.S1+6:]
	if got, want := binary.LittleEndian.Uint16(gw[7+l.S2:]), crc16(gw[:7]); got != want {
		t.Fatalf("gateway part CRC = 0x%04X, want 0x%04X", got, want)
	}
}

func TestBuildLengthPerSF(t *testing.T) {
	cases := map[uint8]int{8: 19, 9: 17, 10: 19, 12: 23}
	for sf, want := range cases {
		got := len(Build(1000, sf, 48.85, 2.35, 0))
		if got != want {
			t.Fatalf("SF%d: expected beacon length %d, got %d", sf, want, got)
		}
	}
}

func TestBuildUnknownSFFallsBackToSF9Layout(t *testing.T) {
	if got, want := len(Build(1000, 7, 0, 0, 0)), len(Build(1000, 9, 0, 0, 0)); got != want {
		t.Fatalf("expected unknown SF to use SF9's layout length %d, got %d", want, got)
	}
}

func TestBuildPlacesCoordinatesAfterInfoDesc(t *testing.T) {
	l := layoutFor(9)
	payload := Build(1000, 9, 48.85, 2.35, 0x07)
	gwStart := l.S1 + 6
	if payload[gwStart] != 0x07 {
		t.Fatalf("expected infodesc 0x07 at offset %d, got 0x%02X", gwStart, payload[gwStart])
	}
	wantLat := encodeLat(48.85)
	gotLat := int32(payload[gwStart+1]) | int32(payload[gwStart+2])<<8 | int32(int8(payload[gwStart+3]))<<16
	if gotLat != wantLat {
		t.Fatalf("expected encoded latitude %d at its offset, got %d", wantLat, gotLat)
	}
}

func TestEncodeLatUsesDivisorNinety(t *testing.T) {
	if got, want := encodeLat(45), int32(1<<23)/2; got != want {
		t.Fatalf("encodeLat(45) = %d, want %d", got, want)
	}
}

func TestEncodeLonUsesDivisorOneEighty(t *testing.T) {
	if got, want := encodeLon(90), int32(1<<23)/2; got != want {
		t.Fatalf("encodeLon(90) = %d, want %d", got, want)
	}
}

func TestEncodeCoordClampsOutputNotInput(t *testing.T) {
	if got, want := encodeLat(90), coordMax; got != want {
		t.Fatalf("encodeLat(90) = %d, want clamped max %d", got, want)
	}
	if got, want := encodeLon(-180), coordMin; got != want {
		t.Fatalf("encodeLon(-180) = %d, want clamped min %d", got, want)
	}
	if got, want := encodeLat(1000), coordMax; got != want {
		t.Fatalf("encodeLat(1000) = %d, want clamped max %d", got, want)
	}
}
