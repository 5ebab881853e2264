package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.json")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, `{
		"gateway_conf": {
			"gateway_ID": "AA555A0000000000",
			"server_address": "localhost",
			"serv_port_up": 1700,
			"serv_port_down": 1700
		}
	}`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Gateway.GatewayID != "AA555A0000000000" {
		t.Fatalf("unexpected gateway ID: %q", c.Gateway.GatewayID)
	}
}

func TestLoadRejectsMissingGatewayID(t *testing.T) {
	path := writeTemp(t, `{"gateway_conf": {"server_address": "localhost", "serv_port_up": 1700, "serv_port_down": 1700}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing gateway_ID")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeTemp(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}

func TestLoadDecodesFlatRadioAndTxLutScheme(t *testing.T) {
	path := writeTemp(t, `{
		"SX130x_conf": {
			"lorawan_public": true,
			"radio_0": {"enable": true, "type": "SX1257", "freq": 867500000, "tx_enable": true, "tx_freq_min": 863000000, "tx_freq_max": 870000000},
			"radio_1": {"enable": true, "type": "SX1257", "freq": 868500000},
			"chan_multiSF_0": {"enable": true, "radio": 0, "if": -400000},
			"tx_lut_0": {"rf_power": -6, "pa_gain": 0, "mix_gain": 8, "dig_gain": 0},
			"tx_lut_1": {"rf_power": 0, "pa_gain": 1, "mix_gain": 10, "dig_gain": 0}
		},
		"gateway_conf": {
			"gateway_ID": "AA555A0000000000",
			"server_address": "localhost",
			"serv_port_up": 1700,
			"serv_port_down": 1700
		}
	}`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	radios := c.SX130x.GetRadios()
	if len(radios) != 2 {
		t.Fatalf("expected 2 radios, got %d", len(radios))
	}
	if radios[0].TxFreqMin == nil || *radios[0].TxFreqMin != 863000000 {
		t.Fatalf("expected radio 0 tx_freq_min 863000000, got %+v", radios[0].TxFreqMin)
	}
	luts := c.SX130x.GetTxLuts()
	if len(luts) != 2 {
		t.Fatalf("expected 2 tx luts, got %d", len(luts))
	}
	channels := c.SX130x.GetMultiSFChannels()
	if len(channels) != 1 || channels[0].IF != -400000 {
		t.Fatalf("expected 1 multi-SF channel with if -400000, got %+v", channels)
	}
}
