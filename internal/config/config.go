// Package config decodes the gateway's local JSON configuration file:
// the SX130x radio/channel plan, the gateway identity and server
// endpoints, and optional debug knobs. The radio configuration schema
// mirrors the SX1301 frequency-plan documents this class of forwarder has
// always consumed, only now read from a local file via -c instead of
// fetched from an account server.
package config

import (
	"encoding/json"
	"io/ioutil"

	"github.com/pkg/errors"
)

// ChannelConf configures a single multi-SF or standard channel.
type ChannelConf struct {
	Enabled      bool    `json:"enable"`
	Radio        uint8   `json:"radio"`
	IF           int32   `json:"if"`
	Bandwidth    *uint32 `json:"bandwidth,omitempty"`
	SpreadFactor *uint8  `json:"spread_factor,omitempty"`
	Datarate     *uint32 `json:"datarate,omitempty"`
}

// GainTableConf is one entry of a radio's TX gain lookup table, indexed
// by its tx_lut_N position.
type GainTableConf struct {
	RfPower int8   `json:"rf_power"`
	PaGain  uint8  `json:"pa_gain"`
	MixGain uint8  `json:"mix_gain"`
	DigGain uint8  `json:"dig_gain"`
	DacGain *uint8 `json:"dac_gain,omitempty"`
}

// RadioConf configures one of the concentrator's RF front-ends.
type RadioConf struct {
	Enabled    bool    `json:"enable"`
	Type       string  `json:"type"`
	Freq       uint32  `json:"freq"`
	RSSIOffset float32 `json:"rssi_offset"`
	TxEnabled  bool    `json:"tx_enable"`
	TxFreqMin  *uint32 `json:"tx_freq_min,omitempty"`
	TxFreqMax  *uint32 `json:"tx_freq_max,omitempty"`
}

// SX130xConf is the radio and channel-plan configuration block, decoded
// from the flat radio_0/radio_1/chan_multiSF_N/tx_lut_N key scheme a
// real local_conf.json ships. Every radio, channel, and gain-table slot
// is an omitempty pointer field so a config only populates the ones it
// needs; GetRadios/GetMultiSFChannels/GetTxLuts collapse them back to
// slices, stopping at the first unset slot.
type SX130xConf struct {
	LorawanPublic bool `json:"lorawan_public"`
	Clksrc        int  `json:"clksrc"`
	AntennaGain   int  `json:"antenna_gain"`

	Radio0 *RadioConf `json:"radio_0,omitempty"`
	Radio1 *RadioConf `json:"radio_1,omitempty"`

	MultiSFChan0 *ChannelConf `json:"chan_multiSF_0,omitempty"`
	MultiSFChan1 *ChannelConf `json:"chan_multiSF_1,omitempty"`
	MultiSFChan2 *ChannelConf `json:"chan_multiSF_2,omitempty"`
	MultiSFChan3 *ChannelConf `json:"chan_multiSF_3,omitempty"`
	MultiSFChan4 *ChannelConf `json:"chan_multiSF_4,omitempty"`
	MultiSFChan5 *ChannelConf `json:"chan_multiSF_5,omitempty"`
	MultiSFChan6 *ChannelConf `json:"chan_multiSF_6,omitempty"`
	MultiSFChan7 *ChannelConf `json:"chan_multiSF_7,omitempty"`

	LoraSTDChannel *ChannelConf `json:"chan_Lora_std,omitempty"`
	FSKChannel     *ChannelConf `json:"chan_FSK,omitempty"`

	TxLut0  *GainTableConf `json:"tx_lut_0,omitempty"`
	TxLut1  *GainTableConf `json:"tx_lut_1,omitempty"`
	TxLut2  *GainTableConf `json:"tx_lut_2,omitempty"`
	TxLut3  *GainTableConf `json:"tx_lut_3,omitempty"`
	TxLut4  *GainTableConf `json:"tx_lut_4,omitempty"`
	TxLut5  *GainTableConf `json:"tx_lut_5,omitempty"`
	TxLut6  *GainTableConf `json:"tx_lut_6,omitempty"`
	TxLut7  *GainTableConf `json:"tx_lut_7,omitempty"`
	TxLut8  *GainTableConf `json:"tx_lut_8,omitempty"`
	TxLut9  *GainTableConf `json:"tx_lut_9,omitempty"`
	TxLut10 *GainTableConf `json:"tx_lut_10,omitempty"`
	TxLut11 *GainTableConf `json:"tx_lut_11,omitempty"`
	TxLut12 *GainTableConf `json:"tx_lut_12,omitempty"`
	TxLut13 *GainTableConf `json:"tx_lut_13,omitempty"`
	TxLut14 *GainTableConf `json:"tx_lut_14,omitempty"`
	TxLut15 *GainTableConf `json:"tx_lut_15,omitempty"`
}

// GetRadios collapses Radio0/Radio1 into a slice, in RF chain order.
func (s SX130xConf) GetRadios() []RadioConf {
	radios := make([]RadioConf, 0, 2)
	for _, r := range []*RadioConf{s.Radio0, s.Radio1} {
		if r == nil {
			return radios
		}
		radios = append(radios, *r)
	}
	return radios
}

// GetMultiSFChannels collapses the multi-SF channel slots into a slice,
// stopping at the first unset one.
func (s SX130xConf) GetMultiSFChannels() []ChannelConf {
	channels := make([]ChannelConf, 0, 8)
	for _, c := range []*ChannelConf{
		s.MultiSFChan0, s.MultiSFChan1, s.MultiSFChan2, s.MultiSFChan3,
		s.MultiSFChan4, s.MultiSFChan5, s.MultiSFChan6, s.MultiSFChan7,
	} {
		if c == nil {
			return channels
		}
		channels = append(channels, *c)
	}
	return channels
}

// GetTxLuts collapses the tx_lut_0..15 gain-table slots into a slice,
// in ascending power-index order, stopping at the first unset one.
func (s SX130xConf) GetTxLuts() []GainTableConf {
	luts := make([]GainTableConf, 0, 16)
	for _, l := range []*GainTableConf{
		s.TxLut0, s.TxLut1, s.TxLut2, s.TxLut3, s.TxLut4, s.TxLut5, s.TxLut6, s.TxLut7,
		s.TxLut8, s.TxLut9, s.TxLut10, s.TxLut11, s.TxLut12, s.TxLut13, s.TxLut14, s.TxLut15,
	} {
		if l == nil {
			return luts
		}
		luts = append(luts, *l)
	}
	return luts
}

// GatewayConf carries the gateway's identity, server endpoints, and
// operational knobs.
type GatewayConf struct {
	GatewayID          string `json:"gateway_ID"`
	Description        string `json:"description"`
	ServerAddress      string `json:"server_address"`
	ServPortUp         int    `json:"serv_port_up"`
	ServPortDown       int    `json:"serv_port_down"`
	KeepaliveIntervalS int    `json:"keepalive_interval"`
	StatIntervalS      int    `json:"stat_interval"`
	PushTimeoutMS      int    `json:"push_timeout_ms"`
	AutoquitThreshold  int    `json:"autoquit_threshold"`
	GPSPath            string `json:"gps_tty_path,omitempty"`
	ResetPin           *int   `json:"reset_pin,omitempty"`
	BeaconPeriodS      int    `json:"beacon_period,omitempty"`
	BeaconFreqHz       uint32 `json:"beacon_freq_hz,omitempty"`
	BeaconFreqNb       uint32 `json:"beacon_freq_nb,omitempty"`
	BeaconInfoDesc     uint8  `json:"beacon_infodesc,omitempty"`
	Latitude           float64 `json:"ref_latitude,omitempty"`
	Longitude          float64 `json:"ref_longitude,omitempty"`
	SpectralScanFreqStart uint32 `json:"spectral_scan_freq_start,omitempty"`
	SpectralScanNbChan    uint32 `json:"spectral_scan_nb_chan,omitempty"`
	SpectralScanPaceS     int    `json:"spectral_scan_pace_s,omitempty"`
}

// DebugConf carries optional diagnostic overrides.
type DebugConf struct {
	ForceGPSRef bool `json:"force_gps_ref,omitempty"`
}

// Config is the top-level document read from the -c file.
type Config struct {
	SX130x  SX130xConf  `json:"SX130x_conf"`
	Gateway GatewayConf `json:"gateway_conf"`
	Debug   DebugConf   `json:"debug_conf"`
}

// Load reads and decodes the JSON configuration file at path, applying
// the mandatory-field validation the forwarder needs before it can start.
func Load(path string) (Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "reading gateway configuration file")
	}

	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return Config{}, errors.Wrap(err, "parsing gateway configuration file")
	}

	if err := c.validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid gateway configuration")
	}
	return c, nil
}

func (c Config) validate() error {
	if c.Gateway.GatewayID == "" {
		return errors.New("gateway_conf.gateway_ID is required")
	}
	if c.Gateway.ServerAddress == "" {
		return errors.New("gateway_conf.server_address is required")
	}
	if c.Gateway.ServPortUp == 0 || c.Gateway.ServPortDown == 0 {
		return errors.New("gateway_conf.serv_port_up and serv_port_down are required")
	}
	return nil
}
