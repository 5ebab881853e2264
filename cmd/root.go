// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var RootCmd = &cobra.Command{
	Use:   "pktfwd",
	Short: "LoRaWAN packet forwarder",
	Long: `pktfwd is a LoRaWAN packet forwarder.

It speaks the Semtech UDP protocol between a LoRa concentrator and a
network server, and drives the concentrator's just-in-time transmit
scheduler, GPS discipline, and class-B beacon.`,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
	}
}

func init() {
	RootCmd.PersistentFlags().BoolP("verbose", "v", false, "Show debug logs")
	viper.BindPFlags(RootCmd.PersistentFlags())
}
