// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"os"
	"runtime/trace"

	"github.com/loraforge/pktfwd/internal/config"
	"github.com/loraforge/pktfwd/internal/gateway"
	"github.com/loraforge/pktfwd/internal/hal/simulated"
	"github.com/loraforge/pktfwd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var startConfig = viper.GetViper()

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start Packet Forwarding",
	Long:  `pktfwd start connects to the LoRa concentrator, and starts redirecting the packets.`,

	Run: func(cmd *cobra.Command, args []string) {
		ctx := util.GetLogger()
		ctx.Info("Packet Forwarder for LoRa Gateway")

		if traceFilename := startConfig.GetString("run-trace"); traceFilename != "" {
			f, err := os.Create(traceFilename)
			if err != nil {
				ctx.WithField("File", traceFilename).Fatal("Couldn't create trace file")
			}
			trace.Start(f)
			defer trace.Stop()
			ctx.WithField("File", traceFilename).Info("Trace writing active for this run")
		}

		confPath := startConfig.GetString("config")
		conf, err := config.Load(confPath)
		if err != nil {
			ctx.WithError(err).Fatal("Couldn't read configuration")
			return
		}

		if gpsPath := startConfig.GetString("gps-path"); gpsPath != "" {
			conf.Gateway.GPSPath = gpsPath
		}

		var eui [8]byte
		copy(eui[:], conf.Gateway.GatewayID)
		radio := simulated.NewRadio(eui)
		gps := simulated.NewGPS()

		mgr := gateway.New(ctx, conf, radio, gps)
		if err := mgr.Run(); err != nil {
			ctx.WithError(err).Error("The program ended following a failure")
		}
	},
}

func init() {
	startCmd.PersistentFlags().StringP("config", "c", "/etc/pktfwd/local_conf.json", "The path to the gateway's local configuration file")
	startCmd.PersistentFlags().String("gps-path", "", "The file system path to the GPS interface, if a GPS is available (example: /dev/nmea), overriding the configuration file")
	startCmd.PersistentFlags().String("run-trace", "", "File to which write the runtime trace of the packet forwarder. Can later be read with `go tool trace <trace_file>`.")
	startCmd.PersistentFlags().BoolP("verbose", "v", false, "Show debug logs")

	viper.BindPFlags(startCmd.PersistentFlags())

	RootCmd.AddCommand(startCmd)
}
