// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os"

	"github.com/loraforge/pktfwd/util"
	"github.com/segmentio/go-prompt"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

var configureCmd = &cobra.Command{
	Use:   "configure [profile-path]",
	Short: "Configure Packet Forwarder",
	Long: `pktfwd configure creates a YAML operator profile recording the gateway's identity and the path of its local JSON configuration file. The start command does not read this profile.

The first argument is used as the storage location of the profile. If nothing is specified, the default path ($HOME/.pktfwd.yml) is used.`,

	Run: func(cmd *cobra.Command, args []string) {
		ctx := util.GetLogger()
		filePath := fmt.Sprintf("%s/.pktfwd.yml", os.Getenv("HOME"))
		if len(args) > 0 {
			filePath = args[0]
		}

		gatewayID := prompt.StringRequired("Enter the ID of the gateway")
		description := ""
		if prompt.Confirm("Add a short description of the gateway?") {
			description = prompt.StringRequired("Enter a short description of the gateway")
		}
		confPath := prompt.StringRequired("Enter the path to the gateway's local JSON configuration file (see -c on `start`)")

		type profile struct {
			GatewayID   string `yaml:"gateway-id"`
			Description string `yaml:"description,omitempty"`
			ConfigPath  string `yaml:"config-path"`
		}

		newProfile := &profile{
			GatewayID:   gatewayID,
			Description: description,
			ConfigPath:  confPath,
		}

		output, err := yaml.Marshal(newProfile)
		if err != nil {
			ctx.WithError(err).Fatal("Failed to generate YAML")
		}

		f, err := os.Create(filePath)
		if err != nil {
			ctx.WithError(err).Fatal("Failed to create file")
		}
		defer f.Close()

		f.Write(output)
		ctx.WithField("ProfilePath", filePath).Info("New operator profile saved")
	},
}

func init() {
	RootCmd.AddCommand(configureCmd)
}
