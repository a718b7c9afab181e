package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/pcabench/devices"
)

var (
	discoverScript  string        // Discovery script command line
	discoverMax     int           // Upper bound on reported devices
	discoverTimeout time.Duration // Script timeout
)

// discoverCmd runs a discovery script and prints the devices it reports
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run a device discovery script and print its addresses",
	Run: func(cmd *cobra.Command, args []string) {
		if discoverScript == "" {
			logrus.Fatalf("--script is required")
		}
		ctx, cancel := context.WithTimeout(context.Background(), discoverTimeout)
		defer cancel()

		addrs, err := devices.NewScriptDiscoverer(discoverScript).Discover(ctx)
		if err != nil {
			logrus.Fatalf("Device discovery failed: %v", err)
		}
		out, err := formatDiscovery(addrs, discoverMax)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		fmt.Println(out)
	},
}

// formatDiscovery renders the clamped addresses in the discovery script format.
func formatDiscovery(addrs []string, limit int) (string, error) {
	res := devices.Resource{Name: "gpu", Addresses: devices.Clamp(addrs, limit)}
	if res.Addresses == nil {
		res.Addresses = []string{}
	}
	data, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("encoding discovery result: %w", err)
	}
	return string(data), nil
}

func init() {
	discoverCmd.Flags().StringVar(&discoverScript, "script", "", "Discovery script command line")
	discoverCmd.Flags().IntVar(&discoverMax, "max", devices.MaxTestDevices, "Maximum number of devices to report")
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 30*time.Second, "Discovery script timeout")
}
