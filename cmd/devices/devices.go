// Package devices implements the stripdeck devices subcommand, listing the
// audio nodes a strip can bind to.
package devices

import (
	"context"
	"fmt"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/spf13/cobra"

	"github.com/stripdeck/stripdeck/internal/conf"
	"github.com/stripdeck/stripdeck/internal/pipewire"
)

// Command creates the devices subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio devices and nodes",
		Long:  "List PipeWire audio nodes and capture devices available for strip bindings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(settings)
		},
	}
}

func execute(settings *conf.Settings) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runner := pipewire.NewExecRunner(time.Duration(settings.Engine.CommandTimeoutS) * time.Second)
	disc := pipewire.NewDiscovery(runner)

	nodes, err := disc.Nodes(ctx, true)
	if err != nil {
		return err
	}

	fmt.Println("PipeWire audio nodes:")
	for i := range nodes {
		n := &nodes[i]
		class := "sink"
		if n.IsSource {
			class = "source"
		}
		desc := n.Description
		if desc == "" {
			desc = n.Name
		}
		fmt.Printf("  [%4d] %-6s %-48s %s\n", n.ID, class, n.Name, desc)
	}

	if err := printCaptureDevices(); err != nil {
		fmt.Printf("capture device enumeration failed: %v\n", err)
	}
	return nil
}

// printCaptureDevices enumerates capture devices through the same backend the
// metering engine attaches with, so names shown here are valid meter targets.
func printCaptureDevices() error {
	malgoCtx, err := malgo.InitContext(
		[]malgo.Backend{malgo.BackendPulseaudio},
		malgo.ContextConfig{},
		func(string) {},
	)
	if err != nil {
		return err
	}
	defer func() {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
	}()

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return err
	}

	fmt.Println("\nCapture devices:")
	for i := range infos {
		fmt.Printf("  %s\n", infos[i].Name())
	}
	return nil
}
