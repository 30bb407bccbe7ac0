// Command mevinfo inspects the GPU adapters mev can drive on this
// machine.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zakarumych/mev"
	"github.com/zakarumych/mev/hal"
)

var (
	backendName string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "mevinfo",
	Short: "Inspect GPU adapters and device capabilities",
	Long: `mevinfo lists the adapters the compiled-in GPU backend exposes,
their queue families, memory types and capability limits, and can open
a device to verify it comes up.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			mev.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			})))
		}
	},
}

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List available adapters",
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := mev.EnumerateAdapters(backendName)
		if err != nil {
			return err
		}
		for i, info := range infos {
			fmt.Printf("adapter %d: %s (%v)\n", i, info.Name, info.DeviceType)
			for fi, f := range info.QueueFamilies {
				fmt.Printf("  queue family %d: %s x%d\n", fi, queueFlagString(f.Flags), f.Count)
			}
			for mi, m := range info.MemoryTypes {
				fmt.Printf("  memory type %d: %s, heap %s\n", mi, memoryFlagString(m.Flags), byteSize(m.HeapSize))
			}
			fmt.Printf("  max texture 2d: %d\n", info.Limits.MaxTextureDimension2D)
			fmt.Printf("  max buffer size: %s\n", byteSize(info.Limits.MaxBufferSize))
			fmt.Printf("  max bind groups: %d\n", info.Limits.MaxBindGroups)
		}
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Open a device and report its state",
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := mev.NewDevice(mev.DeviceDesc{Backend: backendName})
		if err != nil {
			return fmt.Errorf("open device: %w", err)
		}
		defer dev.Close()

		fmt.Printf("backend: %s\n", dev.Backend())
		fmt.Printf("adapter: %s\n", dev.Info().Name)
		fmt.Printf("queues: %d\n", dev.QueueCount())

		stats := dev.MemoryStats()
		fmt.Printf("memory: %s reserved, %s free, %d blocks\n",
			byteSize(stats.Reserved), byteSize(stats.Free), stats.Blocks)
		return nil
	},
}

func queueFlagString(f mev.QueueFlags) string {
	var parts []string
	if f&mev.QueueGraphics != 0 {
		parts = append(parts, "graphics")
	}
	if f&mev.QueueCompute != 0 {
		parts = append(parts, "compute")
	}
	if f&mev.QueueTransfer != 0 {
		parts = append(parts, "transfer")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

func memoryFlagString(f hal.MemoryFlags) string {
	var parts []string
	if f&hal.MemoryDeviceLocal != 0 {
		parts = append(parts, "device-local")
	}
	if f&hal.MemoryHostVisible != 0 {
		parts = append(parts, "host-visible")
	}
	if f&hal.MemoryHostCoherent != 0 {
		parts = append(parts, "host-coherent")
	}
	if f&hal.MemoryHostCached != 0 {
		parts = append(parts, "host-cached")
	}
	if f&hal.MemoryLazilyAllocated != 0 {
		parts = append(parts, "lazy")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

func byteSize(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "backend name (default: platform backend)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(adaptersCmd, probeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
