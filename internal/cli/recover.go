package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/config"
	"github.com/cut-dicl/smacc-sub001/internal/policy"
	"github.com/cut-dicl/smacc-sub001/internal/tier"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
	"github.com/cut-dicl/smacc-sub001/pkg/utils"
)

// recoverySummary is the printable outcome of an offline recovery.
type recoverySummary struct {
	Objects []types.ObjectInfo  `json:"objects"`
	Removed []tier.RemovedEntry `json:"removed"`
	RePush  int                 `json:"re_push"`
	Hints   []hintView          `json:"memory_hints"`
}

type hintView struct {
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	Version int64  `json:"version"`
	Size    int64  `json:"size"`
}

func runRecoverCmd(cmd *cobra.Command, args []string) error {
	cfg := loadedConfig
	if err := cfg.Validate(); err != nil {
		return err
	}
	summary, err := recoverTiers(cmd, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if formatJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	printRecovery(out, summary)
	return nil
}

func recoverTiers(cmd *cobra.Command, cfg *config.Configuration) (*recoverySummary, error) {
	ctx := cmd.Context()
	topology := cfg.TopologyLocation()
	summary := &recoverySummary{}

	if topology.HasDisk() {
		selection, err := policy.NewDiskSelectionPolicy(cfg.Policy.DiskSelection, cfg.Provider(), policy.Deps{})
		if err != nil {
			return nil, err
		}
		volumes, err := tier.OpenDiskVolumes(cfg.Disk.Volumes)
		if err != nil {
			return nil, err
		}
		disk, err := tier.NewDiskManager(volumes, selection)
		if err != nil {
			return nil, err
		}
		report, err := disk.Recover(ctx)
		if err != nil {
			return nil, fmt.Errorf("disk recovery failed: %w", err)
		}
		summary.Objects = report.Objects()
		summary.Removed = report.Removed
		summary.RePush = len(report.RePush)
	}

	if topology.HasMemory() && cfg.Memory.StateDirectory != "" {
		capacity, err := cfg.MemoryCapacity()
		if err != nil {
			return nil, err
		}
		vol, err := tier.OpenMemoryVolume(cfg.Memory.StateDirectory, capacity)
		if err != nil {
			return nil, err
		}
		// hints stay on disk for the next engine start
		hints, err := tier.NewMemoryManager(vol).Recover(ctx)
		if err != nil {
			return nil, fmt.Errorf("memory recovery failed: %w", err)
		}
		for _, h := range hints {
			summary.Hints = append(summary.Hints, hintView{
				Bucket:  h.Bucket,
				Key:     h.Key,
				Version: h.Version,
				Size:    h.Range.Length(),
			})
		}
	}
	return summary, nil
}

func printRecovery(out io.Writer, s *recoverySummary) {
	fmt.Fprintf(out, "Recovered %d disk objects, %d awaiting write-back\n", len(s.Objects), s.RePush)
	if len(s.Objects) > 0 {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "BUCKET\tKEY\tSIZE\tPARTIAL\tMODIFIED")
		for _, o := range s.Objects {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", o.Bucket, o.Key, utils.FormatBytes(o.Size), o.Partial,
				o.LastModified.Format("2006-01-02 15:04:05"))
		}
		tw.Flush()
	}

	if len(s.Removed) > 0 {
		fmt.Fprintf(out, "\nRemoved %d entries\n", len(s.Removed))
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VOLUME\tNAME\tREASON")
		for _, r := range s.Removed {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", r.Volume, r.Name, r.Reason)
		}
		tw.Flush()
	}

	if len(s.Hints) > 0 {
		fmt.Fprintf(out, "\nMemory held %d objects before the restart\n", len(s.Hints))
		for _, h := range s.Hints {
			fmt.Fprintf(out, "  %s/%s (version %d, %s)\n", h.Bucket, h.Key, h.Version, utils.FormatBytes(h.Size))
		}
	}
}

func runDecodeCmd(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tVERSION\tBUCKET\tKEY\tRANGE\tPARTIAL")

	var failed int
	for _, name := range args {
		state := "-"
		d, s, err := cache.ParseStateName(name)
		if err == nil {
			state = s.String()
		} else {
			d, err = cache.ParseMainName(name)
		}
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%v\n", err)
			failed++
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%t\n", state, d.Version, d.Bucket, d.Key, d.Range, d.Partial)
	}
	tw.Flush()

	if failed > 0 {
		return fmt.Errorf("%d of %d names could not be decoded", failed, len(args))
	}
	return nil
}
