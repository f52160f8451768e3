package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/cut-dicl/smacc-sub001/internal/coldstore"
	"github.com/cut-dicl/smacc-sub001/internal/engine"
	"github.com/cut-dicl/smacc-sub001/internal/policy"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

func runFlushCmd(cmd *cobra.Command, args []string) error {
	cfg := loadedConfig
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logrus.WithField("component", "cli")

	cold, err := coldstore.Open(cmd.Context(), cfg.ColdStorage, logger)
	if err != nil {
		return err
	}
	eng, err := engine.New(cmd.Context(), cfg, cold)
	if err != nil {
		return err
	}

	// the engine outlives the command context so uploads are not cut short
	started := time.Now()
	if err := eng.Start(context.Background()); err != nil {
		_ = eng.Close(context.Background())
		return err
	}
	stats := eng.Stats()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.WriteBack.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := eng.Close(ctx); err != nil {
		return fmt.Errorf("flush did not complete: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, t := range types.CacheTiers {
		s, ok := stats[t]
		if !ok {
			continue
		}
		fmt.Fprintf(out, "%-6s %d of %d bytes used\n", t, s.Size, s.Capacity)
	}
	fmt.Fprintf(out, "Flushed in %s\n", time.Since(started).Round(time.Millisecond))
	return nil
}

func runConfigCmd(cmd *cobra.Command, args []string) error {
	cfg := loadedConfig
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}
	out := cmd.OutOrStdout()
	if validateOnly {
		fmt.Fprintln(out, "Configuration is valid")
		return nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runPoliciesCmd(cmd *cobra.Command, args []string) error {
	names := policy.Names()
	kinds := make([]string, 0, len(names))
	for kind := range names {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	out := cmd.OutOrStdout()
	for _, kind := range kinds {
		fmt.Fprintf(out, "%s: %s\n", kind, strings.Join(names[kind], ", "))
	}
	return nil
}
