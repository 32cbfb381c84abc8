package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"aurora-vm-inspector/internal/agent"
	"aurora-vm-inspector/internal/agent/version"
	"aurora-vm-inspector/internal/config"
	"aurora-vm-inspector/internal/inspector"
	"aurora-vm-inspector/internal/model"
)

type rootFlags struct {
	configFile string
	backend    string
	fixture    string
	libvirtURI string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:          "aurora-vm-inspector",
		Short:        "Per-instance CPU, NIC and disk metrics from the local hypervisor",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), f)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.configFile, "config", "", "YAML config file (overrides INSPECTOR_CONFIG_FILE)")
	pf.StringVar(&f.backend, "backend", "", "management backend: libvirt or memory")
	pf.StringVar(&f.fixture, "fixture", "", "YAML fixture for the memory backend")
	pf.StringVar(&f.libvirtURI, "libvirt-uri", "", "libvirt connection URI")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the polling agent, HTTP API and stream sink",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runAgent(cmd.Context(), f)
			},
		},
		newListCmd(f),
		newInspectCmd(f),
		newVersionCmd(f),
	)
	return root
}

func newListCmd(f *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the instances known to the hypervisor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withInspector(cmd.Context(), f, func(ctx context.Context, in *inspector.Inspector) error {
				insts, err := inspector.Collect(in.Instances(ctx))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), insts)
				}
				return writeInstances(cmd.OutOrStdout(), insts)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

type inspection struct {
	Instance   string                  `json:"instance"`
	CPU        model.CPUStats          `json:"cpu"`
	Interfaces []model.InterfaceSample `json:"interfaces"`
	Disks      []model.DiskSample      `json:"disks"`
}

func newInspectCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect NAME",
		Short: "Print the CPU, NIC and disk counters of one instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return withInspector(cmd.Context(), f, func(ctx context.Context, in *inspector.Inspector) error {
				out := inspection{Instance: name}
				var err error
				if out.CPU, err = in.InspectCPU(ctx, name); err != nil {
					return err
				}
				if out.Interfaces, err = inspector.Collect(in.InspectVNICs(ctx, name)); err != nil {
					return err
				}
				if out.Disks, err = inspector.Collect(in.InspectDisks(ctx, name)); err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newVersionCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build and configuration identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			raw, err := version.Get(cfg).JSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return err
		},
	}
}

func loadConfig(f *rootFlags) (config.Config, error) {
	if f.configFile != "" {
		if err := os.Setenv("INSPECTOR_CONFIG_FILE", f.configFile); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if f.backend != "" {
		cfg.Backend = config.Backend(f.backend)
	}
	if f.fixture != "" {
		cfg.FixturePath = f.fixture
	}
	if f.libvirtURI != "" {
		cfg.LibvirtURI = f.libvirtURI
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runAgent(ctx context.Context, f *rootFlags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	logger := agent.BuildLogger(cfg)
	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Error("agent initialization failed", "error", err)
		return err
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("agent runtime failed", "error", err)
		return err
	}
	return nil
}

// withInspector opens the configured backend for a one-shot command.
func withInspector(ctx context.Context, f *rootFlags, fn func(context.Context, *inspector.Inspector) error) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	cfg.LogJSON = false
	cfg.LogFile = ""
	if cfg.LogLevel == "info" {
		cfg.LogLevel = "warn"
	}
	logger := agent.BuildLogger(cfg)

	b, err := agent.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	in, err := agent.NewInspector(ctx, cfg, b)
	if err != nil {
		return err
	}
	return fn(ctx, in)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeInstances(w io.Writer, insts []model.Instance) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tUUID")
	for _, i := range insts {
		fmt.Fprintf(tw, "%s\t%s\n", i.Name, i.UUID)
	}
	return tw.Flush()
}
