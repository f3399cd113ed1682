/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Command umeshd runs a uMesh node: it loads (or bootstraps) a node
// identity, opens the configured radio, and drives the mesh Stack's Step
// loop until interrupted. Grounded on the mesh-networking CLI shape used
// by the pack's shadowmesh example (cobra + pflag for the command tree,
// zerolog for output).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/iqyx/umeshfw/pkg/mesh"
	"github.com/iqyx/umeshfw/pkg/nodeconfig"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "umeshd",
		Short: "uMesh firmware-protocol node daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/umeshd/node.yaml", "path to node config file")

	root.AddCommand(newRunCommand())
	root.AddCommand(newStatusCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "start the mesh stack and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return runNode(cmd.Context())
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print the local node's radio and mesh configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := nodeconfig.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("radio device: %s channel: %d tx power: %ddBm\n",
				cfg.Radio.Device, cfg.Radio.Channel, cfg.Radio.TxPowerDBm)
			fmt.Printf("max neighbours: %d max key sessions: %d tid rotation: %dms\n",
				cfg.Mesh.MaxNeighbours, cfg.Mesh.MaxKeySessions, cfg.Mesh.TIDRotationMS)
			return nil
		},
	}
}

func runNode(parent context.Context) error {
	cfg, err := nodeconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if created, err := cfg.EnsureIdentity(); err != nil {
		return fmt.Errorf("generate identity: %w", err)
	} else if created {
		if err := nodeconfig.Save(configPath, cfg); err != nil {
			return fmt.Errorf("save generated identity: %w", err)
		}
		log.Info().Msg("generated a new node identity")
	}

	identity, err := cfg.PrivateKey()
	if err != nil {
		return err
	}

	radio, err := openRadio(cfg.Radio)
	if err != nil {
		return fmt.Errorf("open radio %q: %w", cfg.Radio.Device, err)
	}

	stack, err := mesh.NewStack(mesh.Config{
		Radio:                radio,
		RNG:                  systemRNG{},
		Identity:             identity,
		MaxNeighbours:        cfg.Mesh.MaxNeighbours,
		MaxKeySessions:       cfg.Mesh.MaxKeySessions,
		TIDRotationMS:        cfg.Mesh.TIDRotationMS,
		AdvertisedTxPowerDBm: cfg.Radio.TxPowerDBm,
	})
	if err != nil {
		return fmt.Errorf("construct stack: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Uint32("tid", uint32(stack.LocalTID())).Msg("node started")

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("node shutting down")
			return nil
		case now := <-ticker.C:
			if err := stack.Step(ctx, now); err != nil {
				log.Error().Err(err).Msg("step failed")
			}
		}
	}
}
