package main

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/dps_queryloop/src/contract"
	"github.com/danmuck/dps_queryloop/src/host"
	"github.com/danmuck/dps_queryloop/src/transport"
	"github.com/danmuck/dps_queryloop/src/vmtypes"
	logs "github.com/danmuck/smplog"
	"github.com/spf13/cobra"
)

type probeOptions struct {
	remote   string
	contract string
	timeout  time.Duration
}

func newProbeCmd() *cobra.Command {
	opts := &probeOptions{}
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send the self-addressed probe to a remote host",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.contract == "" {
				return fmt.Errorf("--contract is required")
			}
			return probeRemote(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.remote, "remote", host.DefaultListenAddress, "address of a queryloop serve instance")
	cmd.Flags().StringVar(&opts.contract, "contract", "", "contract address to probe")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "client side deadline")
	return cmd
}

func probeRemote(ctx context.Context, opts *probeOptions) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	client, err := transport.Dial(ctx, opts.remote)
	if err != nil {
		return err
	}
	defer client.Close()

	logs.Infof("probing %s at %s", opts.contract, opts.remote)
	out, err := contract.SendExternalQueryInfiniteLoop(ctx, client, vmtypes.Address(opts.contract))
	return checkOutcome(out, err)
}
