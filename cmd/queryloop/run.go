package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/dps_queryloop/src/contract"
	"github.com/danmuck/dps_queryloop/src/host"
	"github.com/danmuck/dps_queryloop/src/vmtypes"
	logs "github.com/danmuck/smplog"
	"github.com/spf13/cobra"
)

var nopMsg = []byte(`{"nop":{}}`)

var errUnboundedSuccess = errors.New("host returned success for an unbounded query chain")

type runOptions struct {
	configPath string
	maxStack   uint32
	gasLimit   uint64
	timeout    time.Duration
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Probe an in-process host and report how it stopped the chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadHostConfig(opts.configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("max-stack") {
				cfg.MaxQueryStackSize = opts.maxStack
			}
			if flags.Changed("gas") {
				cfg.QueryGasLimit = opts.gasLimit
			}
			if flags.Changed("timeout") {
				cfg.QueryTimeout = host.Duration{Duration: opts.timeout}
			}
			return runLocal(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "host config TOML file")
	cmd.Flags().Uint32Var(&opts.maxStack, "max-stack", host.DefaultMaxQueryStackSize, "max query stack size, 0 disables")
	cmd.Flags().Uint64Var(&opts.gasLimit, "gas", host.DefaultQueryGasLimit, "gas budget per query chain, 0 disables")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", host.DefaultQueryTimeout, "deadline per query chain, 0 disables")
	return cmd
}

func loadHostConfig(path string) (host.Config, error) {
	if path == "" {
		return host.DefaultConfig(), nil
	}
	return host.LoadConfig(path)
}

// setupHost creates a host with the fixture stored and at least one instance.
func setupHost(ctx context.Context, cfg host.Config) (*host.Host, vmtypes.Address, error) {
	h, err := host.New(cfg)
	if err != nil {
		return nil, "", err
	}
	codeID, err := h.StoreCode(contract.CodeLabel, contract.QueryLoop{})
	if err != nil {
		return nil, "", err
	}
	if _, err := h.Reload(); err != nil {
		return nil, "", err
	}

	if existing := h.Contracts(); len(existing) > 0 {
		return h, existing[0].Address, nil
	}

	addr, _, err := h.Instantiate(ctx, codeID, "queryloop", contract.CodeLabel, nopMsg)
	if err != nil {
		return nil, "", err
	}
	return h, addr, nil
}

func runLocal(ctx context.Context, cfg host.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	h, addr, err := setupHost(ctx, cfg)
	if err != nil {
		return err
	}
	logs.Infof("probing %s (stack=%d gas=%d timeout=%s)", addr, cfg.MaxQueryStackSize, cfg.QueryGasLimit, cfg.QueryTimeout)

	start := time.Now()
	out, err := contract.SendExternalQueryInfiniteLoop(ctx, h, addr)
	elapsed := time.Since(start)

	stats := h.Stats()
	logs.Infof("resolved=%d rejected=%d deepest=%d elapsed=%s", stats.Resolved, stats.Rejected, stats.MaxStackSeen, elapsed)
	return checkOutcome(out, err)
}

// checkOutcome accepts only a guard error; anything else means the host is broken.
func checkOutcome(out []byte, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %q", errUnboundedSuccess, out)
	}

	switch {
	case errors.Is(err, host.ErrExceedMaxQueryStackSize),
		errors.Is(err, host.ErrOutOfGas),
		errors.Is(err, host.ErrQueryTimeout):
		logs.Infof("chain stopped: %v (code %d)", err, host.Code(err))
		return nil
	default:
		return fmt.Errorf("chain failed without a guard error: %w", err)
	}
}
