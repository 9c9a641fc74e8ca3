package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/pulsectl/internal/dfu"
	"github.com/srg/pulsectl/internal/session"
	"github.com/srg/pulsectl/pkg/config"
)

// newManager creates the session manager commands run on. Tests replace it.
var newManager = func(ctx context.Context, opts session.Options, logger *logrus.Logger) *session.Manager {
	return session.NewManager(ctx, opts, logger)
}

// commandEnv is what every device command needs before it starts.
type commandEnv struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// setupCommand loads the config and configures the logger. Usage is
// silenced afterwards since arguments have been validated.
func setupCommand(cmd *cobra.Command) (*commandEnv, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return nil, err
	}

	cmd.SilenceUsage = true
	return &commandEnv{cfg: cfg, logger: logger}, nil
}

// sessionOptions maps the config onto session options.
func (e *commandEnv) sessionOptions() session.Options {
	opts := session.DefaultOptions()
	opts.ConnectTimeout = e.cfg.ConnectTimeout
	opts.DFU = dfu.Options{
		Timeout:       e.cfg.DFU.Timeout,
		InitPacketPRN: e.cfg.DFU.InitPacketPRN,
		FirmwarePRN:   e.cfg.DFU.FirmwarePRN,
		PacketSize:    e.cfg.DFU.PacketSize,
	}
	opts.BootloaderName = e.cfg.Bootloader.Name
	opts.BootloaderScanTimeout = e.cfg.Bootloader.ScanTimeout
	return opts
}

// signalContext returns a context cancelled on Ctrl+C.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(cmd.Context())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

// connectPulse runs fn against an authenticated Pulse session.
func connectPulse(cmd *cobra.Command, env *commandEnv, address string, fn func(ctx context.Context, ps *session.PulseSession) error) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	m := newManager(ctx, env.sessionOptions(), env.logger)
	defer m.Close()

	connectCtx, connectCancel := context.WithTimeout(ctx, env.cfg.ConnectTimeout)
	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting to "+address, "authenticating")
	progress.Start()
	ps, err := m.ConnectPulse(connectCtx, address)
	progress.Stop()
	connectCancel()
	if err != nil {
		return err
	}
	defer ps.Close()

	return fn(ctx, ps)
}
