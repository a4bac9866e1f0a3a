package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tutu-network/swim/internal/swim"
	"github.com/tutu-network/swim/internal/transportudp"
)

var (
	flagConfig    string
	flagID        string
	flagBindAddr  string
	flagDebugAddr string
	flagSeeds     []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a SWIM node and block until terminated",
	RunE:  runNode,
}

func init() {
	runCmd.Flags().StringVar(&flagConfig, "config", "", "path to a TOML config file")
	runCmd.Flags().StringVar(&flagID, "id", "", "stable member id (random uuid if omitted)")
	runCmd.Flags().StringVar(&flagBindAddr, "bind-addr", "", "UDP bind address, overrides config")
	runCmd.Flags().StringVar(&flagDebugAddr, "debug-addr", "", "debug HTTP bind address, overrides config")
	runCmd.Flags().StringSliceVar(&flagSeeds, "seeds", nil, "comma-separated seed addresses, overrides config")
}

func runNode(cmd *cobra.Command, args []string) error {
	fc, err := loadConfig(flagConfig)
	if err != nil {
		return err
	}
	if flagBindAddr != "" {
		fc.Node.BindAddr = flagBindAddr
	}
	if flagDebugAddr != "" {
		fc.Node.DebugAddr = flagDebugAddr
	}
	if len(flagSeeds) > 0 {
		fc.Node.Seeds = flagSeeds
	}

	id := flagID
	if id == "" {
		id = fc.Node.ID
	}
	if id == "" {
		id = uuid.NewString()
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("swimnode: build logger: %w", err)
	}
	defer logger.Sync()

	transport, err := transportudp.Listen(fc.Node.BindAddr, logger.Named("transport"), 256)
	if err != nil {
		return fmt.Errorf("swimnode: %w", err)
	}
	defer transport.Close()

	local := swim.MemberID{ID: id, Address: transport.LocalAddress()}
	cfg := fc.protocolConfig()
	engine := swim.New(local, cfg, transport, logger.Named("engine"))

	go logEvents(logger, engine.Events())

	if err := engine.Start(); err != nil {
		return fmt.Errorf("swimnode: start: %w", err)
	}

	if len(fc.Node.Seeds) > 0 {
		seeds := make([]swim.MemberID, 0, len(fc.Node.Seeds))
		for _, addr := range fc.Node.Seeds {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			seeds = append(seeds, swim.MemberID{ID: addr, Address: addr})
		}
		if err := engine.Join(seeds); err != nil {
			logger.Warn("join failed", zap.Error(err))
		}
	}

	debugSrv := newDebugServer(fc.Node.DebugAddr, engine)
	go func() {
		if err := debugSrv.ListenAndServe(); err != nil {
			logger.Debug("debug server stopped", zap.Error(err))
		}
	}()

	logger.Info("swimnode running",
		zap.String("id", id),
		zap.String("bind_addr", transport.LocalAddress()),
		zap.String("debug_addr", fc.Node.DebugAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	debugSrv.Close()
	return engine.Leave()
}

func logEvents(logger *zap.Logger, events <-chan swim.Event) {
	for ev := range events {
		switch ev.Kind {
		case swim.EventJoined, swim.EventSuspected, swim.EventFailed, swim.EventRecovered:
			logger.Info(ev.Kind.String(), zap.String("member", ev.Member.ID.String()), zap.Uint64("incarnation", ev.Member.Incarnation))
		case swim.EventIncarnationIncremented:
			logger.Info(ev.Kind.String(), zap.Uint64("incarnation", ev.Incarnation))
		case swim.EventLocalLeft:
			logger.Info(ev.Kind.String())
		case swim.EventError:
			logger.Warn(ev.Kind.String(), zap.Error(ev.Err))
		}
	}
}
