package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/lyallcooper/diskscan/internal/app"
	"github.com/lyallcooper/diskscan/internal/services"
	"github.com/lyallcooper/diskscan/internal/types"
)

// swapped in tests
var (
	geteuid      = os.Geteuid
	newCore      = app.NewCore
	createServer = app.CreateServer
)

// sessionRunner is the part of the scanner the scan command drives
type sessionRunner interface {
	StartScan(ctx context.Context, disk types.DiskTarget, cfg types.ScanConfiguration) (*types.ScanProgress, error)
	StopScan() bool
	Subscribe(sessionID string) chan *types.ScanProgress
	Unsubscribe(sessionID string, ch chan *types.ScanProgress)
	Wait(ctx context.Context) (*types.ScanProgress, error)
}

type scanCmd struct {
	appCmd
	outputCmd
	jsonOutputCmd
	Device string `short:"D" long:"device" description:"Device to scan, e.g. /dev/sdb; quick scans still cover the live system"`
	Mode   string `short:"m" long:"mode" choice:"quick" choice:"deep" default:"quick" description:"Scan mode"`
	Remove bool   `long:"remove" description:"Remove infected files"`
	Force  bool   `short:"f" long:"force" description:"Scan even if the signature database is outdated or missing"`
}

func (cmd *scanCmd) Execute(_ []string) error {
	if geteuid() != 0 {
		return errors.New("scanning requires root privileges")
	}
	mode := types.ParseScanMode(cmd.Mode)
	if cmd.Device == "" {
		return errors.New("--device is required")
	}

	core, err := newCore(quietOptions(cmd.opts))
	if err != nil {
		return errors.Wrap(err, "failed to initialize")
	}
	defer core.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := core.CheckEngine(ctx); err != nil {
		return errors.Wrap(err, "clamscan is not available")
	}

	if err := core.Inventory.RefreshDisks(ctx); err != nil {
		return errors.Wrap(err, "failed to list disks")
	}
	target, ok := core.Inventory.Disk(normalizeDevice(cmd.Device))
	if !ok {
		return errors.Errorf("unknown device %s", cmd.Device)
	}
	if target.System && !cmd.jsonOutputEnabled() {
		fmt.Fprintf(cmd.out, "warning: %s backs the running system\n", target.Device)
	}

	return cmd.run(ctx, stop, core.Scanner, target, mode)
}

// run starts a session and follows it to the end. Cancelling ctx requests a
// stop; stopSignals restores default signal handling so a second interrupt
// kills the process.
func (cmd *scanCmd) run(ctx context.Context, stopSignals func(), scanner sessionRunner, target types.DiskTarget, mode types.ScanMode) error {
	progress, err := scanner.StartScan(ctx, target, types.ScanConfiguration{
		Mode:               mode,
		RemoveInfected:     cmd.Remove,
		AcceptDatabaseRisk: cmd.Force,
	})
	switch {
	case errors.Is(err, services.ErrDatabaseNotReady):
		return errors.Wrap(err, "refusing to scan; update the signatures or re-run with --force")
	case err != nil:
		return errors.Wrap(err, "failed to start scan")
	}

	updates := scanner.Subscribe(progress.SessionID)
	defer scanner.Unsubscribe(progress.SessionID, updates)

	done := make(chan *types.ScanProgress, 1)
	go func() {
		final, _ := scanner.Wait(context.Background())
		done <- final
	}()

	printer := newProgressPrinter(cmd.out, !cmd.jsonOutputEnabled() && isTerminal(cmd.out), cmd.jsonOutputEnabled())
	printer.update(progress)

	stopping := ctx.Done()
	var final *types.ScanProgress
	for final == nil {
		select {
		case p, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			printer.update(p)
		case <-stopping:
			stopping = nil
			if stopSignals != nil {
				stopSignals()
			}
			printer.note("Stopping scan...")
			scanner.StopScan()
		case final = <-done:
			if final == nil {
				return errors.New("scan session disappeared")
			}
		}
	}
	drainUpdates(updates, printer)
	printer.finish()

	if cmd.jsonOutputEnabled() {
		if err := outputJSON(cmd.out, final); err != nil {
			return err
		}
	} else {
		printSummary(cmd.out, final)
	}

	if code := exitCode(final); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// drainUpdates prints updates that were buffered before the session ended
func drainUpdates(updates <-chan *types.ScanProgress, printer *progressPrinter) {
	for updates != nil {
		select {
		case p, ok := <-updates:
			if !ok {
				return
			}
			printer.update(p)
		default:
			return
		}
	}
}

// quietOptions sends logs to stderr and keeps them at warn unless debug
// was asked for, so they don't interleave with command output.
func quietOptions(opts app.Options) app.Options {
	opts.LogOutput = os.Stderr
	if opts.LogLevel == "" {
		opts.LogLevel = "warn"
	}
	return opts
}

func normalizeDevice(device string) string {
	device = strings.TrimSpace(device)
	if device == "" || strings.HasPrefix(device, "/") {
		return device
	}
	return "/dev/" + device
}

// exitCode maps a finished session to the process exit status. Like
// clamscan, 1 means threats were found.
func exitCode(p *types.ScanProgress) int {
	switch p.State {
	case types.StateCompleted:
		if p.Result.ThreatsFound > 0 {
			return 1
		}
		return 0
	case types.StateStopped:
		return 130
	default:
		return 2
	}
}
