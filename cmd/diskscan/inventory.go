package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/lyallcooper/diskscan/internal/sigdb"
)

type disksCmd struct {
	appCmd
	outputCmd
	jsonOutputCmd
}

func (cmd *disksCmd) Execute(_ []string) error {
	core, err := newCore(quietOptions(cmd.opts))
	if err != nil {
		return errors.Wrap(err, "failed to initialize")
	}
	defer core.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := core.Inventory.RefreshDisks(ctx); err != nil {
		return errors.Wrap(err, "failed to list disks")
	}

	disks := core.Inventory.Disks()
	if cmd.jsonOutputEnabled() {
		return outputJSON(cmd.out, disks)
	}
	printDisks(cmd.out, disks)
	return nil
}

type dbStatusCmd struct {
	appCmd
	outputCmd
	jsonOutputCmd
}

// Execute exits with status 1 when the database is not usable
func (cmd *dbStatusCmd) Execute(_ []string) error {
	core, err := newCore(quietOptions(cmd.opts))
	if err != nil {
		return errors.Wrap(err, "failed to initialize")
	}
	defer core.Close()

	info := core.Inventory.RefreshDatabase()
	if cmd.jsonOutputEnabled() {
		if err := outputJSON(cmd.out, info); err != nil {
			return err
		}
	} else {
		printDatabase(cmd.out, info)
	}

	if info.Status != sigdb.StatusOK {
		return &exitError{code: 1}
	}
	return nil
}
