package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"

	flags "github.com/jessevdk/go-flags"

	"github.com/lyallcooper/diskscan/internal/app"
)

// Version info - injected at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

type (
	// appOptioner decorates a command that builds the scan engine
	appOptioner interface {
		setAppOptions(app.Options)
	}

	appCmd struct {
		opts app.Options
	}

	outputter interface {
		setOutput(io.Writer)
	}

	outputCmd struct {
		out io.Writer
	}

	jsonOutputter interface {
		enableJSONOutput(bool)
		jsonOutputEnabled() bool
	}

	jsonOutputCmd struct {
		shouldEmitJSON bool
	}
)

func (cmd *appCmd) setAppOptions(opts app.Options) {
	cmd.opts = opts
}

func (cmd *outputCmd) setOutput(w io.Writer) {
	cmd.out = w
}

func (cmd *jsonOutputCmd) enableJSONOutput(emit bool) {
	cmd.shouldEmitJSON = emit
}

func (cmd *jsonOutputCmd) jsonOutputEnabled() bool {
	return cmd.shouldEmitJSON
}

func outputJSON(out io.Writer, in any) error {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return err
	}
	_, err = out.Write(append(data, '\n'))
	return err
}

type cliOptions struct {
	ConfigPath string      `short:"c" long:"config" env:"DISKSCAN_CONFIG" description:"Path to a YAML configuration file"`
	Clamscan   string      `long:"clamscan" description:"Path to the clamscan binary"`
	Debug      bool        `short:"d" long:"debug" description:"Enable debug logging"`
	JSON       bool        `short:"j" long:"json" description:"Emit JSON output"`
	Serve      serveCmd    `command:"serve" description:"Run the web interface"`
	Scan       scanCmd     `command:"scan" description:"Scan the live system or a disk and wait for the result"`
	Disks      disksCmd    `command:"disks" alias:"ls" description:"List disks available for scanning"`
	DBStatus   dbStatusCmd `command:"db-status" alias:"db" description:"Show the signature database status"`
	Version    versionCmd  `command:"version" description:"Print diskscan version"`
}

type versionCmd struct {
	outputCmd
}

func (cmd *versionCmd) Execute(_ []string) error {
	fmt.Fprintf(cmd.out, "diskscan version %s (%s)\n", version, commit)
	return nil
}

// exitError carries a process exit code out of a command
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func parseOpts(args []string, opts *cliOptions, out io.Writer) error {
	p := flags.NewParser(opts, flags.Default)
	p.Options ^= flags.PrintErrors // Don't allow the library to print errors
	p.CommandHandler = func(cmd flags.Commander, args []string) error {
		if cmd == nil {
			return nil
		}

		if o, ok := cmd.(outputter); ok {
			o.setOutput(out)
		}

		if jsonCmd, ok := cmd.(jsonOutputter); ok {
			jsonCmd.enableJSONOutput(opts.JSON)
		}

		if appCmd, ok := cmd.(appOptioner); ok {
			appOpts := app.Options{
				ConfigPath:     opts.ConfigPath,
				ClamscanBinary: opts.Clamscan,
				Version:        version,
				Commit:         commit,
			}
			if opts.Debug {
				appOpts.LogLevel = "debug"
			}
			appCmd.setAppOptions(appOpts)
		}

		return cmd.Execute(args)
	}

	_, err := p.ParseArgs(args)
	return err
}

func exitWithError(err error) {
	if ee, ok := err.(*exitError); ok {
		os.Exit(ee.code)
	}
	if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
		fmt.Fprintln(os.Stdout, fe.Message)
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", path.Base(os.Args[0]), err)
	os.Exit(1)
}

func main() {
	var opts cliOptions
	if err := parseOpts(os.Args[1:], &opts, os.Stdout); err != nil {
		exitWithError(err)
	}
}
