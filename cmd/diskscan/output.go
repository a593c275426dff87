package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/lyallcooper/diskscan/internal/sigdb"
	"github.com/lyallcooper/diskscan/internal/types"
)

const clearLine = "\r\033[K"

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// progressPrinter writes activity lines and, on a terminal, keeps a status
// line redrawn below them.
type progressPrinter struct {
	out   io.Writer
	live  bool
	quiet bool
	drawn bool
	now   func() time.Time
}

func newProgressPrinter(out io.Writer, live, quiet bool) *progressPrinter {
	return &progressPrinter{out: out, live: live, quiet: quiet, now: time.Now}
}

func (p *progressPrinter) update(progress *types.ScanProgress) {
	if p.quiet || progress == nil {
		return
	}
	if progress.Activity != nil {
		p.clear()
		fmt.Fprintln(p.out, formatActivity(*progress.Activity))
	}
	if p.live && !progress.State.IsTerminal() {
		p.clear()
		fmt.Fprint(p.out, statusLine(progress, p.now()))
		p.drawn = true
	}
}

func (p *progressPrinter) note(msg string) {
	if p.quiet {
		return
	}
	p.clear()
	fmt.Fprintln(p.out, msg)
}

func (p *progressPrinter) finish() {
	p.clear()
}

func (p *progressPrinter) clear() {
	if p.drawn {
		fmt.Fprint(p.out, clearLine)
		p.drawn = false
	}
}

func formatActivity(e types.ActivityEntry) string {
	if e.Level == "info" {
		return e.Time.Format("15:04:05") + " " + e.Message
	}
	return e.Time.Format("15:04:05") + " [" + e.Level + "] " + e.Message
}

func statusLine(p *types.ScanProgress, now time.Time) string {
	return fmt.Sprintf("%-10s %s files  %s threats  %s",
		p.State,
		humanize.Comma(p.Result.FilesScanned),
		humanize.Comma(p.Result.ThreatsFound),
		formatElapsed(now.Sub(p.StartedAt)),
	)
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Second).String()
}

func targetName(p *types.ScanProgress) string {
	if p.Mode == types.ScanModeQuick {
		return "live system (" + p.Device + " selected)"
	}
	return p.Device
}

func printSummary(out io.Writer, p *types.ScanProgress) {
	fmt.Fprintf(out, "Scan %s\n", p.State)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  Target:\t%s\n", targetName(p))
	fmt.Fprintf(w, "  Mode:\t%s\n", p.Mode)
	if v := p.Engine["Engine version"]; v != "" {
		fmt.Fprintf(w, "  Engine:\t%s\n", v)
	}
	fmt.Fprintf(w, "  Files scanned:\t%s\n", humanize.Comma(p.Result.FilesScanned))
	fmt.Fprintf(w, "  Threats found:\t%s\n", humanize.Comma(p.Result.ThreatsFound))
	if p.EndedAt != nil {
		fmt.Fprintf(w, "  Duration:\t%s\n", formatElapsed(p.EndedAt.Sub(p.StartedAt)))
	}
	if p.Error != "" {
		fmt.Fprintf(w, "  Error:\t%s\n", p.Error)
	}
	w.Flush() //nolint:errcheck

	for _, threat := range p.Result.Threats {
		fmt.Fprintf(out, "    %s\n", threat)
	}
}

func printDisks(out io.Writer, disks []types.DiskTarget) {
	if len(disks) == 0 {
		fmt.Fprintln(out, "No disks found")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tSIZE\tMEDIA\tMODEL\tSERIAL\t")
	for _, d := range disks {
		media := "HDD"
		if d.SSD {
			media = "SSD"
		}
		serial := d.Serial
		if serial == "" {
			serial = "-"
		}
		note := ""
		if d.System {
			note = "(system)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Device, d.Size, media, d.Model, serial, note)
	}
	w.Flush() //nolint:errcheck
}

func printDatabase(out io.Writer, info sigdb.Info) {
	fmt.Fprintf(out, "Signature database: %s\n", info.Status)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  Directory:\t%s\n", info.Dir)
	if info.LastUpdate != "" {
		fmt.Fprintf(w, "  Last update:\t%s\n", info.LastUpdate)
	}
	fmt.Fprintf(w, "  Newest file:\t%s\n", info.Age())
	w.Flush() //nolint:errcheck

	if len(info.Files) == 0 {
		fmt.Fprintln(out, "  No database files found")
		return
	}
	names := make([]string, 0, len(info.Files))
	for _, f := range info.Files {
		names = append(names, "    "+f.String())
	}
	fmt.Fprintln(out, "  Files:")
	fmt.Fprintln(out, strings.Join(names, "\n"))
}
