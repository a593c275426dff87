// Package disk enumerates the block devices that can be offered for scanning.
package disk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/lyallcooper/diskscan/internal/system"
	"github.com/lyallcooper/diskscan/internal/types"
)

const unknownModel = "Unknown"

var (
	nvmeBase   = regexp.MustCompile(`^(nvme\d+n\d+)`)
	mmcBase    = regexp.MustCompile(`^(mmcblk\d+)`)
	plainBase  = regexp.MustCompile(`^([a-zA-Z]+[a-zA-Z])`)
	devPattern = regexp.MustCompile(`/dev/([a-zA-Z]+\d*[a-zA-Z]*\d*)`)

	// rootPlaceholders appear as the root device on live and container systems
	rootPlaceholders = map[string]bool{"rootfs": true, "overlay": true, "aufs": true, "/dev/root": true}
	liveMountHints   = []string{"/run/live", "/lib/live", "/live/", "/cdrom"}
)

// Lister discovers disks with lsblk, udevadm and sysfs
type Lister struct {
	run        system.Runner
	log        *slog.Logger
	sysRoot    string
	mountsPath string
	timeout    time.Duration
}

// NewLister creates a lister that reads the live system
func NewLister(log *slog.Logger, run system.Runner) *Lister {
	if log == nil {
		log = slog.Default()
	}
	return &Lister{
		run:        run,
		log:        log.With("component", "disk"),
		sysRoot:    "/sys",
		mountsPath: "/proc/mounts",
		timeout:    10 * time.Second,
	}
}

// lsblkOutput is the shape of `lsblk -J`
type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name  string  `json:"name"`
	Size  flexInt `json:"size"`
	Type  string  `json:"type"`
	Model *string `json:"model"`
}

// flexInt accepts both numbers and numeric strings; lsblk changed the JSON
// type of SIZE between util-linux releases.
type flexInt uint64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size %s: %w", b, err)
	}
	*f = flexInt(n)
	return nil
}

// ListDisks returns whole disks with serial, media type and system flags.
// Per-device lookups that fail degrade to placeholders.
func (l *Lister) ListDisks(ctx context.Context) ([]types.DiskTarget, error) {
	qctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	out, err := l.run.Output(qctx, "lsblk", "-J", "-b", "-d", "-o", "NAME,SIZE,TYPE,MODEL")
	if err != nil {
		return nil, fmt.Errorf("failed to list block devices: %w", err)
	}
	disks, err := parseLsblk(out)
	if err != nil {
		return nil, err
	}

	active := l.ActiveSystemDisks(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range disks {
		d := &disks[i]
		name := strings.TrimPrefix(d.Device, "/dev/")
		d.System = active[BaseDevice(name)]
		g.Go(func() error {
			d.Serial = l.Serial(gctx, name)
			d.SSD = l.IsSolidState(name)
			return nil
		})
	}
	_ = g.Wait()

	return disks, nil
}

func parseLsblk(out []byte) ([]types.DiskTarget, error) {
	var parsed lsblkOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse lsblk output: %w", err)
	}

	var disks []types.DiskTarget
	for _, bd := range parsed.BlockDevices {
		if bd.Type != "disk" || bd.Name == "" {
			continue
		}
		model := unknownModel
		if bd.Model != nil && strings.TrimSpace(*bd.Model) != "" {
			model = strings.TrimSpace(*bd.Model)
		}
		disks = append(disks, types.DiskTarget{
			Device:    "/dev/" + bd.Name,
			Size:      humanize.IBytes(uint64(bd.Size)),
			SizeBytes: uint64(bd.Size),
			Model:     model,
		})
	}
	return disks, nil
}

// BaseDevice strips the partition suffix: nvme0n1p1 → nvme0n1, sda1 → sda
func BaseDevice(name string) string {
	name = strings.TrimPrefix(name, "/dev/")
	for _, re := range []*regexp.Regexp{nvmeBase, mmcBase, plainBase} {
		if m := re.FindStringSubmatch(name); m != nil {
			return m[1]
		}
	}
	return name
}

// ActiveSystemDisks returns the base names of disks backing the running
// system, including live boot media.
func (l *Lister) ActiveSystemDisks(ctx context.Context) map[string]bool {
	active := make(map[string]bool)

	data, err := os.ReadFile(l.mountsPath)
	if err != nil {
		l.log.Warn("failed to read mount table", "path", l.mountsPath, "error", err)
		return active
	}
	entries := parseMounts(data)

	root := ""
	for _, e := range entries {
		if e.mountPoint == "/" {
			root = e.device
		}
	}

	switch {
	case root == "" || rootPlaceholders[root]:
		// live media is handled below
	case strings.HasPrefix(root, "/dev/mapper/") || strings.HasPrefix(root, "/dev/dm-"):
		for _, parent := range l.parents(ctx, root) {
			active[BaseDevice(parent)] = true
		}
	default:
		if m := devPattern.FindStringSubmatch(root); m != nil {
			active[BaseDevice(m[1])] = true
		}
	}

	for _, e := range entries {
		if !isLiveMount(e.mountPoint) {
			continue
		}
		if m := devPattern.FindStringSubmatch(e.device); m != nil {
			active[BaseDevice(m[1])] = true
		}
	}
	return active
}

// parents resolves a device-mapper node to the disks beneath it
func (l *Lister) parents(ctx context.Context, device string) []string {
	qctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	out, err := l.run.Output(qctx, "lsblk", "-no", "PKNAME", device)
	if err != nil {
		l.log.Warn("failed to resolve parent devices", "device", device, "error", err)
		return nil
	}
	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names
}

type mountEntry struct {
	device     string
	mountPoint string
}

func parseMounts(data []byte) []mountEntry {
	var entries []mountEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		entries = append(entries, mountEntry{device: fields[0], mountPoint: fields[1]})
	}
	return entries
}

func isLiveMount(mountPoint string) bool {
	for _, hint := range liveMountHints {
		if strings.Contains(mountPoint, hint) {
			return true
		}
	}
	return false
}

// Serial returns a stable identifier for the disk: its WWN, serial number,
// model, or UNKNOWN_<name> in that order of preference.
func (l *Lister) Serial(ctx context.Context, name string) string {
	qctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	out, err := l.run.Output(qctx, "udevadm", "info", "--query=property", "--name=/dev/"+name)
	if err != nil {
		l.log.Debug("udevadm query failed", "device", name, "error", err)
		return "UNKNOWN_" + name
	}

	props := make(map[string]string)
	for _, line := range strings.Split(string(out), "\n") {
		if k, v, ok := strings.Cut(strings.TrimSpace(line), "="); ok && v != "" {
			props[k] = strings.Fields(v)[0]
		}
	}

	switch {
	case props["ID_WWN"] != "":
		return props["ID_WWN"]
	case props["ID_SERIAL_SHORT"] != "":
		return props["ID_SERIAL_SHORT"]
	case props["ID_MODEL"] != "":
		return props["ID_MODEL"] + "_" + name
	}
	return "UNKNOWN_" + name
}

// IsSolidState reports whether the kernel marks the disk non-rotational
func (l *Lister) IsSolidState(name string) bool {
	data, err := os.ReadFile(filepath.Join(l.sysRoot, "block", name, "queue", "rotational"))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "0"
}

// SystemDiskNames returns the sorted names from an ActiveSystemDisks result
func SystemDiskNames(active map[string]bool) []string {
	names := make([]string, 0, len(active))
	for name := range active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
