// Package sigdb reports the state of the local ClamAV signature database.
package sigdb

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Status summarises whether the signature database is usable
type Status string

const (
	StatusOK       Status = "OK"
	StatusOutdated Status = "OUTDATED"
	StatusMissing  Status = "MISSING"
)

const (
	// DefaultDir is where freshclam and the offline updater install databases
	DefaultDir = "/var/lib/clamav"
	// DefaultMaxAge is how old the newest database may be before it is outdated
	DefaultMaxAge = 7 * 24 * time.Hour

	updateInfoFile = "update_info.txt"
	updateDateKey  = "Update Date:"
	minFiles       = 2
)

// databaseFiles are the signature containers clamscan loads
var databaseFiles = []string{
	"main.cvd", "main.cld",
	"daily.cvd", "daily.cld",
	"bytecode.cvd", "bytecode.cld",
}

// File describes one database file that is present
type File struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// String renders the file like "daily.cvd 61 MB (modified 3 days ago)"
func (f File) String() string {
	return f.Name + " " + humanize.Bytes(uint64(f.Size)) + " (modified " + humanize.Time(f.ModTime) + ")"
}

// Info is the result of a database check
type Info struct {
	Status     Status    `json:"status"`
	Dir        string    `json:"dir"`
	Files      []File    `json:"files"`
	LastUpdate string    `json:"last_update,omitempty"`
	Newest     time.Time `json:"newest,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Age returns how long ago the newest database file was written
func (i Info) Age() string {
	if i.Newest.IsZero() {
		return "never"
	}
	return humanize.Time(i.Newest)
}

// Checker inspects a database directory
type Checker struct {
	Dir    string
	MaxAge time.Duration
	Now    func() time.Time
}

// NewChecker returns a checker for dir. Zero values take the defaults.
func NewChecker(dir string, maxAge time.Duration) *Checker {
	if dir == "" {
		dir = DefaultDir
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Checker{Dir: dir, MaxAge: maxAge, Now: time.Now}
}

// Check reads the directory. Unreadable files are treated as absent.
func (c *Checker) Check() Info {
	now := c.Now()
	info := Info{Status: StatusMissing, Dir: c.Dir, CheckedAt: now}

	for _, name := range databaseFiles {
		st, err := os.Stat(filepath.Join(c.Dir, name))
		if err != nil || !st.Mode().IsRegular() {
			continue
		}
		info.Files = append(info.Files, File{Name: name, Size: st.Size(), ModTime: st.ModTime()})
		if st.ModTime().After(info.Newest) {
			info.Newest = st.ModTime()
		}
	}

	info.LastUpdate = readUpdateDate(filepath.Join(c.Dir, updateInfoFile))

	if len(info.Files) >= minFiles {
		if now.Sub(info.Newest) < c.MaxAge {
			info.Status = StatusOK
		} else {
			info.Status = StatusOutdated
		}
	}

	if info.LastUpdate == "" && !info.Newest.IsZero() {
		info.LastUpdate = info.Newest.Format(time.DateTime)
	}
	return info
}

// Status is a shorthand for Check().Status
func (c *Checker) Status() Status {
	return c.Check().Status
}

func readUpdateDate(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if _, after, ok := strings.Cut(scanner.Text(), updateDateKey); ok {
			return strings.TrimSpace(after)
		}
	}
	return ""
}
