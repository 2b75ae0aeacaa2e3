// Package persistence keeps a journal of committed changes so an ensemble can
// rebuild its tree after a restart.
package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/mikekulinski/zkasync/pkg/wire"
	"github.com/mikekulinski/zkasync/pkg/zxid"
)

const entryPrefix = "log."

// ErrStale is returned when appending a change at or below the last zxid.
var ErrStale = errors.New("change already journaled")

// Journal stores one file per committed change, named after its zxid in
// fixed-width hex so directory order is commit order:
//
//	{dir}/log.{zxid as 16 hex digits}
type Journal struct {
	mu   sync.Mutex
	dir  string
	last zxid.ZXID
}

// Open returns a journal rooted at dir, which must already exist.
func Open(dir string) (*Journal, error) {
	dir = filepath.Clean(dir)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return &Journal{dir: dir}, nil
}

// Last is the highest zxid appended or read so far.
func (j *Journal) Last() zxid.ZXID {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

func (j *Journal) entry(z zxid.ZXID) string {
	return filepath.Join(j.dir, fmt.Sprintf("%s%016x", entryPrefix, uint64(z)))
}

// Append durably writes the change. The entry only becomes visible once it is
// complete.
func (j *Journal) Append(f *wire.Frame) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	z := zxid.ZXID(f.Zxid)
	if z <= j.last {
		return fmt.Errorf("%w: %s", ErrStale, z)
	}

	tmp, err := os.CreateTemp(j.dir, "pending-")
	if err != nil {
		return fmt.Errorf("error creating entry: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(wire.Marshal(f)); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing entry %s: %w", z, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("error syncing entry %s: %w", z, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), j.entry(z)); err != nil {
		return fmt.Errorf("error publishing entry %s: %w", z, err)
	}
	j.last = z
	return nil
}

// ReadAll returns every journaled change in zxid order.
func (j *Journal) ReadAll() ([]*wire.Frame, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}

	var frames []*wire.Frame
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, entryPrefix) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(name, entryPrefix), 16, 64)
		if err != nil {
			continue
		}
		b, err := os.ReadFile(filepath.Join(j.dir, name))
		if err != nil {
			return nil, err
		}
		f, err := wire.Unmarshal(b)
		if err != nil {
			return nil, fmt.Errorf("error decoding %s: %w", name, err)
		}
		frames = append(frames, f)
		if z := zxid.ZXID(n); z > j.last {
			j.last = z
		}
	}
	return frames, nil
}
