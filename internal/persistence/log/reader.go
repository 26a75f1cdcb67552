package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"townlet.ai/internal/sim/town"
)

// EventFiles lists the hourly event logs under <dir>/events in chronological order.
func EventFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "events", "events-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadTicks decodes every entry in path and calls fn in file order. A false return stops
// the scan early.
func ReadTicks(path string, fn func(town.TickLogEntry) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var e town.TickLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return err
		}
		if !fn(e) {
			return nil
		}
	}
	return sc.Err()
}
