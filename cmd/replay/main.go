package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"worldsync.dev/internal/persistence/snapshot"
	"worldsync.dev/internal/sim/arena"
)

// Offline inspector: prints a snapshot header, restores it into a fresh
// arena, then walks the edit logs and tallies the edits per entity.
func main() {
	var (
		snapPath = flag.String("snapshot", "", "path to .snap.zst")
		editsDir = flag.String("edits", "", "dir containing edits.*.jsonl.zst (optional)")
		fromAt   = flag.Uint64("from", 0, "count edits stamped at or after this µs timestamp")
		toAt     = flag.Uint64("to", 0, "stop at this µs timestamp (inclusive, optional)")
		top      = flag.Int("top", 10, "how many entities to list")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("snapshot v%d taken_at=%d wire=%d entities=%d records=%dB\n",
		snap.Header.Version, snap.Header.TakenAt, snap.ProtocolVersion,
		snap.Header.Entities, len(snap.Records))

	a := arena.New(arena.Config{})
	if n, err := snapshot.Restore(a, snap); err != nil {
		fmt.Fprintln(os.Stderr, "restore:", err)
		os.Exit(1)
	} else if n != snap.Header.Entities {
		fmt.Fprintf(os.Stderr, "restore count mismatch: header=%d restored=%d\n", snap.Header.Entities, n)
		os.Exit(1)
	}
	fmt.Printf("restore ok: %d entities\n", a.Len())

	if *editsDir == "" {
		return
	}

	files, err := listEditFiles(*editsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list edits:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no edit files found in", *editsDir)
		os.Exit(1)
	}

	counts := make(map[uuid.UUID]int)
	bytesPer := make(map[uuid.UUID]int)
	var total int
	for _, path := range files {
		n, err := tallyFile(path, *fromAt, *toAt, counts, bytesPer)
		if err != nil {
			fmt.Fprintln(os.Stderr, "tally:", err)
			os.Exit(1)
		}
		total += n
	}

	type row struct {
		id    uuid.UUID
		edits int
	}
	rows := make([]row, 0, len(counts))
	for id, n := range counts {
		rows = append(rows, row{id, n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].edits != rows[j].edits {
			return rows[i].edits > rows[j].edits
		}
		return rows[i].id.String() < rows[j].id.String()
	})
	if *top > 0 && len(rows) > *top {
		rows = rows[:*top]
	}

	fmt.Printf("edits total=%d entities=%d\n", total, len(counts))
	for _, r := range rows {
		fmt.Printf("  %s edits=%d bytes=%d\n", r.id, r.edits, bytesPer[r.id])
	}
}

func listEditFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "edits.") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func tallyFile(path string, fromAt, toAt uint64, counts, bytesPer map[uuid.UUID]int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return 0, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	n := 0
	for sc.Scan() {
		var entry arena.EditLogEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return n, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if entry.EditedAt < fromAt {
			continue
		}
		if toAt != 0 && entry.EditedAt > toAt {
			continue
		}
		counts[entry.EntityID]++
		bytesPer[entry.EntityID] += entry.Bytes
		n++
	}
	if err := sc.Err(); err != nil {
		return n, err
	}
	return n, nil
}
