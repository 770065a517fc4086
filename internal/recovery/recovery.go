// Package recovery restores the writer's state from what a previous run left
// in the output directory.
package recovery

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"Go2NetLogger/internal/batch"
	"Go2NetLogger/internal/model"
	"Go2NetLogger/internal/pending"
	"Go2NetLogger/internal/pkg/fsutil"
)

// Result summarises one recovery run.
type Result struct {
	NextIndex     int
	Restored      int
	FromPartial   int
	FromSideStore int
	Duplicates    int
	Complete      []int
	Reclaimed     []int
	Corrupt       []string
	TempRemoved   int
}

type scanned struct {
	batch.FileInfo
	rows    int64
	corrupt bool
}

// Recover must run once before ingestion starts. It removes unfinished temp
// files, classifies every batch file as complete or partial by its footer row
// count, folds partial files and the side-store back into buf, persists the
// merged state and then deletes the reclaimed partial files.
//
// Partial-file records come first (ascending index), then side-store records.
// That keeps arrival order, since a partial file always predates the
// side-store rows written after it.
func Recover(dir string, batchSize int, buf *pending.Buffer, fsync bool) (Result, error) {
	var res Result

	removed, err := removeTemps(dir)
	if err != nil {
		return res, err
	}
	res.TempRemoved = removed

	infos, err := batch.List(dir)
	if err != nil {
		return res, err
	}
	files := make([]scanned, 0, len(infos))
	maxComplete := -1
	for _, fi := range infos {
		s := scanned{FileInfo: fi}
		rows, err := batch.CountRows(fi.Path)
		if err != nil {
			log.Printf("Recovery: unreadable batch file %s: %v", filepath.Base(fi.Path), err)
			moved, err := quarantine(fi.Path)
			if err != nil {
				return res, err
			}
			log.Printf("Recovery: moved %s to %s", filepath.Base(fi.Path), filepath.Base(moved))
			res.Corrupt = append(res.Corrupt, filepath.Base(fi.Path))
			s.corrupt = true
		} else {
			s.rows = rows
			if rows >= int64(batchSize) {
				res.Complete = append(res.Complete, fi.Index)
				maxComplete = max(maxComplete, fi.Index)
			}
		}
		files = append(files, s)
	}

	hdr, side, err := buf.Restore()
	if err != nil {
		return res, err
	}

	// Batch files committed after the side-store was last rewritten still
	// have their rows at its front.
	if hdr != nil && len(side) > 0 {
		skip := 0
		for _, f := range files {
			if f.Index < hdr.NextIndex {
				continue
			}
			if f.corrupt {
				log.Printf("Recovery: %s was committed after the last side-store rewrite but is unreadable, keeping side-store rows", f.name())
				break
			}
			if isPartial(f, batchSize) && slices.Contains(hdr.Folded, f.Index) {
				continue
			}
			skip += int(f.rows)
		}
		skip = min(skip, len(side))
		if skip > 0 {
			log.Printf("Recovery: %d side-store records are already in batch files", skip)
		}
		res.Duplicates = skip
		side = side[skip:]
	}

	var (
		merged []model.EventRecord
		doomed []scanned
		folded []int
	)
	for _, f := range files {
		if f.corrupt || !isPartial(f, batchSize) {
			continue
		}
		doomed = append(doomed, f)
		folded = append(folded, f.Index)
		if hdr != nil && slices.Contains(hdr.Folded, f.Index) {
			log.Printf("Recovery: %s was already folded into the side-store", f.name())
			continue
		}
		recs, err := batch.ReadRecords(f.Path)
		if err != nil {
			return res, fmt.Errorf("failed to reclaim partial batch %s: %w", f.name(), err)
		}
		log.Printf("Recovery: reclaimed %d records from partial batch %s", len(recs), f.name())
		merged = append(merged, recs...)
		res.FromPartial += len(recs)
		res.Reclaimed = append(res.Reclaimed, f.Index)
	}
	merged = append(merged, side...)
	res.FromSideStore = len(side)
	res.Restored = len(merged)
	res.NextIndex = maxComplete + 1

	// Persist before deleting: a crash in between leaves the partial files
	// listed as folded, so they are dropped rather than read twice.
	if err := buf.Reset(merged, pending.Header{NextIndex: res.NextIndex, Folded: folded}); err != nil {
		return res, err
	}
	if len(doomed) > 0 {
		for _, f := range doomed {
			if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return res, fmt.Errorf("failed to remove partial batch %s: %w", f.name(), err)
			}
		}
		if fsync {
			if err := fsutil.SyncDir(dir); err != nil {
				return res, err
			}
		}
		if err := buf.Reset(merged, pending.Header{NextIndex: res.NextIndex}); err != nil {
			return res, err
		}
	}

	log.Printf("Recovery: complete, %d records restored (%d from partial files, %d from side-store), next index %d",
		res.Restored, res.FromPartial, res.FromSideStore, res.NextIndex)
	return res, nil
}

func isPartial(f scanned, batchSize int) bool {
	return f.rows < int64(batchSize)
}

func (f scanned) name() string { return filepath.Base(f.Path) }

func removeTemps(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+fsutil.TempSuffix))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		base := filepath.Base(m)
		if !strings.HasPrefix(base, "traffic_log_") && base != pending.FileName+fsutil.TempSuffix {
			continue
		}
		if err := os.Remove(m); err != nil {
			return removed, fmt.Errorf("failed to remove stray temp file %s: %w", base, err)
		}
		log.Printf("Recovery: removed unfinished file %s", base)
		removed++
	}
	return removed, nil
}

// quarantine moves an unreadable batch file aside. Its index can be reused,
// so an earlier quarantined file of the same name gets a numbered sibling
// instead of being replaced.
func quarantine(path string) (string, error) {
	target := path + batch.CorruptSuffix
	for n := 1; ; n++ {
		_, err := os.Lstat(target)
		if errors.Is(err, os.ErrNotExist) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to quarantine %s: %w", filepath.Base(path), err)
		}
		target = fmt.Sprintf("%s%s.%d", path, batch.CorruptSuffix, n)
	}
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("failed to quarantine %s: %w", filepath.Base(path), err)
	}
	return target, nil
}

// ResolveDir returns a writable output directory: primary when usable,
// otherwise fallback. The fallback is announced in the log.
func ResolveDir(primary, fallback string) (string, error) {
	err := fsutil.EnsureWritable(primary)
	if err == nil {
		return primary, nil
	}
	if fallback == "" || fallback == primary {
		return "", fmt.Errorf("output directory %s unavailable: %w", primary, err)
	}
	log.Printf("WARN: output directory %s unavailable (%v), falling back to %s", primary, err, fallback)
	if err := fsutil.EnsureWritable(fallback); err != nil {
		return "", fmt.Errorf("fallback directory %s unavailable: %w", fallback, err)
	}
	return fallback, nil
}
