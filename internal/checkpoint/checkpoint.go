// Package checkpoint implements the on-disk snapshot and delta-log formats
// backing the epoch-based checkpoint/restore protocol.
// A snapshot holds one table's shards as of the epoch boundary; a delta
// log holds the updates a shard's owner received for epochs older than its
// own between snapshots, replayed on restore to catch the shard back up.
package checkpoint

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/tablekernel/piccolo/internal/accum"
	"github.com/tablekernel/piccolo/internal/wire"
)

func snapshotPath(dir string, tableID int, epoch int64) string {
	return filepath.Join(dir, fmt.Sprintf("checkpoint.table_%d.epoch_%d", tableID, epoch))
}

func deltaLogPath(dir string, tableID int, epoch int64) string {
	return filepath.Join(dir, fmt.Sprintf("deltas.table_%d.epoch_%d", tableID, epoch))
}

// snapshotFile is the gob-encoded body of a table's checkpoint file: the
// epoch it was cut at, the accumulator kind its table was declared with
// (checkpoint metadata only — restore uses the live table's own Info to
// merge, this just lets a reader identify the file without the process
// that wrote it), and every locally-owned shard's contents keyed by shard
// number.
type snapshotFile struct {
	Epoch     int64
	AccumKind accum.Kind
	Shards    map[int][]wire.KV
}

// WriteSnapshot writes tableID's per-shard contents at epoch to dir,
// creating dir if necessary.
func WriteSnapshot(dir string, tableID int, epoch int64, kind accum.Kind, shards map[int][]wire.KV) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating checkpoint dir %s", dir)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&snapshotFile{Epoch: epoch, AccumKind: kind, Shards: shards}); err != nil {
		return errors.Wrapf(err, "encoding checkpoint for table %d epoch %d", tableID, epoch)
	}
	path := snapshotPath(dir, tableID, epoch)
	tmp := path + ".tmp"
	if err := ioutil.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", tmp, path)
	}
	return nil
}

// ReadSnapshot loads a previously written snapshot for tableID at epoch,
// along with the accumulator kind it was written with.
func ReadSnapshot(dir string, tableID int, epoch int64) (accum.Kind, map[int][]wire.KV, error) {
	path := snapshotPath(dir, tableID, epoch)
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return accum.KindOpaque, nil, errors.Wrapf(err, "reading %s", path)
	}
	var sf snapshotFile
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&sf); err != nil {
		return accum.KindOpaque, nil, errors.Wrapf(err, "decoding %s", path)
	}
	return sf.AccumKind, sf.Shards, nil
}

// DeltaLog is an append-only record of PUT deltas that arrived for a table
// after its owner had already advanced past the delta's epoch, i.e. late
// writers racing an in-progress checkpoint.
// Replaying the log during restore folds those updates back in on top of
// the matching snapshot.
type DeltaLog struct {
	f       *os.File
	enc     *gob.Encoder
	dir     string
	tableID int
	epoch   int64
}

// OpenDeltaLog creates (or truncates) the delta log for tableID's current
// checkpoint epoch.
func OpenDeltaLog(dir string, tableID int, epoch int64) (*DeltaLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating checkpoint dir %s", dir)
	}
	path := deltaLogPath(dir, tableID, epoch)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening delta log %s", path)
	}
	return &DeltaLog{f: f, enc: gob.NewEncoder(f), dir: dir, tableID: tableID, epoch: epoch}, nil
}

// Append records one delta fragment that missed its epoch's snapshot.
func (d *DeltaLog) Append(req *wire.PutRequest) error {
	if err := d.enc.Encode(req); err != nil {
		return errors.Wrapf(err, "appending to delta log for table %d epoch %d", d.tableID, d.epoch)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (d *DeltaLog) Close() error {
	return d.f.Close()
}

// ReplayDeltaLog reads back every fragment appended to tableID's log at
// epoch, in write order, for restore to fold on top of the snapshot.
func ReplayDeltaLog(dir string, tableID int, epoch int64) ([]*wire.PutRequest, error) {
	path := deltaLogPath(dir, tableID, epoch)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening delta log %s", path)
	}
	defer f.Close()

	dec := gob.NewDecoder(f)
	var out []*wire.PutRequest
	for {
		var req wire.PutRequest
		if err := dec.Decode(&req); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrapf(err, "decoding delta log %s", path)
		}
		out = append(out, &req)
	}
	return out, nil
}
