package gateway

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tala-robotics/sentinel/internal/checkpoint"
)

// ArchiveRecord is one line of the gateway's append-only checkpoint log —
// every checkpoint this gateway has accepted, independent of the ledger's
// own anchor bookkeeping, kept so an auditor can replay what a gateway saw
// without dialing the ledger at all.
type ArchiveRecord struct {
	Index        int64     `json:"index"`
	AppendedAt   time.Time `json:"appended_at"`
	RobotID      string    `json:"robot_id"`
	MissionID    string    `json:"mission_id"`
	Sequence     uint64    `json:"sequence"`
	CheckpointID string    `json:"checkpoint_hash_hex"`
	RawHex       string    `json:"raw_hex"`
}

// Archive is an append-only, hash-chain-free log of accepted checkpoints,
// one JSON line per record. Grounded on the teacher's audit.Store
// (internal/audit/store.go): open-or-create on construction, replay the
// file to recover lastIndex, append under a mutex with one os.OpenFile per
// write. The teacher's per-batch Merkle root over a window of event hashes
// has no equivalent here — that role is already filled by each
// checkpoint's own entries_root and the ledger's checkpoint_id, so
// re-rooting the archive itself would just be a second, weaker Merkle
// tree over the same data.
type Archive struct {
	mu        sync.Mutex
	path      string
	lastIndex int64
}

// NewArchive opens (or creates) the archive log at dataDir/checkpoints.log.
func NewArchive(dataDir string) (*Archive, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create data dir: %w", err)
	}
	a := &Archive{path: filepath.Join(dataDir, "checkpoints.log")}
	if err := a.loadState(); err != nil {
		return nil, err
	}
	return a, nil
}

// Append records an accepted checkpoint and returns its archive record.
func (a *Archive) Append(c checkpoint.Checkpoint) (ArchiveRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hash := c.Hash()
	rec := ArchiveRecord{
		Index:        a.lastIndex + 1,
		AppendedAt:   time.Now().UTC(),
		RobotID:      c.RobotID,
		MissionID:    c.MissionID,
		Sequence:     c.Sequence,
		CheckpointID: hex.EncodeToString(hash[:]),
		RawHex:       hex.EncodeToString(c.ToBytes()),
	}
	if err := appendJSONLine(a.path, rec); err != nil {
		return ArchiveRecord{}, err
	}
	a.lastIndex = rec.Index
	return rec, nil
}

// List returns the most recent records, oldest first, capped at limit.
func (a *Archive) List(limit int) ([]ArchiveRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	all, err := a.readAll()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(all) {
		return all, nil
	}
	return all[len(all)-limit:], nil
}

func (a *Archive) loadState() error {
	all, err := a.readAll()
	if err != nil {
		return err
	}
	if len(all) > 0 {
		a.lastIndex = all[len(all)-1].Index
	}
	return nil
}

func (a *Archive) readAll() ([]ArchiveRecord, error) {
	file, err := os.OpenFile(a.path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("archive: open log: %w", err)
	}
	defer file.Close()

	var records []ArchiveRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 5*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec ArchiveRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("archive: decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

func appendJSONLine(path string, v interface{}) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
