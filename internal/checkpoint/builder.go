package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/tala-robotics/sentinel/internal/sentinelerr"
	"github.com/tala-robotics/sentinel/internal/xhash"
)

const (
	maxRobotIDLen         = 64
	maxMissionIDLen       = 128
	maxModelNameLen       = 128
	maxContainerDigestLen = 256
)

// CounterStore is the TEE-backed monotonic counter contract (spec.md §6):
// read the last committed counter for a robot, and durably commit a new
// value before the caller is allowed to release a signature built on top of
// it. Implementations must make read-check-set atomic under their own lock;
// Builder.BuildAndSign serializes its own counter bump-and-check through one call
// to Bump, which is the only method this package needs from the contract.
type CounterStore interface {
	// Bump atomically reads the stored counter for robotID, verifies that
	// next strictly exceeds it, durably commits next, and returns nil only
	// once that commit has completed. It must never return nil without
	// having committed — Builder relies on this to guarantee the
	// counter-durability-before-signature-release invariant (spec.md §9).
	Bump(robotID string, next uint64) error
}

// InMemoryCounterStore is a CounterStore with no durability guarantee,
// suitable for tests and for non-TEE development builds.
type InMemoryCounterStore struct {
	mu      sync.Mutex
	counter map[string]uint64
}

// NewInMemoryCounterStore returns an empty in-memory counter store.
func NewInMemoryCounterStore() *InMemoryCounterStore {
	return &InMemoryCounterStore{counter: make(map[string]uint64)}
}

func (s *InMemoryCounterStore) Bump(robotID string, next uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next <= s.counter[robotID] {
		return sentinelerr.New(sentinelerr.KindInvariantViolation,
			fmt.Sprintf("monotonic_counter %d does not exceed stored counter %d for robot %q", next, s.counter[robotID], robotID))
	}
	s.counter[robotID] = next
	return nil
}

// FileCounterStore is a CounterStore backed by one file per robot, fsynced
// on every commit. This is the durable implementation the builder must use
// when not running against real TEE secure storage; its fsync-before-return
// discipline is grounded on the teacher's append-only event log
// (mohamedamale11-sys-assurance-service/internal/audit/store.go), adapted
// from an append-only hash-chained log to a single-value durable counter.
type FileCounterStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileCounterStore creates (if needed) dir and returns a store rooted
// there.
func NewFileCounterStore(dir string) (*FileCounterStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, sentinelerr.Wrap(sentinelerr.KindInvariantViolation, "create counter store dir", err)
	}
	return &FileCounterStore{dir: dir}, nil
}

func (s *FileCounterStore) path(robotID string) string {
	return filepath.Join(s.dir, robotID+".counter")
}

func (s *FileCounterStore) read(robotID string) (uint64, error) {
	b, err := os.ReadFile(s.path(robotID))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (s *FileCounterStore) Bump(robotID string, next uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(robotID)
	if err != nil {
		return sentinelerr.Wrap(sentinelerr.KindInvariantViolation, "read counter store", err)
	}
	if next <= current {
		return sentinelerr.New(sentinelerr.KindInvariantViolation,
			fmt.Sprintf("monotonic_counter %d does not exceed stored counter %d for robot %q", next, current, robotID))
	}

	tmp := s.path(robotID) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return sentinelerr.Wrap(sentinelerr.KindInvariantViolation, "open counter tmp file", err)
	}
	if _, err := f.WriteString(strconv.FormatUint(next, 10)); err != nil {
		f.Close()
		return sentinelerr.Wrap(sentinelerr.KindInvariantViolation, "write counter tmp file", err)
	}
	// The fsync before rename, and the rename itself, are what make the
	// counter commit durable before Bump returns — a crash between here and
	// the caller revealing the signature must not be able to observe a
	// counter that was never actually committed.
	if err := f.Sync(); err != nil {
		f.Close()
		return sentinelerr.Wrap(sentinelerr.KindInvariantViolation, "fsync counter tmp file", err)
	}
	if err := f.Close(); err != nil {
		return sentinelerr.Wrap(sentinelerr.KindInvariantViolation, "close counter tmp file", err)
	}
	if err := os.Rename(tmp, s.path(robotID)); err != nil {
		return sentinelerr.Wrap(sentinelerr.KindInvariantViolation, "commit counter file", err)
	}
	return nil
}

// Builder assembles and signs a Checkpoint inside the TEE. It is not safe
// for concurrent use — spec.md §5 requires the builder's counter-increment
// and signing to be a single-threaded critical section, so a Builder value
// is owned by exactly one caller at a time.
type Builder struct {
	counters  CounterStore
	signer    xhash.Signer
	vendorTag string

	c Checkpoint
}

// NewBuilder returns a Builder with version fixed at 1 and trust_mode
// defaulted to Permissive; every other field must be set explicitly before
// Build.
func NewBuilder(counters CounterStore, signer xhash.Signer) *Builder {
	return &Builder{
		counters: counters,
		signer:   signer,
		c: Checkpoint{
			Version:   1,
			TrustMode: Permissive,
		},
	}
}

func (b *Builder) RobotID(id string) *Builder           { b.c.RobotID = id; return b }
func (b *Builder) MissionID(id string) *Builder         { b.c.MissionID = id; return b }
func (b *Builder) Sequence(seq uint64) *Builder         { b.c.Sequence = seq; return b }
func (b *Builder) PrevRoot(h Hash256) *Builder          { b.c.PrevRoot = h; return b }
func (b *Builder) EntriesRoot(h Hash256) *Builder       { b.c.EntriesRoot = h; return b }
func (b *Builder) EnclaveMeasurement(m []byte) *Builder { b.c.EnclaveMeasurement = m; return b }
func (b *Builder) FirmwareHash(h Hash256) *Builder      { b.c.FirmwareHash = h; return b }
func (b *Builder) AttestationQuote(q []byte) *Builder   { b.c.AttestationQuote = q; return b }
func (b *Builder) CreatedAt(us uint64) *Builder         { b.c.CreatedAt = us; return b }

func (b *Builder) ModelProvenance(mp ModelProvenance) *Builder {
	b.c.ModelProvenance = mp
	return b
}

func (b *Builder) InferenceConfig(dc DeterminismConfig) *Builder {
	b.c.InferenceConfig = dc
	return b
}

func (b *Builder) TrustMode(m TrustMode) *Builder { b.c.TrustMode = m; return b }

// VendorTag is consulted only for precondition 5's measurement-length
// check; it is not itself a Checkpoint field.
func (b *Builder) VendorTag(tag string) *Builder {
	b.vendorTag = tag
	return b
}

// BuildAndSign checks every precondition in spec.md §4.4, bumps the
// TEE-backed counter (durably, before any signature is revealed), and
// returns the signed Checkpoint.
func (b *Builder) BuildAndSign(monotonicCounter uint64) (Checkpoint, error) {
	c := b.c

	// Precondition 1.
	if c.Sequence < 1 {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindInvariantViolation, "sequence must be >= 1")
	}
	if c.PrevRoot != (Hash256{}) && c.Sequence <= 1 {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindInvariantViolation, "non-genesis checkpoint must have sequence > 1")
	}

	// Precondition 3.
	if c.TrustMode == Trusted && c.ModelProvenance.SignatureBundle == nil {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindTrustedModeUnsigned,
			"trust_mode=Trusted requires model_provenance.signature_bundle")
	}

	// Precondition 4.
	if !validUTF8WithinBounds(c.RobotID, maxRobotIDLen) {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindInvariantViolation, "robot_id malformed or too long")
	}
	if !validUTF8WithinBounds(c.MissionID, maxMissionIDLen) {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindInvariantViolation, "mission_id malformed or too long")
	}
	if !validUTF8WithinBounds(c.ModelProvenance.Name, maxModelNameLen) {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindInvariantViolation, "model_provenance.name malformed or too long")
	}
	if !validUTF8WithinBounds(c.ModelProvenance.ContainerDigest, maxContainerDigestLen) {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindInvariantViolation, "model_provenance.container_digest malformed or too long")
	}

	// Precondition 5.
	if !measurementLenValid(b.vendorTag, c.EnclaveMeasurement) {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindInvariantViolation, "enclave_measurement length does not match vendor shape")
	}

	// Precondition 2, and the counter-durability-before-signature-release
	// invariant: Bump must have committed before we proceed to sign.
	if err := b.counters.Bump(c.RobotID, monotonicCounter); err != nil {
		return Checkpoint{}, err
	}
	c.MonotonicCounter = monotonicCounter

	c.Signature = b.signer.Sign(c.CanonicalUnsignedBytes())
	return c, nil
}
