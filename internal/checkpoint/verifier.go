package checkpoint

import (
	"context"
	"crypto/ed25519"

	"k8s.io/klog/v2"

	"github.com/tala-robotics/sentinel/internal/sentinelerr"
)

// RobotLifecycle is the per-robot acceptance state machine (spec.md §4.4):
// Fresh -> Active on the first accepted checkpoint, Active -> Active on
// every subsequent acceptance, and any fatal verification error moves it to
// Halted for good (operator-mediated reset is out of scope here).
type RobotLifecycle int

const (
	Fresh RobotLifecycle = iota
	Active
	Halted
)

func (s RobotLifecycle) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Active:
		return "active"
	case Halted:
		return "halted"
	default:
		return "unknown"
	}
}

type robotState struct {
	lifecycle  RobotLifecycle
	lastSeq    uint64
	lastCtr    uint64
	lastHash   Hash256
	haltReason *sentinelerr.Error
}

// DecisionOutcome is the ternary verdict a Verifier returns (spec.md §7):
// Accepted, Rejected with a fatal kind, or Deferred for a transient error
// only.
type DecisionOutcome int

const (
	Accepted DecisionOutcome = iota
	Rejected
	Deferred
)

func (o DecisionOutcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Deferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Decision is the result of verifying one checkpoint.
type Decision struct {
	Outcome DecisionOutcome
	Err     error // nil iff Outcome == Accepted
}

// RevocationLookup is the subset of the registry contract the verifier
// needs: whether an enclave measurement or model hash is currently revoked.
// Kept as a narrow interface here (rather than importing internal/registry
// directly) so tests can supply a fake without pulling in the ledger
// transport.
type RevocationLookup interface {
	IsEnclaveRevoked(measurement []byte) (bool, error)
	IsModelRevoked(modelHash Hash256) (bool, error)
}

// SigningKeyResolver maps an enclave_measurement to the Ed25519 public key
// that measurement's checkpoints must be signed with.
type SigningKeyResolver interface {
	PublicKeyFor(enclaveMeasurement []byte) (ed25519.PublicKey, error)
}

// Verifier runs the gateway-side checkpoint verification pipeline
// (spec.md §4.4), partitioning per-robot state across shards so that
// verification is serial within one robot_id and parallel across robots
// without any shared-map locking.
type Verifier struct {
	part       *partitioner
	states     []map[string]*robotState
	revocation RevocationLookup
	keys       SigningKeyResolver
}

// NewVerifier constructs a Verifier with shardCount independent shards.
func NewVerifier(shardCount int, revocation RevocationLookup, keys SigningKeyResolver) *Verifier {
	v := &Verifier{
		part:       newPartitioner(shardCount),
		states:     make([]map[string]*robotState, shardCount),
		revocation: revocation,
		keys:       keys,
	}
	for i := range v.states {
		v.states[i] = make(map[string]*robotState)
	}
	return v
}

// Close stops the verifier's shard workers.
func (v *Verifier) Close() {
	v.part.close()
}

// VerifyBytes runs the full decode-through-state-machine pipeline on a raw
// checkpoint byte stream, serialized against any other verification for the
// same robot_id.
func (v *Verifier) VerifyBytes(ctx context.Context, raw []byte) Decision {
	c, err := FromBytes(raw)
	if err != nil {
		return Decision{Outcome: Rejected, Err: err}
	}
	return v.Verify(ctx, c)
}

// Verify runs the pipeline against an already-decoded Checkpoint.
func (v *Verifier) Verify(ctx context.Context, c Checkpoint) Decision {
	var decision Decision
	err := v.part.do(ctx, c.RobotID, func() error {
		decision = v.verifyLocked(c)
		return nil
	})
	if err != nil {
		// Only ctx cancellation reaches here; do not touch per-robot state.
		return Decision{Outcome: Deferred, Err: sentinelerr.Wrap(sentinelerr.KindLedgerUnavailable, "verification cancelled", err)}
	}
	return decision
}

// verifyLocked runs entirely inside the owning shard's goroutine; it is the
// only place robotState for c.RobotID is ever read or written, so no mutex
// is needed.
func (v *Verifier) verifyLocked(c Checkpoint) Decision {
	shard := v.part.shardIndex(c.RobotID)
	states := v.states[shard]
	st, known := states[c.RobotID]
	if !known {
		st = &robotState{lifecycle: Fresh}
		states[c.RobotID] = st
	}

	if st.lifecycle == Halted {
		return reject(st.haltReason)
	}
	decision := v.runVerification(c, st, st.lifecycle == Active)
	switch decision.Outcome {
	case Accepted:
		klog.InfoS("checkpoint accepted", "robotID", c.RobotID, "sequence", c.Sequence)
	case Rejected:
		klog.ErrorS(decision.Err, "checkpoint rejected", "robotID", c.RobotID, "sequence", c.Sequence, "lifecycle", st.lifecycle.String())
	}
	return decision
}

// runVerification performs steps 2-7 of the verification pipeline.
func (v *Verifier) runVerification(c Checkpoint, st *robotState, known bool) Decision {

	// Step 2: signature.
	pub, err := v.keys.PublicKeyFor(c.EnclaveMeasurement)
	if err != nil {
		keyErr := sentinelerr.Wrap(sentinelerr.KindAttestationError, "resolve signing key", err)
		if sentinelerr.IsTransient(err) {
			return Decision{Outcome: Deferred, Err: keyErr}
		}
		return Decision{Outcome: Rejected, Err: keyErr}
	}
	if !c.VerifySignature(pub) {
		return reject(st.halt(sentinelerr.New(sentinelerr.KindSignatureInvalid, "checkpoint signature verification failed")))
	}

	// Step 3: anti-rollback.
	if known {
		if c.Sequence <= st.lastSeq || c.MonotonicCounter <= st.lastCtr {
			return reject(st.halt(sentinelerr.New(sentinelerr.KindRollbackDetected,
				"sequence/counter did not strictly increase")))
		}
	} else if c.Sequence != 1 {
		// First checkpoint ever seen for this robot must be genesis; a
		// non-genesis sequence with no prior state is its own rollback/
		// bootstrap ambiguity, treated as UnknownRobot rather than fatal so
		// an operator can backfill state out of band.
		return Decision{Outcome: Rejected, Err: sentinelerr.New(sentinelerr.KindUnknownRobot,
			"no prior state for robot and checkpoint is not sequence=1")}
	}

	// Step 4: chain linkage.
	if known {
		if c.PrevRoot != st.lastHash {
			return reject(st.halt(sentinelerr.New(sentinelerr.KindChainBroken, "prev_root does not match last accepted checkpoint hash")))
		}
	} else if c.PrevRoot != (Hash256{}) {
		return reject(st.halt(sentinelerr.New(sentinelerr.KindChainBroken, "genesis checkpoint must have zero prev_root")))
	}

	// Step 5: enclave revocation.
	revoked, err := v.revocation.IsEnclaveRevoked(c.EnclaveMeasurement)
	if err != nil {
		return Decision{Outcome: Deferred, Err: sentinelerr.Wrap(sentinelerr.KindLedgerUnavailable, "enclave revocation lookup", err)}
	}
	if revoked {
		// Revocation does not halt the robot's state machine: an operator
		// can reinstate the enclave and resume acceptance, unlike the other
		// fatal kinds above (spec.md's revocation-monotonicity property is
		// about verify_checkpoint reads, not this per-robot machine).
		return Decision{Outcome: Rejected, Err: sentinelerr.New(sentinelerr.KindEnclaveRevoked, "enclave measurement is revoked")}
	}

	// Step 6: model revocation.
	modelRevoked, err := v.revocation.IsModelRevoked(c.ModelProvenance.ModelHash)
	if err != nil {
		return Decision{Outcome: Deferred, Err: sentinelerr.Wrap(sentinelerr.KindLedgerUnavailable, "model revocation lookup", err)}
	}
	if modelRevoked {
		return Decision{Outcome: Rejected, Err: sentinelerr.New(sentinelerr.KindModelRevoked, "model hash is revoked")}
	}

	// Step 7: trust mode re-check (defensive; builder already enforces this).
	if c.TrustMode == Trusted && c.ModelProvenance.SignatureBundle == nil {
		return reject(st.halt(sentinelerr.New(sentinelerr.KindTrustedModeUnsigned, "trust_mode=Trusted checkpoint carries no signature_bundle")))
	}

	st.lifecycle = Active
	st.lastSeq = c.Sequence
	st.lastCtr = c.MonotonicCounter
	st.lastHash = c.Hash()
	return Decision{Outcome: Accepted}
}

func (st *robotState) halt(err *sentinelerr.Error) *sentinelerr.Error {
	st.lifecycle = Halted
	st.haltReason = err
	return err
}

func reject(err error) Decision {
	return Decision{Outcome: Rejected, Err: err}
}

// State returns a snapshot of the per-robot lifecycle, routed through the
// owning shard so it never races with a concurrent Verify call for the same
// robot_id.
func (v *Verifier) State(ctx context.Context, robotID string) (RobotLifecycle, bool, error) {
	var lifecycle RobotLifecycle
	var known bool
	err := v.part.do(ctx, robotID, func() error {
		shard := v.part.shardIndex(robotID)
		st, ok := v.states[shard][robotID]
		if ok {
			lifecycle, known = st.lifecycle, true
		}
		return nil
	})
	return lifecycle, known, err
}
