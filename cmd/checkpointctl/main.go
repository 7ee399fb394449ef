// checkpointctl is the administrative and audit CLI for a sentinel ledger:
// offline inclusion-proof verification against a checkpoint file, and
// governance/gateway operations against a running ledger over
// internal/ledgerrpc (spec.md §6). This supersedes the teacher's
// assurectl, which drove its single "verify" subcommand with the stdlib
// flag package; SPEC_FULL.md's wider operation surface is expressed here
// with github.com/urfave/cli/v2 instead.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tala-robotics/sentinel/internal/checkpoint"
	"github.com/tala-robotics/sentinel/internal/ledgerrpc"
	"github.com/tala-robotics/sentinel/internal/merklelog"
	"github.com/tala-robotics/sentinel/internal/registry"
)

// proofFile is the JSON-on-disk shape an auditor hands to `verify`: the
// leaf entry the proof is for, plus the inclusion path. Unlike the
// checkpoint's own wire encoding, this artifact carries no integrity
// stakes of its own — it is cross-checked against the checkpoint's signed
// entries_root, so JSON is an acceptable shape for it.
type proofFile struct {
	Entry struct {
		Timestamp uint64 `json:"timestamp"`
		Nonce     uint64 `json:"nonce"`
		Payload   string `json:"payload_hex"`
	} `json:"entry"`
	LeafIndex int `json:"leaf_index"`
	NumLeaves int `json:"num_leaves"`
	Steps     []struct {
		Sibling string `json:"sibling_hex"`
		Dir     string `json:"dir"` // "left" or "right"
	} `json:"steps"`
}

func main() {
	app := &cli.App{
		Name:  "checkpointctl",
		Usage: "verify checkpoint inclusion proofs and administer a sentinel ledger",
		Commands: []*cli.Command{
			verifyCommand(),
			registryCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "checkpointctl:", err)
		os.Exit(1)
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "check a log entry's inclusion proof against a checkpoint's entries_root",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "checkpoint", Required: true, Usage: "path to a checkpoint's canonical wire bytes"},
			&cli.StringFlag{Name: "proof", Required: true, Usage: "path to a proof JSON file"},
			&cli.StringFlag{Name: "checkpoint-id", Usage: "hex checkpoint_id to also confirm against --registry"},
			&cli.StringFlag{Name: "registry", Usage: "ledger gRPC address, e.g. 127.0.0.1:9444"},
		},
		Action: func(c *cli.Context) error {
			rawCheckpoint, err := os.ReadFile(c.String("checkpoint"))
			if err != nil {
				return fmt.Errorf("read checkpoint: %w", err)
			}
			cp, err := checkpoint.FromBytes(rawCheckpoint)
			if err != nil {
				return fmt.Errorf("decode checkpoint: %w", err)
			}

			rawProof, err := os.ReadFile(c.String("proof"))
			if err != nil {
				return fmt.Errorf("read proof: %w", err)
			}
			var pf proofFile
			if err := json.Unmarshal(rawProof, &pf); err != nil {
				return fmt.Errorf("parse proof: %w", err)
			}

			payload, err := hex.DecodeString(pf.Entry.Payload)
			if err != nil {
				return fmt.Errorf("decode entry payload: %w", err)
			}
			leaf := merklelog.LeafHash(merklelog.Entry{
				Timestamp: pf.Entry.Timestamp,
				Nonce:     pf.Entry.Nonce,
				Payload:   payload,
			})

			proof := merklelog.Proof{LeafIndex: pf.LeafIndex, NumLeaves: pf.NumLeaves}
			for _, s := range pf.Steps {
				sib, err := hexToHash(s.Sibling)
				if err != nil {
					return fmt.Errorf("decode sibling hash: %w", err)
				}
				dir := merklelog.Left
				if s.Dir == "right" {
					dir = merklelog.Right
				}
				proof.Steps = append(proof.Steps, merklelog.ProofStep{Sibling: sib, Dir: dir})
			}

			if !merklelog.Verify(cp.EntriesRoot, leaf, proof) {
				return fmt.Errorf("inclusion proof does not reconstruct entries_root")
			}
			fmt.Println("inclusion proof OK")

			idHex := c.String("checkpoint-id")
			addr := c.String("registry")
			if idHex == "" || addr == "" {
				return nil
			}
			id, err := hexToHash(idHex)
			if err != nil {
				return fmt.Errorf("decode checkpoint-id: %w", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			client, err := ledgerrpc.Dial(ctx, addr, anyoneSubject(), grpcInsecure()...)
			if err != nil {
				return fmt.Errorf("dial registry: %w", err)
			}
			defer client.Close()
			verified, err := client.VerifyCheckpoint(ctx, id)
			if err != nil {
				return fmt.Errorf("verify_checkpoint: %w", err)
			}
			if !verified {
				return fmt.Errorf("ledger reports checkpoint_id is not currently verified")
			}
			fmt.Println("ledger anchoring OK")
			return nil
		},
	}
}

func registryCommand() *cli.Command {
	callerFlags := []cli.Flag{
		&cli.StringFlag{Name: "registry", Required: true, Usage: "ledger gRPC address"},
		&cli.StringFlag{Name: "caller-id", Value: "operator-cli", Usage: "caller identity presented to the ledger"},
		&cli.StringSliceFlag{Name: "role", Usage: "roles to present, e.g. GOVERNANCE"},
	}
	return &cli.Command{
		Name:  "registry",
		Usage: "governance and gateway operations against a running ledger",
		Subcommands: []*cli.Command{
			{
				Name:  "register-model",
				Flags: append(callerFlags, &cli.StringFlag{Name: "model-hash", Required: true}, &cli.StringFlag{Name: "name", Required: true}),
				Action: withClient(func(ctx context.Context, client *ledgerrpc.Client, c *cli.Context) error {
					hash, err := hexToHash(c.String("model-hash"))
					if err != nil {
						return err
					}
					return client.RegisterModel(ctx, registry.RegisterModelInput{ModelHash: hash, Name: c.String("name")})
				}),
			},
			{
				Name:  "revoke-model",
				Flags: append(callerFlags, &cli.StringFlag{Name: "model-hash", Required: true}),
				Action: withClient(func(ctx context.Context, client *ledgerrpc.Client, c *cli.Context) error {
					hash, err := hexToHash(c.String("model-hash"))
					if err != nil {
						return err
					}
					return client.RevokeModel(ctx, hash)
				}),
			},
			{
				Name: "anchor",
				Flags: append(callerFlags,
					&cli.StringFlag{Name: "merkle-root", Required: true},
					&cli.StringFlag{Name: "measurement", Required: true},
					&cli.StringFlag{Name: "gateway", Required: true},
					&cli.StringFlag{Name: "gateway-signature", Usage: "hex-encoded signature over registry.AnchorDigest"},
				),
				Action: withClient(func(ctx context.Context, client *ledgerrpc.Client, c *cli.Context) error {
					root, err := hexToHash(c.String("merkle-root"))
					if err != nil {
						return err
					}
					measurement, err := hex.DecodeString(c.String("measurement"))
					if err != nil {
						return err
					}
					var gatewaySig []byte
					if raw := c.String("gateway-signature"); raw != "" {
						gatewaySig, err = hex.DecodeString(raw)
						if err != nil {
							return err
						}
					}
					id, err := client.AnchorCheckpoint(ctx, registry.AnchorCheckpointInput{
						MerkleRoot:         root,
						EnclaveMeasurement: measurement,
						Gateway:            c.String("gateway"),
						GatewaySignature:   gatewaySig,
						BlockTime:          uint64(time.Now().UnixMicro()),
					})
					if err != nil {
						return err
					}
					fmt.Println("checkpoint_id:", hex.EncodeToString(id[:]))
					return nil
				}),
			},
			{
				Name:  "revoke-enclave",
				Flags: append(callerFlags, &cli.StringFlag{Name: "measurement", Required: true}, &cli.StringFlag{Name: "reason", Required: true}),
				Action: withClient(func(ctx context.Context, client *ledgerrpc.Client, c *cli.Context) error {
					measurement, err := hex.DecodeString(c.String("measurement"))
					if err != nil {
						return err
					}
					return client.EmergencyRevokeEnclave(ctx, measurement, c.String("reason"))
				}),
			},
		},
	}
}

// withClient dials --registry with the subject assembled from --caller-id
// and --role before running fn, and always closes the connection after.
func withClient(fn func(ctx context.Context, client *ledgerrpc.Client, c *cli.Context) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var roles []registry.Role
		for _, r := range c.StringSlice("role") {
			roles = append(roles, registry.Role(r))
		}
		subject := registry.Subject{ID: c.String("caller-id"), Roles: roles}

		client, err := ledgerrpc.Dial(ctx, c.String("registry"), subject, grpcInsecure()...)
		if err != nil {
			return fmt.Errorf("dial registry: %w", err)
		}
		defer client.Close()
		return fn(ctx, client, c)
	}
}

func anyoneSubject() registry.Subject {
	return registry.Subject{ID: "auditor-cli"}
}

// grpcInsecure dials over a plaintext transport. A deployed checkpointctl
// would dial with mTLS client credentials instead; insecure transport
// credentials here match internal/ledgerrpc's own test dialing convention.
func grpcInsecure() []grpc.DialOption {
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
}

func hexToHash(s string) (registry.Hash256, error) {
	var h registry.Hash256
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return registry.Hash256{}, fmt.Errorf("malformed hash hex %q", s)
	}
	copy(h[:], b)
	return h, nil
}
