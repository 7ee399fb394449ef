// Package ledgerrpc is the gRPC transport for internal/registry, carried
// over the canonical codec instead of protobuf — no code generation step,
// registry wire types serialize directly via internal/codec.
package ledgerrpc

import (
	"github.com/tala-robotics/sentinel/internal/codec"
	"github.com/tala-robotics/sentinel/internal/registry"
	"github.com/tala-robotics/sentinel/internal/sentinelerr"
)

// message is satisfied by every request/response type in this package;
// Codec requires it instead of reaching for reflection.
type message interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

// callerFields carries the authenticated subject across the wire. A real
// deployment would derive Subject from mTLS client certificates at the
// transport layer; this field-carrying shape keeps the transport mTLS
// policy out of this package and lets ledgerrpc be exercised directly in
// tests without a certificate authority.
type callerFields struct {
	callerID    string
	callerRoles []string
}

func (c callerFields) toFields(fieldNum uint64) []codec.MapEntry {
	roles := make(codec.Array, len(c.callerRoles))
	for i, r := range c.callerRoles {
		roles[i] = codec.Text(r)
	}
	return []codec.MapEntry{
		codec.Field(fieldNum, codec.Text(c.callerID)),
		codec.Field(fieldNum+1, roles),
	}
}

func callerFromMap(m codec.Map, fieldNum uint64) (callerFields, error) {
	idVal, ok := m.Get(fieldNum)
	if !ok {
		return callerFields{}, sentinelerr.New(sentinelerr.KindDecodeError, "missing caller_id")
	}
	id, ok := idVal.(codec.Text)
	if !ok {
		return callerFields{}, sentinelerr.New(sentinelerr.KindDecodeError, "caller_id not text")
	}
	var roles []string
	if rolesVal, ok := m.Get(fieldNum + 1); ok {
		arr, ok := rolesVal.(codec.Array)
		if !ok {
			return callerFields{}, sentinelerr.New(sentinelerr.KindDecodeError, "caller_roles not array")
		}
		for _, item := range arr {
			t, ok := item.(codec.Text)
			if !ok {
				return callerFields{}, sentinelerr.New(sentinelerr.KindDecodeError, "caller_roles entry not text")
			}
			roles = append(roles, string(t))
		}
	}
	return callerFields{callerID: string(id), callerRoles: roles}, nil
}

func (c callerFields) subject() registry.Subject {
	roles := make([]registry.Role, len(c.callerRoles))
	for i, r := range c.callerRoles {
		roles[i] = registry.Role(r)
	}
	return registry.Subject{ID: c.callerID, Roles: roles}
}

func subjectToCallerFields(s registry.Subject) callerFields {
	roles := make([]string, len(s.Roles))
	for i, r := range s.Roles {
		roles[i] = string(r)
	}
	return callerFields{callerID: s.ID, callerRoles: roles}
}

func hashField(n uint64, h registry.Hash256) codec.MapEntry {
	return codec.Field(n, codec.Bytes(h[:]))
}

func hashFromMap(m codec.Map, n uint64) (registry.Hash256, error) {
	var h registry.Hash256
	v, ok := m.Get(n)
	if !ok {
		return h, sentinelerr.New(sentinelerr.KindDecodeError, "missing hash field")
	}
	b, ok := v.(codec.Bytes)
	if !ok || len(b) != 32 {
		return h, sentinelerr.New(sentinelerr.KindDecodeError, "hash field malformed")
	}
	copy(h[:], b)
	return h, nil
}

func decodeInto(data []byte, fn func(codec.Map) error) error {
	v, err := codec.Decode(data)
	if err != nil {
		return sentinelerr.Wrap(sentinelerr.KindDecodeError, "decode ledgerrpc message", err)
	}
	m, ok := v.(codec.Map)
	if !ok {
		return sentinelerr.New(sentinelerr.KindDecodeError, "ledgerrpc message root is not a map")
	}
	return fn(m)
}

// RegisterModelRequest wraps Registry.RegisterModel's parameters.
type RegisterModelRequest struct {
	Caller          callerFields
	ModelHash       registry.Hash256
	Name            string
	DatasetHash     *registry.Hash256
	ContainerDigest string
	HasSignature    bool
}

func (r *RegisterModelRequest) MarshalBinary() ([]byte, error) {
	fields := codec.Map{hashField(3, r.ModelHash), codec.Field(4, codec.Text(r.Name))}
	fields = append(fields, r.Caller.toFields(1)...)
	if r.DatasetHash != nil {
		fields = append(fields, hashField(5, *r.DatasetHash))
	}
	if r.ContainerDigest != "" {
		fields = append(fields, codec.Field(6, codec.Text(r.ContainerDigest)))
	}
	fields = append(fields, codec.Field(7, codec.Bool(r.HasSignature)))
	return codec.Encode(fields), nil
}

func (r *RegisterModelRequest) UnmarshalBinary(data []byte) error {
	return decodeInto(data, func(m codec.Map) error {
		caller, err := callerFromMap(m, 1)
		if err != nil {
			return err
		}
		r.Caller = caller
		h, err := hashFromMap(m, 3)
		if err != nil {
			return err
		}
		r.ModelHash = h
		nameVal, ok := m.Get(4)
		if !ok {
			return sentinelerr.New(sentinelerr.KindDecodeError, "register_model missing name")
		}
		name, ok := nameVal.(codec.Text)
		if !ok {
			return sentinelerr.New(sentinelerr.KindDecodeError, "register_model name not text")
		}
		r.Name = string(name)
		if v, ok := m.Get(5); ok {
			b, ok := v.(codec.Bytes)
			if !ok || len(b) != 32 {
				return sentinelerr.New(sentinelerr.KindDecodeError, "register_model dataset_hash malformed")
			}
			var dh registry.Hash256
			copy(dh[:], b)
			r.DatasetHash = &dh
		}
		if v, ok := m.Get(6); ok {
			t, ok := v.(codec.Text)
			if !ok {
				return sentinelerr.New(sentinelerr.KindDecodeError, "register_model container_digest not text")
			}
			r.ContainerDigest = string(t)
		}
		if v, ok := m.Get(7); ok {
			b, ok := v.(codec.Bool)
			if !ok {
				return sentinelerr.New(sentinelerr.KindDecodeError, "register_model has_signature not bool")
			}
			r.HasSignature = bool(b)
		}
		return nil
	})
}

// Empty is the response for operations that return only an error.
type Empty struct{}

func (*Empty) MarshalBinary() ([]byte, error) { return codec.Encode(codec.Map{}), nil }
func (*Empty) UnmarshalBinary([]byte) error   { return nil }

// RevokeModelRequest wraps RevokeModel/ReinstateModel's parameters (the
// same shape serves both; the RPC method name disambiguates).
type RevokeModelRequest struct {
	Caller    callerFields
	ModelHash registry.Hash256
}

func (r *RevokeModelRequest) MarshalBinary() ([]byte, error) {
	fields := append(codec.Map{}, r.Caller.toFields(1)...)
	fields = append(fields, hashField(3, r.ModelHash))
	return codec.Encode(fields), nil
}

func (r *RevokeModelRequest) UnmarshalBinary(data []byte) error {
	return decodeInto(data, func(m codec.Map) error {
		caller, err := callerFromMap(m, 1)
		if err != nil {
			return err
		}
		r.Caller = caller
		h, err := hashFromMap(m, 3)
		if err != nil {
			return err
		}
		r.ModelHash = h
		return nil
	})
}

// AnchorCheckpointRequest wraps AnchorCheckpoint's parameters.
type AnchorCheckpointRequest struct {
	Caller             callerFields
	MerkleRoot         registry.Hash256
	EnclaveMeasurement []byte
	VendorTag          string
	Gateway            string
	GatewaySignature   []byte
	BlockTime          uint64
}

func (r *AnchorCheckpointRequest) MarshalBinary() ([]byte, error) {
	fields := append(codec.Map{}, r.Caller.toFields(1)...)
	fields = append(fields,
		hashField(3, r.MerkleRoot),
		codec.Field(4, codec.Bytes(r.EnclaveMeasurement)),
		codec.Field(5, codec.Text(r.VendorTag)),
		codec.Field(6, codec.Text(r.Gateway)),
		codec.Field(7, codec.Uint(r.BlockTime)),
	)
	if len(r.GatewaySignature) > 0 {
		fields = append(fields, codec.Field(8, codec.Bytes(r.GatewaySignature)))
	}
	return codec.Encode(fields), nil
}

func (r *AnchorCheckpointRequest) UnmarshalBinary(data []byte) error {
	return decodeInto(data, func(m codec.Map) error {
		caller, err := callerFromMap(m, 1)
		if err != nil {
			return err
		}
		r.Caller = caller
		root, err := hashFromMap(m, 3)
		if err != nil {
			return err
		}
		r.MerkleRoot = root

		measVal, ok := m.Get(4)
		if !ok {
			return sentinelerr.New(sentinelerr.KindDecodeError, "anchor_checkpoint missing enclave_measurement")
		}
		meas, ok := measVal.(codec.Bytes)
		if !ok {
			return sentinelerr.New(sentinelerr.KindDecodeError, "anchor_checkpoint enclave_measurement not bytes")
		}
		r.EnclaveMeasurement = []byte(meas)

		vendorVal, ok := m.Get(5)
		if !ok {
			return sentinelerr.New(sentinelerr.KindDecodeError, "anchor_checkpoint missing vendor_tag")
		}
		vendor, ok := vendorVal.(codec.Text)
		if !ok {
			return sentinelerr.New(sentinelerr.KindDecodeError, "anchor_checkpoint vendor_tag not text")
		}
		r.VendorTag = string(vendor)

		gwVal, ok := m.Get(6)
		if !ok {
			return sentinelerr.New(sentinelerr.KindDecodeError, "anchor_checkpoint missing gateway")
		}
		gw, ok := gwVal.(codec.Text)
		if !ok {
			return sentinelerr.New(sentinelerr.KindDecodeError, "anchor_checkpoint gateway not text")
		}
		r.Gateway = string(gw)

		btVal, ok := m.Get(7)
		if !ok {
			return sentinelerr.New(sentinelerr.KindDecodeError, "anchor_checkpoint missing block_time")
		}
		bt, ok := btVal.(codec.Uint)
		if !ok {
			return sentinelerr.New(sentinelerr.KindDecodeError, "anchor_checkpoint block_time not uint")
		}
		r.BlockTime = uint64(bt)

		if sigVal, ok := m.Get(8); ok {
			sig, ok := sigVal.(codec.Bytes)
			if !ok {
				return sentinelerr.New(sentinelerr.KindDecodeError, "anchor_checkpoint gateway_signature not bytes")
			}
			r.GatewaySignature = []byte(sig)
		}
		return nil
	})
}

// AnchorCheckpointResponse carries the checkpoint_id the ledger assigned.
type AnchorCheckpointResponse struct {
	CheckpointID registry.Hash256
}

func (r *AnchorCheckpointResponse) MarshalBinary() ([]byte, error) {
	return codec.Encode(codec.Map{hashField(1, r.CheckpointID)}), nil
}

func (r *AnchorCheckpointResponse) UnmarshalBinary(data []byte) error {
	return decodeInto(data, func(m codec.Map) error {
		id, err := hashFromMap(m, 1)
		if err != nil {
			return err
		}
		r.CheckpointID = id
		return nil
	})
}

// VerifyCheckpointRequest wraps VerifyCheckpoint's parameters.
type VerifyCheckpointRequest struct {
	Caller       callerFields
	CheckpointID registry.Hash256
}

func (r *VerifyCheckpointRequest) MarshalBinary() ([]byte, error) {
	fields := append(codec.Map{}, r.Caller.toFields(1)...)
	fields = append(fields, hashField(3, r.CheckpointID))
	return codec.Encode(fields), nil
}

func (r *VerifyCheckpointRequest) UnmarshalBinary(data []byte) error {
	return decodeInto(data, func(m codec.Map) error {
		caller, err := callerFromMap(m, 1)
		if err != nil {
			return err
		}
		r.Caller = caller
		id, err := hashFromMap(m, 3)
		if err != nil {
			return err
		}
		r.CheckpointID = id
		return nil
	})
}

// VerifyCheckpointResponse carries the boolean verdict.
type VerifyCheckpointResponse struct {
	Verified bool
}

func (r *VerifyCheckpointResponse) MarshalBinary() ([]byte, error) {
	return codec.Encode(codec.Map{codec.Field(1, codec.Bool(r.Verified))}), nil
}

func (r *VerifyCheckpointResponse) UnmarshalBinary(data []byte) error {
	return decodeInto(data, func(m codec.Map) error {
		v, ok := m.Get(1)
		if !ok {
			return sentinelerr.New(sentinelerr.KindDecodeError, "verify_checkpoint missing verified")
		}
		b, ok := v.(codec.Bool)
		if !ok {
			return sentinelerr.New(sentinelerr.KindDecodeError, "verify_checkpoint verified not bool")
		}
		r.Verified = bool(b)
		return nil
	})
}

// RevokeEnclaveRequest wraps EmergencyRevokeEnclave/ReinstateEnclave's
// parameters (Reason is ignored by ReinstateEnclave).
type RevokeEnclaveRequest struct {
	Caller      callerFields
	Measurement []byte
	Reason      string
}

func (r *RevokeEnclaveRequest) MarshalBinary() ([]byte, error) {
	fields := append(codec.Map{}, r.Caller.toFields(1)...)
	fields = append(fields, codec.Field(3, codec.Bytes(r.Measurement)))
	if r.Reason != "" {
		fields = append(fields, codec.Field(4, codec.Text(r.Reason)))
	}
	return codec.Encode(fields), nil
}

func (r *RevokeEnclaveRequest) UnmarshalBinary(data []byte) error {
	return decodeInto(data, func(m codec.Map) error {
		caller, err := callerFromMap(m, 1)
		if err != nil {
			return err
		}
		r.Caller = caller
		measVal, ok := m.Get(3)
		if !ok {
			return sentinelerr.New(sentinelerr.KindDecodeError, "revoke_enclave missing measurement")
		}
		meas, ok := measVal.(codec.Bytes)
		if !ok {
			return sentinelerr.New(sentinelerr.KindDecodeError, "revoke_enclave measurement not bytes")
		}
		r.Measurement = []byte(meas)
		if v, ok := m.Get(4); ok {
			t, ok := v.(codec.Text)
			if !ok {
				return sentinelerr.New(sentinelerr.KindDecodeError, "revoke_enclave reason not text")
			}
			r.Reason = string(t)
		}
		return nil
	})
}

// GatewayRequest wraps AddGateway/RemoveGateway's parameters.
type GatewayRequest struct {
	Caller callerFields
	Addr   string
}

func (r *GatewayRequest) MarshalBinary() ([]byte, error) {
	fields := append(codec.Map{}, r.Caller.toFields(1)...)
	fields = append(fields, codec.Field(3, codec.Text(r.Addr)))
	return codec.Encode(fields), nil
}

func (r *GatewayRequest) UnmarshalBinary(data []byte) error {
	return decodeInto(data, func(m codec.Map) error {
		caller, err := callerFromMap(m, 1)
		if err != nil {
			return err
		}
		r.Caller = caller
		addrVal, ok := m.Get(3)
		if !ok {
			return sentinelerr.New(sentinelerr.KindDecodeError, "gateway_request missing addr")
		}
		addr, ok := addrVal.(codec.Text)
		if !ok {
			return sentinelerr.New(sentinelerr.KindDecodeError, "gateway_request addr not text")
		}
		r.Addr = string(addr)
		return nil
	})
}
