package codec

// Field builds a MapEntry keyed by a contractual field number. Every
// composite record (Checkpoint, ModelProvenance, DeterminismConfig,
// MerkleProof) is built up as a Map of Field entries — mirroring the
// teacher's append-only, explicit-field style in its audit record rather
// than a reflection/struct-tag driven encoder.
func Field(n uint64, v Value) MapEntry {
	return MapEntry{Key: Uint(n), Val: v}
}

// TextField builds a MapEntry keyed by a string name. No record in this
// schema uses it: DeterminismConfig.flags is encoded as an Array of
// key/value pairs, not as a text-keyed Map.
func TextField(name string, v Value) MapEntry {
	return MapEntry{Key: Text(name), Val: v}
}

// EncodeFields is a convenience wrapper for Encode(Map{fields...}).
func EncodeFields(fields ...MapEntry) []byte {
	return Encode(Map(fields))
}
