// Package record converts opaque records to and from the forms the engine
// stores.
//
// Records enter the engine as any JSON-serializable Go value and are kept as
// JSON documents. The package provides:
//   - Decode/Normalize: JSON to map[string]any with json.Number preserved
//   - Lookup/Set: dotted key-path access into a decoded document
//   - EncodeKey: order-preserving binary encoding of key values
//   - MarshalCanonical: deterministic JSON with sorted keys
//
// # Key encoding
//
// Keys follow IndexedDB ordering: every number sorts before every string,
// and every string sorts before every array. Numbers become 8-byte
// sign-flipped IEEE 754 values; strings are NFC-normalized, 0x00 bytes are
// escaped as 0x00 0xFF, and the string ends with 0x00 0x00; arrays encode
// their elements in order followed by a single 0x00. Every encoding is
// self-terminating, so the encoding of a value is never a strict prefix of
// the encoding of a different value, and concatenated keys compare
// component-wise.
package record
