// Package codec defines the serialization boundary between caller value types
// and the byte payloads tiercache stores in its tiers. Any tier that is not
// same-process same-memory receives serialized bytes only.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
