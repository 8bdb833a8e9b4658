// Package metadata holds the protocol-neutral key/value context carried by an
// envelope, typically forwarded transport headers.
package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// Metadata is a string-to-string mapping with no ordering semantics.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Get returns the value for key, or the empty string when absent.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// FromWatermill converts Watermill message metadata into envelope metadata.
func FromWatermill(md message.Metadata) Metadata {
	if len(md) == 0 {
		return Metadata{}
	}
	cloned := make(Metadata, len(md))
	for k, v := range md {
		cloned[k] = v
	}
	return cloned
}

// ToWatermill converts envelope metadata into Watermill message metadata.
func (m Metadata) ToWatermill() message.Metadata {
	out := make(message.Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
