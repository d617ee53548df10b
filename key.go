package attrstore

import (
	"fmt"

	"github.com/AndrewDonelson/attrstore/internal/keyenc"
)

// Key identifies one attribute.
type Key struct {
	Endpoint  uint16
	Cluster   uint32
	Attribute uint32
}

// NewKey builds a Key.
func NewKey(endpoint uint16, cluster, attribute uint32) Key {
	return Key{Endpoint: endpoint, Cluster: cluster, Attribute: attribute}
}

// Encoded is the 14-character backend key of the current scheme.
func (k Key) Encoded() string {
	return keyenc.Encode(k.Endpoint, k.Cluster, k.Attribute)
}

// legacy returns the namespace and key of the older per-endpoint scheme.
func (k Key) legacy() (namespace, key string) {
	return keyenc.LegacyNamespace(k.Endpoint), keyenc.LegacyKey(k.Cluster, k.Attribute)
}

func (k Key) String() string {
	return fmt.Sprintf("0x%04X/0x%08X/0x%08X", k.Endpoint, k.Cluster, k.Attribute)
}
