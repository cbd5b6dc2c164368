package gallery

import "github.com/haivivi/faceid/go/pkg/kv"

// KV key layout for the gallery package.
//
// The gallery owns the whole store it is given; keys are not namespaced
// beyond their record type. One store holds one gallery.
//
//	identity:{id}   → msgpack identityRecord   one per enrolled identity
//	checkpoint      → msgpack checkpointRecord single in-progress enrollment
//
// Identity IDs become key segments verbatim, so they must not contain the
// store's separator byte. NewKV-backed writes validate this up front.

// identityKey builds the KV key for an enrolled identity.
// Format: "identity" + {id}
func identityKey(id string) kv.Key {
	return kv.Key{"identity", id}
}

// identityPrefix returns the prefix for listing all enrolled identities.
func identityPrefix() kv.Key {
	return kv.Key{"identity"}
}

// checkpointKey returns the fixed key for the enrollment checkpoint.
// At most one enrollment is in progress per store.
func checkpointKey() kv.Key {
	return kv.Key{"checkpoint"}
}
