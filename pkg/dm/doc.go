// Package dm defines object/instance identity for the LwM2M data model.
//
// A device exposes objects (typed resource groupings such as Device or
// Location) and instances of those objects. The registration interface only
// cares about which (object, instance) pairs exist, so this package models
// exactly that:
//
//   - Ref: an immutable (object id, instance id) pair
//   - Set: a set of Refs with a canonical, sorted rendering
//   - Delta: the result of comparing two Sets
//
// # Canonical Listing
//
// Register and Update payloads carry the instance set as a CoRE link-format
// listing. The rendering is bit-exact:
//
//	</0/0>,</1/0>,</3/0>
//
// Entries are sorted ascending by (object id, instance id), identifiers are
// decimal without leading zeros, and entries are joined by a bare comma.
package dm
