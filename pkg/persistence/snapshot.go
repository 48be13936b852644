package persistence

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/lwm2m-go/regsync/pkg/dm"
)

// SnapshotMagic prefixes every registry snapshot.
var SnapshotMagic = [4]byte{'R', 'E', 'G', 0x01}

// Snapshot errors.
var (
	ErrBadMagic        = errors.New("snapshot has unknown magic")
	ErrTruncated       = errors.New("snapshot is truncated")
	ErrInvalidSnapshot = errors.New("snapshot body is invalid")
)

// snapshotBody is the CBOR body of a snapshot.
type snapshotBody struct {
	// Instances holds [object, instance] pairs in canonical order.
	Instances [][2]uint16 `cbor:"1,keyasint"`
}

var (
	snapshotEncMode cbor.EncMode
	snapshotDecMode cbor.DecMode
)

func init() {
	var err error

	snapshotEncMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create snapshot CBOR encoder mode: %v", err))
	}

	snapshotDecMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create snapshot CBOR decoder mode: %v", err))
	}
}

// EncodeSnapshot serializes s with the magic header.
func EncodeSnapshot(s dm.Set) ([]byte, error) {
	refs := s.Sorted()
	body := snapshotBody{Instances: make([][2]uint16, len(refs))}
	for i, r := range refs {
		body.Instances[i] = [2]uint16{uint16(r.Object), uint16(r.Instance)}
	}

	data, err := snapshotEncMode.Marshal(body)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(SnapshotMagic[:])
	buf.Write(data)
	return buf.Bytes(), nil
}

// DecodeSnapshot parses a snapshot produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (dm.Set, error) {
	if len(data) < len(SnapshotMagic) {
		return dm.Set{}, ErrTruncated
	}
	if !bytes.Equal(data[:len(SnapshotMagic)], SnapshotMagic[:]) {
		return dm.Set{}, ErrBadMagic
	}

	var body snapshotBody
	if err := snapshotDecMode.Unmarshal(data[len(SnapshotMagic):], &body); err != nil {
		return dm.Set{}, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	refs := make([]dm.Ref, 0, len(body.Instances))
	for _, p := range body.Instances {
		if dm.InstanceID(p[1]) > dm.MaxInstanceID {
			return dm.Set{}, fmt.Errorf("%w: instance id %d", ErrInvalidSnapshot, p[1])
		}
		refs = append(refs, dm.NewRef(dm.ObjectID(p[0]), dm.InstanceID(p[1])))
	}
	return dm.NewSet(refs...), nil
}

// SnapshotStore persists registry snapshots to a file.
type SnapshotStore struct {
	mu   sync.Mutex
	path string
}

// NewSnapshotStore creates a snapshot store.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Save writes s to disk.
func (s *SnapshotStore) Save(set dm.Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := EncodeSnapshot(set)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	return writeFileAtomic(s.path, data)
}

// Load reads the snapshot. The boolean is false if no snapshot exists.
func (s *SnapshotStore) Load() (dm.Set, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return dm.NewSet(), false, nil
	}
	if err != nil {
		return dm.Set{}, false, err
	}

	set, err := DecodeSnapshot(data)
	if err != nil {
		return dm.Set{}, false, err
	}
	return set, true, nil
}
