package crdt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Snapshot container layout: magic byte, format version, then each update
// as a uvarint length prefix followed by its payload.
const (
	snapshotMagic   = 0x52
	snapshotVersion = 0x01
)

var (
	ErrBadSnapshot     = errors.New("crdt: malformed snapshot")
	ErrSnapshotVersion = errors.New("crdt: unsupported snapshot version")
)

// EncodeSnapshot packs an update log into one container.
func EncodeSnapshot(updates [][]byte) []byte {
	var tmp [binary.MaxVarintLen64]byte

	size := 2
	for _, u := range updates {
		size += binary.PutUvarint(tmp[:], uint64(len(u))) + len(u)
	}

	out := make([]byte, 0, size)
	out = append(out, snapshotMagic, snapshotVersion)
	for _, u := range updates {
		n := binary.PutUvarint(tmp[:], uint64(len(u)))
		out = append(out, tmp[:n]...)
		out = append(out, u...)
	}
	return out
}

// DecodeSnapshot unpacks a container into its update log.
func DecodeSnapshot(data []byte) ([][]byte, error) {
	if len(data) < 2 || data[0] != snapshotMagic {
		return nil, ErrBadSnapshot
	}
	if data[1] != snapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, data[1])
	}

	var updates [][]byte
	rest := data[2:]
	for len(rest) > 0 {
		length, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, ErrBadSnapshot
		}
		rest = rest[n:]
		if uint64(len(rest)) < length {
			return nil, ErrBadSnapshot
		}
		u := make([]byte, length)
		copy(u, rest[:length])
		updates = append(updates, u)
		rest = rest[length:]
	}
	return updates, nil
}
