package history

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/route-beacon/bird-ingester/internal/state"
)

// ComputeEventID hashes a route change together with the time of the
// snapshot that revealed it. Replaying the same snapshot yields the same IDs.
// Returns a 32-byte digest suitable for BYTEA storage.
func ComputeEventID(routerID, tableName, action string, r *state.ParsedRoute, takenAt time.Time) []byte {
	h := sha256.New()
	for _, s := range []string{routerID, tableName, action, r.Prefix, r.Protocol} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(r.PathIndex))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(takenAt.UnixNano()))
	h.Write(buf[:])
	h.Write(r.Fingerprint)
	return h.Sum(nil)
}

// ComputeReplyID hashes a raw reply.
func ComputeReplyID(raw []byte) []byte {
	h := sha256.Sum256(raw)
	return h[:]
}
