package history

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

// TxID is a 128-bit, lexicographically sortable transaction identifier:
// [8 bytes ms_timestamp][8 bytes sequence], big-endian.
type TxID [16]byte

// String returns the hex form used as kit.Transaction.ID.
func (i TxID) String() string { return hex.EncodeToString(i[:]) }

// Millis returns the embedded millisecond timestamp.
func (i TxID) Millis() int64 { return int64(binary.BigEndian.Uint64(i[:8])) }

// TxIDGenerator produces monotonically increasing IDs per process. A clock
// regression pins to the last seen millisecond; sequence overflow waits for
// the next one.
type TxIDGenerator struct {
	mu       sync.Mutex
	lastMs   int64
	sequence uint64
	nowMs    func() int64
}

// NewTxIDGenerator returns a generator reading the wall clock.
func NewTxIDGenerator() *TxIDGenerator {
	return &TxIDGenerator{nowMs: func() int64 { return time.Now().UnixMilli() }}
}

// Next returns a new ID.
func (g *TxIDGenerator) Next() TxID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.nowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}
	switch {
	case ms != g.lastMs:
		g.sequence = 0
	case g.sequence == math.MaxUint64:
		for ms <= g.lastMs {
			time.Sleep(time.Millisecond / 8)
			ms = g.nowMs()
		}
		g.sequence = 0
	default:
		g.sequence++
	}
	g.lastMs = ms

	var id TxID
	binary.BigEndian.PutUint64(id[0:8], uint64(ms))
	binary.BigEndian.PutUint64(id[8:16], g.sequence)
	return id
}
