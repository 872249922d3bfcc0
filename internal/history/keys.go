package history

import (
	"encoding/binary"
	"time"
)

var (
	histPrefix = []byte("hist/")
	metaSuffix = []byte("/m")
	txSeg      = []byte("/tx/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyMeta builds the store metadata key.
func KeyMeta(store string) []byte {
	k := make([]byte, 0, len(histPrefix)+len(store)+len(metaSuffix))
	k = append(k, histPrefix...)
	k = append(k, store...)
	k = append(k, metaSuffix...)
	return k
}

// KeyTxPrefix returns the prefix shared by every transaction key of store.
func KeyTxPrefix(store string) []byte {
	k := make([]byte, 0, len(histPrefix)+len(store)+len(txSeg))
	k = append(k, histPrefix...)
	k = append(k, store...)
	k = append(k, txSeg...)
	return k
}

// KeyTx builds a transaction key. Keys order by timestamp, then sequence.
func KeyTx(store string, ts time.Time, seq uint64) []byte {
	k := KeyTxPrefix(store)
	k = appendBE8(k, tsBits(ts))
	k = appendBE8(k, seq)
	return k
}

// parseTxKey extracts timestamp and sequence from a key built by KeyTx.
func parseTxKey(prefixLen int, key []byte) (time.Time, uint64, bool) {
	if len(key) != prefixLen+16 {
		return time.Time{}, 0, false
	}
	ts := binary.BigEndian.Uint64(key[prefixLen : prefixLen+8])
	seq := binary.BigEndian.Uint64(key[prefixLen+8:])
	return time.Unix(0, int64(ts)).UTC(), seq, true
}

// tsBits maps a timestamp to its sortable key encoding. Times before the
// Unix epoch are rejected on append, so the zero time sorts first.
func tsBits(t time.Time) uint64 {
	if t.IsZero() || t.UnixNano() < 0 {
		return 0
	}
	return uint64(t.UnixNano())
}
