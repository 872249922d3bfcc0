package history

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rzbill/historykit/pkg/kit"
)

// Record encoding: uvarint headerLen | header | payload | crc32c(header|payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrCorruptRecord is returned when a stored value fails its checksum.
var ErrCorruptRecord = errors.New("history: corrupt record")

func EncodeRecord(header, payload []byte) []byte {
	out := make([]byte, 0, binary.MaxVarintLen64+len(header)+len(payload)+4)
	out = binary.AppendUvarint(out, uint64(len(header)))
	out = append(out, header...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	return binary.BigEndian.AppendUint32(out, crc)
}

type Decoded struct {
	Header  []byte
	Payload []byte
}

func DecodeRecord(b []byte) (Decoded, bool) {
	if len(b) < 1+4 {
		return Decoded{}, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 {
		return Decoded{}, false
	}
	rest := len(b) - n - 4
	if rest < 0 || hlen > uint64(rest) {
		return Decoded{}, false
	}
	header := b[n : n+int(hlen)]
	payload := b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return Decoded{}, false
	}
	return Decoded{Header: append([]byte(nil), header...), Payload: append([]byte(nil), payload...)}, true
}

// envelope is the record header of a stored transaction.
type envelope struct {
	ID       string `json:"id"`
	Author   string `json:"author"`
	TsNanos  int64  `json:"ts"`
	Mirrored bool   `json:"mirrored,omitempty"`
}

func encodeTransaction(tx kit.Transaction) ([]byte, error) {
	header, err := json.Marshal(envelope{ID: tx.ID, Author: tx.Author, TsNanos: tx.Timestamp.UnixNano(), Mirrored: tx.Mirrored})
	if err != nil {
		return nil, errors.Wrap(err, "encode envelope")
	}
	payload, err := json.Marshal(tx.Changes)
	if err != nil {
		return nil, errors.Wrap(err, "encode changes")
	}
	return EncodeRecord(header, payload), nil
}

// decodeEnvelope decodes only the header; DeleteBefore uses it to check the
// author without parsing changes.
func decodeEnvelope(b []byte) (envelope, Decoded, error) {
	dec, ok := DecodeRecord(b)
	if !ok {
		return envelope{}, Decoded{}, ErrCorruptRecord
	}
	var env envelope
	if err := json.Unmarshal(dec.Header, &env); err != nil {
		return envelope{}, Decoded{}, errors.Mark(errors.Wrap(err, "decode envelope"), ErrCorruptRecord)
	}
	return env, dec, nil
}

func decodeTransaction(b []byte) (kit.Transaction, error) {
	env, dec, err := decodeEnvelope(b)
	if err != nil {
		return kit.Transaction{}, err
	}
	tx := kit.Transaction{
		ID:        env.ID,
		Author:    env.Author,
		Timestamp: time.Unix(0, env.TsNanos).UTC(),
		Mirrored:  env.Mirrored,
	}
	if len(dec.Payload) > 0 {
		if err := json.Unmarshal(dec.Payload, &tx.Changes); err != nil {
			return kit.Transaction{}, errors.Mark(errors.Wrap(err, "decode changes"), ErrCorruptRecord)
		}
	}
	return tx, nil
}
