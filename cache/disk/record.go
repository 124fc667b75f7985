package disk

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/meigma/gateway/cache"
)

// Records are FlatBuffers tables:
//
//	table Header { name: string; values: [string]; }
//	table Record {
//	  method: string; url: string; status: int32; headers: [Header];
//	  stored_at_ns: int64; body: [ubyte]; compression: ubyte;
//	}
//	file_identifier "GWR1";
var recordIdentifier = []byte("GWR1")

const (
	compressionNone byte = 0
	compressionZstd byte = 1
)

// vtable offsets: field n lives at 4 + 2n.
const (
	recordMethod      = 4
	recordURL         = 6
	recordStatus      = 8
	recordHeaders     = 10
	recordStoredAt    = 12
	recordBody        = 14
	recordCompression = 16
	recordFieldCount  = 7

	headerName       = 4
	headerValues     = 6
	headerFieldCount = 2
)

var errCorruptRecord = errors.New("disk: corrupt record")

type record struct {
	id          cache.Identity
	status      int
	header      http.Header
	storedAt    time.Time
	body        []byte
	compression byte
}

func encodeRecord(r record) []byte {
	b := flatbuffers.NewBuilder(512 + len(r.body))

	names := make([]string, 0, len(r.header))
	for name := range r.header {
		names = append(names, name)
	}
	slices.Sort(names)

	headerOffsets := make([]flatbuffers.UOffsetT, 0, len(names))
	for _, name := range names {
		values := r.header[name]
		valueOffsets := make([]flatbuffers.UOffsetT, len(values))
		for i, v := range values {
			valueOffsets[i] = b.CreateString(v)
		}
		valuesVec := prependOffsets(b, valueOffsets)
		nameOff := b.CreateString(name)

		b.StartObject(headerFieldCount)
		b.PrependUOffsetTSlot(0, nameOff, 0)
		b.PrependUOffsetTSlot(1, valuesVec, 0)
		headerOffsets = append(headerOffsets, b.EndObject())
	}
	headersVec := prependOffsets(b, headerOffsets)

	methodOff := b.CreateString(r.id.Method)
	urlOff := b.CreateString(r.id.URL)
	bodyOff := b.CreateByteVector(r.body)

	b.StartObject(recordFieldCount)
	b.PrependUOffsetTSlot(0, methodOff, 0)
	b.PrependUOffsetTSlot(1, urlOff, 0)
	b.PrependInt32Slot(2, int32(r.status), 0) //nolint:gosec // HTTP status codes fit in int32
	b.PrependUOffsetTSlot(3, headersVec, 0)
	b.PrependInt64Slot(4, r.storedAt.UnixNano(), 0)
	b.PrependUOffsetTSlot(5, bodyOff, 0)
	b.PrependByteSlot(6, r.compression, 0)
	root := b.EndObject()

	b.FinishWithFileIdentifier(root, recordIdentifier)
	return b.FinishedBytes()
}

func prependOffsets(b *flatbuffers.Builder, offsets []flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	b.StartVector(flatbuffers.SizeUOffsetT, len(offsets), flatbuffers.SizeUOffsetT)
	for i := len(offsets) - 1; i >= 0; i-- {
		b.PrependUOffsetT(offsets[i])
	}
	return b.EndVector(len(offsets))
}

// decodeRecord parses data produced by encodeRecord.
// FlatBuffers accessors do not bounds-check, so malformed input is recovered
// into errCorruptRecord.
func decodeRecord(data []byte) (r record, err error) {
	if len(data) < 8 || string(data[4:8]) != string(recordIdentifier) {
		return record{}, errCorruptRecord
	}
	defer func() {
		if p := recover(); p != nil {
			r = record{}
			err = fmt.Errorf("%w: %v", errCorruptRecord, p)
		}
	}()

	var tab flatbuffers.Table
	tab.Bytes = data
	tab.Pos = flatbuffers.GetUOffsetT(data)

	r.id.Method = tableString(&tab, recordMethod)
	r.id.URL = tableString(&tab, recordURL)
	if o := flatbuffers.UOffsetT(tab.Offset(recordStatus)); o != 0 {
		r.status = int(tab.GetInt32(o + tab.Pos))
	}
	if o := flatbuffers.UOffsetT(tab.Offset(recordStoredAt)); o != 0 {
		r.storedAt = time.Unix(0, tab.GetInt64(o+tab.Pos)).UTC()
	}
	if o := flatbuffers.UOffsetT(tab.Offset(recordBody)); o != 0 {
		r.body = slices.Clone(tab.ByteVector(o + tab.Pos))
	}
	if o := flatbuffers.UOffsetT(tab.Offset(recordCompression)); o != 0 {
		r.compression = tab.GetByte(o + tab.Pos)
	}

	r.header = make(http.Header)
	if o := flatbuffers.UOffsetT(tab.Offset(recordHeaders)); o != 0 {
		n := tab.VectorLen(o)
		vec := tab.Vector(o)
		for i := range n {
			var h flatbuffers.Table
			h.Bytes = tab.Bytes
			h.Pos = tab.Indirect(vec + flatbuffers.UOffsetT(i)*flatbuffers.SizeUOffsetT)
			name := tableString(&h, headerName)
			vo := flatbuffers.UOffsetT(h.Offset(headerValues))
			if vo == 0 {
				continue
			}
			values := make([]string, h.VectorLen(vo))
			valuesVec := h.Vector(vo)
			for j := range values {
				values[j] = string(h.ByteVector(valuesVec + flatbuffers.UOffsetT(j)*flatbuffers.SizeUOffsetT))
			}
			r.header[name] = values
		}
	}

	if r.id.URL == "" || r.status == 0 {
		return record{}, errCorruptRecord
	}
	return r, nil
}

func tableString(tab *flatbuffers.Table, field flatbuffers.VOffsetT) string {
	o := flatbuffers.UOffsetT(tab.Offset(field))
	if o == 0 {
		return ""
	}
	return tab.String(o + tab.Pos)
}
