package event

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// ErrSchemaMismatch indicates a schema that does not describe the
// accompanying columnar array.
var ErrSchemaMismatch = errors.New("schema does not match array")

// Header identifies one event within a source stream. Sequence numbers are
// monotonic per source by caller contract; the engine does not enforce it.
type Header struct {
	SourceID uint32
	SeqNo    uint64
}

// Event is one unit of work: a header plus an immutable columnar payload.
// After a successful queue push the consumer is the sole owner and must
// call Release when the plugin chain finishes with it.
type Event struct {
	Header
	Payload arrow.Record
}

// New wraps a payload in an event envelope. The event takes over the
// caller's reference to the record.
func New(sourceID uint32, seqNo uint64, payload arrow.Record) *Event {
	return &Event{
		Header:  Header{SourceID: sourceID, SeqNo: seqNo},
		Payload: payload,
	}
}

// Release drops the event's reference to its payload. Safe to call more
// than once; only the first call releases.
func (e *Event) Release() {
	if e.Payload != nil {
		e.Payload.Release()
		e.Payload = nil
	}
}

// NumRows reports the payload row count, 0 after release.
func (e *Event) NumRows() int64 {
	if e.Payload == nil {
		return 0
	}
	return e.Payload.NumRows()
}

// NumCols reports the payload column count, 0 after release.
func (e *Event) NumCols() int64 {
	if e.Payload == nil {
		return 0
	}
	return e.Payload.NumCols()
}

// FromStruct builds a record batch from a struct array and the schema the
// caller claims describes it. Field names and types must match position by
// position. The returned record retains the struct's children, so the
// caller's reference to st stays independently owned and must still be
// released by whoever holds it.
func FromStruct(st *array.Struct, schema *arrow.Schema) (arrow.Record, error) {
	if st == nil || schema == nil {
		return nil, fmt.Errorf("%w: nil array or schema", ErrSchemaMismatch)
	}

	typ, ok := st.DataType().(*arrow.StructType)
	if !ok {
		return nil, fmt.Errorf("%w: array is not a struct", ErrSchemaMismatch)
	}
	if typ.NumFields() != schema.NumFields() {
		return nil, fmt.Errorf("%w: array has %d fields, schema has %d",
			ErrSchemaMismatch, typ.NumFields(), schema.NumFields())
	}
	for i := 0; i < schema.NumFields(); i++ {
		af, sf := typ.Field(i), schema.Field(i)
		if af.Name != sf.Name {
			return nil, fmt.Errorf("%w: field %d named %q, schema says %q",
				ErrSchemaMismatch, i, af.Name, sf.Name)
		}
		if !arrow.TypeEqual(af.Type, sf.Type) {
			return nil, fmt.Errorf("%w: field %q is %s, schema says %s",
				ErrSchemaMismatch, af.Name, af.Type, sf.Type)
		}
	}

	cols := make([]arrow.Array, schema.NumFields())
	for i := range cols {
		cols[i] = st.Field(i)
	}
	return array.NewRecord(schema, cols, int64(st.Len())), nil
}
