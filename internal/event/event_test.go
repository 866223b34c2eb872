package event

import (
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func buildStruct(t *testing.T, mem memory.Allocator, rows int) (*array.Struct, *arrow.Schema) {
	t.Helper()

	ib := array.NewInt64Builder(mem)
	defer ib.Release()
	for i := 0; i < rows; i++ {
		ib.Append(int64(i))
	}
	vals := ib.NewInt64Array()
	defer vals.Release()

	sb := array.NewStringBuilder(mem)
	defer sb.Release()
	for i := 0; i < rows; i++ {
		sb.Append("row")
	}
	labels := sb.NewStringArray()
	defer labels.Release()

	st, err := array.NewStructArray([]arrow.Array{vals, labels}, []string{"value", "label"})
	if err != nil {
		t.Fatalf("NewStructArray: %v", err)
	}

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "value", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "label", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)

	return st, schema
}

func TestFromStruct(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	st, schema := buildStruct(t, mem, 3)

	rec, err := FromStruct(st, schema)
	if err != nil {
		t.Fatalf("FromStruct: %v", err)
	}
	st.Release()

	if rec.NumRows() != 3 {
		t.Errorf("NumRows = %d, want 3", rec.NumRows())
	}
	if rec.NumCols() != 2 {
		t.Errorf("NumCols = %d, want 2", rec.NumCols())
	}

	// Columns must stay readable after the source struct is released.
	col := rec.Column(0).(*array.Int64)
	if col.Value(2) != 2 {
		t.Errorf("Column(0).Value(2) = %d, want 2", col.Value(2))
	}

	rec.Release()
}

func TestFromStruct_SchemaMismatch(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	st, _ := buildStruct(t, mem, 2)
	defer st.Release()

	tests := []struct {
		name   string
		schema *arrow.Schema
	}{
		{"field count", arrow.NewSchema([]arrow.Field{
			{Name: "value", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		}, nil)},
		{"field name", arrow.NewSchema([]arrow.Field{
			{Name: "count", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			{Name: "label", Type: arrow.BinaryTypes.String, Nullable: true},
		}, nil)},
		{"field type", arrow.NewSchema([]arrow.Field{
			{Name: "value", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
			{Name: "label", Type: arrow.BinaryTypes.String, Nullable: true},
		}, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := FromStruct(st, tt.schema)
			if rec != nil {
				rec.Release()
			}
			if !errors.Is(err, ErrSchemaMismatch) {
				t.Errorf("FromStruct error = %v, want ErrSchemaMismatch", err)
			}
		})
	}
}

func TestFromStruct_NilArgs(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	st, schema := buildStruct(t, mem, 1)
	defer st.Release()

	if _, err := FromStruct(nil, schema); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("FromStruct(nil, schema) error = %v, want ErrSchemaMismatch", err)
	}
	if _, err := FromStruct(st, nil); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("FromStruct(st, nil) error = %v, want ErrSchemaMismatch", err)
	}
}

func TestEventRelease(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	st, schema := buildStruct(t, mem, 4)
	rec, err := FromStruct(st, schema)
	if err != nil {
		t.Fatalf("FromStruct: %v", err)
	}
	st.Release()

	evt := New(7, 42, rec)
	if evt.SourceID != 7 {
		t.Errorf("SourceID = %d, want 7", evt.SourceID)
	}
	if evt.SeqNo != 42 {
		t.Errorf("SeqNo = %d, want 42", evt.SeqNo)
	}
	if evt.NumRows() != 4 {
		t.Errorf("NumRows = %d, want 4", evt.NumRows())
	}
	if evt.NumCols() != 2 {
		t.Errorf("NumCols = %d, want 2", evt.NumCols())
	}

	evt.Release()
	if evt.NumRows() != 0 {
		t.Errorf("NumRows after release = %d, want 0", evt.NumRows())
	}

	// Second release must be a no-op.
	evt.Release()
}
