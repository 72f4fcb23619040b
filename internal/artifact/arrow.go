package artifact

import (
	"fmt"
	"os"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// Column names used in artifact files.
const (
	TimesColumn    = "times"
	FeaturesColumn = "features"
)

// ReadFile loads an artifact sequence from an Arrow IPC file.
//
// The file must carry a "features" column holding a list (or fixed-size list)
// of numeric values per row. A "times" column is optional; when absent the
// artifact indices are used as times.
func ReadFile(path string) (*Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact file: %w", err)
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("failed to read arrow file %s: %w", path, err)
	}
	defer r.Close()

	if len(r.Schema().FieldIndices(FeaturesColumn)) == 0 {
		return nil, fmt.Errorf("%w: %q in %s", ErrMissingColumn, FeaturesColumn, path)
	}
	hasTimes := len(r.Schema().FieldIndices(TimesColumn)) > 0

	var vectors [][]float64
	var times []float64
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read record batch %d: %w", i, err)
		}

		vecs, err := decodeFeatures(rec)
		if err != nil {
			return nil, fmt.Errorf("record batch %d: %w", i, err)
		}
		vectors = append(vectors, vecs...)

		if hasTimes {
			ts, err := decodeTimes(rec)
			if err != nil {
				return nil, fmt.Errorf("record batch %d: %w", i, err)
			}
			times = append(times, ts...)
		}
	}

	return New(vectors, times)
}

func decodeFeatures(rec arrow.Record) ([][]float64, error) {
	col := rec.Column(rec.Schema().FieldIndices(FeaturesColumn)[0])
	list, ok := col.(array.ListLike)
	if !ok {
		return nil, fmt.Errorf("%w: %q has type %s, want a list", ErrInvalidSequence, FeaturesColumn, col.DataType())
	}

	values := list.ListValues()
	out := make([][]float64, 0, list.Len())
	for row := 0; row < list.Len(); row++ {
		if list.IsNull(row) {
			return nil, fmt.Errorf("%w: null artifact at row %d", ErrInvalidSequence, row)
		}
		start, end := list.ValueOffsets(row)
		vec := make([]float64, end-start)
		for j := start; j < end; j++ {
			v, err := numericAt(values, int(j))
			if err != nil {
				return nil, err
			}
			vec[j-start] = v
		}
		out = append(out, vec)
	}
	return out, nil
}

func decodeTimes(rec arrow.Record) ([]float64, error) {
	col := rec.Column(rec.Schema().FieldIndices(TimesColumn)[0])
	out := make([]float64, col.Len())
	for i := range out {
		v, err := numericAt(col, i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func numericAt(arr arrow.Array, i int) (float64, error) {
	if arr.IsNull(i) {
		return 0, fmt.Errorf("%w: null value at %d", ErrInvalidSequence, i)
	}
	switch a := arr.(type) {
	case *array.Float64:
		return a.Value(i), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Int64:
		return float64(a.Value(i)), nil
	case *array.Int32:
		return float64(a.Value(i)), nil
	case *array.Uint64:
		return float64(a.Value(i)), nil
	case *array.Uint32:
		return float64(a.Value(i)), nil
	default:
		return 0, fmt.Errorf("%w: unsupported value type %s", ErrInvalidSequence, arr.DataType())
	}
}

// WriteFile stores seq as an Arrow IPC file with a float64 "times" column and
// a fixed-size-list float64 "features" column.
func WriteFile(path string, seq *Sequence) error {
	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: TimesColumn, Type: arrow.PrimitiveTypes.Float64},
		{Name: FeaturesColumn, Type: arrow.FixedSizeListOf(int32(seq.Dim()), arrow.PrimitiveTypes.Float64)},
	}, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	tb := b.Field(0).(*array.Float64Builder)
	fb := b.Field(1).(*array.FixedSizeListBuilder)
	vb := fb.ValueBuilder().(*array.Float64Builder)
	for i, vec := range seq.Vectors {
		tb.Append(seq.Times[i])
		fb.Append(true)
		vb.AppendValues(vec, nil)
	}

	rec := b.NewRecord()
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create artifact file: %w", err)
	}

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to create arrow writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		f.Close()
		return fmt.Errorf("failed to write artifacts: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finish arrow file: %w", err)
	}
	return f.Close()
}
