package columnar

// LogicalType is the logical (not physical/encoded) type of a column value.
type LogicalType int

const (
	TypeFloat64 LogicalType = iota
	TypeInt64
	TypeString
	TypeBool
)

func (t LogicalType) String() string {
	switch t {
	case TypeFloat64:
		return "float64"
	case TypeInt64:
		return "int64"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	default:
		return "unknown"
	}
}

// ColumnSpec describes one named, typed column in a projection's schema.
type ColumnSpec struct {
	Name       string
	Type       LogicalType
	Compressor CompressionType
}

// Value is a single column value read from a Row. Exactly one of the typed
// fields is meaningful, selected by the column's LogicalType, unless Null
// is set, in which case the row carries no value for that column.
type Value struct {
	Null   bool
	Float  float64
	Int    int64
	String string
	Bool   bool
}

// Row is an abstract, read-only tuple indexed by column ordinal. Callers may
// reuse any backing buffers immediately after a row has been consumed by
// ingest; implementations must not retain row state by reference.
type Row interface {
	// Value returns the value stored at the given column ordinal. ordinal
	// must be in [0, len(columns)).
	Value(ordinal int) Value
}
