package query

import "fmt"

// NullPlaceholder fills right-side fields of a left row without a match
const NullPlaceholder = "NULL"

// JoinKind selects what happens to left rows without a match
type JoinKind uint8

const (
	JoinLeft JoinKind = iota
	JoinInner
)

func (k JoinKind) String() string {
	if k == JoinInner {
		return "inner"
	}
	return "left"
}

// TableField names a field of a table
type TableField struct {
	Table string
	Field string
}

func (tf TableField) String() string {
	return tf.Table + "." + tf.Field
}

// Join combines rows of the queried table with rows of Table where
// Left equals Right
type Join struct {
	Table string
	Kind  JoinKind
	Left  TableField
	Right TableField
}

// NewJoin creates a left join of table on left = right
func NewJoin(table string, left, right TableField) Join {
	return Join{Table: table, Kind: JoinLeft, Left: left, Right: right}
}

func (j Join) String() string {
	return fmt.Sprintf("%s join %s on %s = %s", j.Kind, j.Table, j.Left, j.Right)
}
