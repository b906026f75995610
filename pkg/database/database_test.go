package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/KevoDB/blockdb/pkg/block"
	"github.com/KevoDB/blockdb/pkg/common/log"
	"github.com/KevoDB/blockdb/pkg/config"
	"github.com/KevoDB/blockdb/pkg/entity"
	"github.com/KevoDB/blockdb/pkg/index"
	"github.com/KevoDB/blockdb/pkg/query"
	"github.com/KevoDB/blockdb/pkg/row"
	"github.com/KevoDB/blockdb/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig(t.TempDir())
	cfg.BlockSize = 128
	return cfg
}

func createTestDB(t *testing.T, cfg *config.Config) *Database {
	t.Helper()
	db, err := Create("test", cfg, WithLogger(log.NewNopLogger()))
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func intPK(name string) entity.Attribute {
	a := entity.NewAttribute(name, types.TypeInt)
	a.PrimaryKey = true
	a.AutoIncrement = true
	a.Nullable = false
	return a
}

func varchar(name string, length uint32) entity.Attribute {
	a := entity.NewAttribute(name, types.TypeVarchar)
	a.Length = length
	return a
}

func mustSelect(t *testing.T, db *Database, q *query.Query) row.Collection {
	t.Helper()
	rows, err := db.SelectRows(q)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	return rows
}

func field(t *testing.T, r *row.Row, name string) types.Value {
	t.Helper()
	v, ok := r.Field(name)
	if !ok {
		t.Fatalf("row %v has no field %s", r.Fields, name)
	}
	return v
}

func TestEndToEnd(t *testing.T) {
	db := createTestDB(t, testConfig(t))

	if err := db.AddTable("T", []entity.Attribute{intPK("id"), varchar("name", 10)}); err != nil {
		t.Fatalf("failed to add table: %v", err)
	}
	if err := db.AddTable("T", []entity.Attribute{intPK("id")}); !errors.Is(err, ErrTableExists) {
		t.Errorf("expected ErrTableExists, got %v", err)
	}

	n, err := db.InsertRows("T", []string{"id", "name"}, [][]string{{"1", "ann"}, {"2", "bob"}})
	if err != nil || n != 2 {
		t.Fatalf("expected 2 rows inserted, got %d (%v)", n, err)
	}

	e, _ := db.Entity("T")
	rows := mustSelect(t, db, query.New(e).Where(query.Where("id", query.OpGreater, types.NewInt(1))))
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if field(t, rows[0], "id").Int() != 2 || field(t, rows[0], "name").Str() != "bob" {
		t.Errorf("expected {id:2, name:bob}, got %v", rows[0].Fields)
	}

	n, err = db.DeleteRows(query.New(e).Where(query.Where("id", query.OpEqual, types.NewInt(1))))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 row deleted, got %d (%v)", n, err)
	}
	rows = mustSelect(t, db, query.New(e))
	if len(rows) != 1 || rows[0].ID() != 2 {
		t.Fatalf("expected only row 2 to remain, got %d rows", len(rows))
	}

	entityBlock, _ := db.TableBlock("T")
	n, err = db.DropTable("T")
	if err != nil || n != 1 {
		t.Fatalf("expected drop to delete 1 row, got %d (%v)", n, err)
	}
	free := db.FreeBlocks()
	if !containsBlock(free, entityBlock) {
		t.Errorf("expected entity block %d in free set %v", entityBlock, free)
	}
	if len(db.Indexes()) != 0 {
		t.Errorf("expected no indexes after drop, got %v", db.Indexes())
	}

	if err := db.AddTable("T", []entity.Attribute{intPK("id"), varchar("name", 10)}); err != nil {
		t.Fatalf("re-adding a dropped table should succeed: %v", err)
	}
	if head, _ := db.TableBlock("T"); !containsBlock(free, head) {
		t.Errorf("re-added table should reuse a freed block, got %d (free was %v)", head, free)
	}
}

func containsBlock(blocks []uint32, n uint32) bool {
	for _, b := range blocks {
		if b == n {
			return true
		}
	}
	return false
}

func TestJoinNullPlaceholder(t *testing.T) {
	db := createTestDB(t, testConfig(t))

	cityID := entity.NewAttribute("cityId", types.TypeInt)
	if err := db.AddTable("Users", []entity.Attribute{intPK("id"), cityID}); err != nil {
		t.Fatal(err)
	}
	if err := db.AddTable("Cities", []entity.Attribute{intPK("id"), varchar("name", 20)}); err != nil {
		t.Fatal(err)
	}

	if _, err := db.InsertRows("Cities", []string{"name"}, [][]string{{"Paris"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertRows("Users", []string{"cityId"}, [][]string{{"1"}, {"42"}}); err != nil {
		t.Fatal(err)
	}

	users, _ := db.Entity("Users")
	join := query.NewJoin("Cities",
		query.TableField{Table: "Users", Field: "cityId"},
		query.TableField{Table: "Cities", Field: "id"})

	rows, err := db.SelectJoinRows(query.New(users).Select("id", "name"), []query.Join{join})
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 joined rows, got %d", len(rows))
	}
	if got := field(t, rows[0], "name").Str(); got != "Paris" {
		t.Errorf("expected Paris for user 1, got %q", got)
	}
	if got := field(t, rows[1], "name").Str(); got != query.NullPlaceholder {
		t.Errorf("expected NULL placeholder for user 2, got %q", got)
	}
	if got := field(t, rows[1], "id").Int(); got != 2 {
		t.Errorf("expected left id 2, got %d", got)
	}

	join.Kind = query.JoinInner
	rows, err = db.SelectJoinRows(query.New(users), []query.Join{join})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("inner join should drop the unmatched user, got %d rows", len(rows))
	}
	if _, ok := rows[0].Field("cityId"); !ok {
		t.Error("select-all join should include left attributes")
	}
	if got := field(t, rows[0], "name").Str(); got != "Paris" {
		t.Errorf("select-all join should include right attributes, got %q", got)
	}
}

func TestReopenPersistence(t *testing.T) {
	cfg := testConfig(t)
	db, err := Create("shop", cfg, WithLogger(log.NewNopLogger()))
	if err != nil {
		t.Fatal(err)
	}

	price := entity.NewAttribute("price", types.TypeFloat)
	if err := db.AddTable("items", []entity.Attribute{intPK("id"), varchar("title", 64), price}); err != nil {
		t.Fatal(err)
	}
	var values [][]string
	for i := 0; i < 20; i++ {
		values = append(values, []string{fmt.Sprintf("item number %d with a long title", i), fmt.Sprintf("%d.5", i)})
	}
	if _, err := db.InsertRows("items", []string{"title", "price"}, values); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateIndex("items", "title"); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := db.SelectRows(query.New(nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}

	db, err = Open("shop", cfg, WithLogger(log.NewNopLogger()))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	if db.Name() != "shop" {
		t.Errorf("expected database name shop, got %s", db.Name())
	}
	e, err := db.Entity("items")
	if err != nil {
		t.Fatal(err)
	}
	if e.Increment() != 21 {
		t.Errorf("expected increment 21 after reopen, got %d", e.Increment())
	}

	rows := mustSelect(t, db, query.New(e))
	if len(rows) != 20 {
		t.Fatalf("expected 20 rows after reopen, got %d", len(rows))
	}
	for i, r := range rows {
		if r.ID() != uint32(i+1) {
			t.Errorf("row %d: expected id %d, got %d", i, i+1, r.ID())
		}
	}

	pairs, err := db.IndexPairs("items", "title")
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs["title"]) != 20 {
		t.Errorf("expected 20 title keys, got %d", len(pairs["title"]))
	}
	if len(db.Indexes()) != 2 {
		t.Errorf("expected primary and title indexes, got %v", db.Indexes())
	}

	if _, err := Open("missing", cfg); !errors.Is(err, ErrUnknownDatabase) {
		t.Errorf("expected ErrUnknownDatabase, got %v", err)
	}
	if _, err := Create("shop", cfg); !errors.Is(err, ErrDatabaseExists) {
		t.Errorf("expected ErrDatabaseExists, got %v", err)
	}
}

func TestUpdateRows(t *testing.T) {
	db := createTestDB(t, testConfig(t))
	if err := db.AddTable("T", []entity.Attribute{intPK("id"), varchar("name", 10)}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertRows("T", []string{"name"}, [][]string{{"ann"}, {"bob"}, {"cid"}}); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateIndex("T", "name"); err != nil {
		t.Fatal(err)
	}
	e, _ := db.Entity("T")

	n, err := db.UpdateRows(query.New(e).Where(query.Where("id", query.OpGreaterEqual, types.NewInt(2))),
		row.KeyValues{"name": types.NewString("a much longer name")})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("second row should collide on the truncated name, got %d (%v)", n, err)
	}
	if n != 1 {
		t.Errorf("expected 1 row updated before the collision, got %d", n)
	}

	rows := mustSelect(t, db, query.New(e).Where(query.Where("id", query.OpEqual, types.NewInt(2))))
	if got := field(t, rows[0], "name").Str(); got != "a much lon" {
		t.Errorf("expected truncated name, got %q", got)
	}
	pairs, _ := db.IndexPairs("T", "name")
	if _, ok := findKey(pairs["name"], "bob"); ok {
		t.Error("old name key should be erased from the secondary index")
	}

	n, err = db.UpdateRows(query.New(e), row.KeyValues{"age": types.NewInt(3)})
	if err != nil || n != 0 {
		t.Errorf("rows without the field must be skipped, got %d (%v)", n, err)
	}

	n, err = db.UpdateRows(query.New(e).Where(query.Where("name", query.OpEqual, types.NewString("ann"))),
		row.KeyValues{"name": types.NewString(fmt.Sprintf("%s%s", "ann", "ette"))})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 row updated, got %d (%v)", n, err)
	}
	rows = mustSelect(t, db, query.New(e).Where(query.Where("name", query.OpEqual, types.NewString("annette"))))
	if len(rows) != 1 || rows[0].ID() != 1 {
		t.Errorf("expected row 1 renamed, got %d rows", len(rows))
	}
}

func findKey(pairs []index.Pair, key string) (uint32, bool) {
	for _, p := range pairs {
		if p.Key.String() == key {
			return p.Block, true
		}
	}
	return 0, false
}

func TestAlterTable(t *testing.T) {
	db := createTestDB(t, testConfig(t))
	if err := db.AddTable("T", []entity.Attribute{intPK("id"), varchar("name", 10)}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertRows("T", []string{"name"}, [][]string{{"ann"}, {"bob"}}); err != nil {
		t.Fatal(err)
	}
	e, _ := db.Entity("T")

	active := entity.NewAttribute("active", types.TypeBool)
	active.HasDefault = true
	active.Default = types.NewBool(true)
	n, err := db.AlterTable("T", AlterAdd, active)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 rows rewritten, got %d (%v)", n, err)
	}
	rows := mustSelect(t, db, query.New(e).Where(query.Where("active", query.OpEqual, types.NewBool(true))))
	if len(rows) != 2 {
		t.Errorf("expected both rows to carry the default, got %d", len(rows))
	}

	n, err = db.AlterTable("T", AlterDrop, entity.Attribute{Name: "name"})
	if err != nil || n != 2 {
		t.Fatalf("expected 2 rows rewritten, got %d (%v)", n, err)
	}
	for _, r := range mustSelect(t, db, query.New(e)) {
		if _, ok := r.Field("name"); ok {
			t.Errorf("row %d still has the dropped field", r.ID())
		}
	}

	if _, err := db.AlterTable("T", AlterDrop, entity.Attribute{Name: "id"}); !errors.Is(err, ErrPrimaryKey) {
		t.Errorf("expected ErrPrimaryKey, got %v", err)
	}
	if _, err := db.AlterTable("T", AlterDrop, entity.Attribute{Name: "nope"}); !errors.Is(err, ErrUnknownAttribute) {
		t.Errorf("expected ErrUnknownAttribute, got %v", err)
	}
	if _, err := db.AlterTable("X", AlterAdd, active); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("expected ErrUnknownTable, got %v", err)
	}
}

func TestInsertValidation(t *testing.T) {
	db := createTestDB(t, testConfig(t))

	email := varchar("email", 32)
	email.Nullable = false
	if err := db.AddTable("T", []entity.Attribute{intPK("id"), email}); err != nil {
		t.Fatal(err)
	}

	if _, err := db.InsertRows("T", []string{"id"}, [][]string{{"1"}}); !errors.Is(err, ErrMissingValue) {
		t.Errorf("expected ErrMissingValue, got %v", err)
	}
	if _, err := db.InsertRows("T", []string{"age"}, [][]string{{"1"}}); !errors.Is(err, ErrUnknownAttribute) {
		t.Errorf("expected ErrUnknownAttribute, got %v", err)
	}
	if _, err := db.InsertRows("X", []string{"id"}, [][]string{{"1"}}); KindOf(err) != KindUnknownTable {
		t.Errorf("expected unknown table kind, got %v", KindOf(err))
	}
	if _, err := db.InsertRows("T", []string{"email"}, [][]string{{"a", "b"}}); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}

	if err := db.AddTable("U", []entity.Attribute{entity.NewAttribute("flag", types.TypeBool)}); !errors.Is(err, ErrNoPrimaryKey) {
		t.Errorf("expected ErrNoPrimaryKey, got %v", err)
	}
}

func TestSelectOrderingAndLimit(t *testing.T) {
	db := createTestDB(t, testConfig(t))
	if err := db.AddTable("T", []entity.Attribute{intPK("id"), varchar("name", 10)}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertRows("T", []string{"name"}, [][]string{{"dan"}, {"ann"}, {"cid"}, {"bob"}}); err != nil {
		t.Fatal(err)
	}
	e, _ := db.Entity("T")

	// the limit applies to the primary-key walk, before ordering
	rows := mustSelect(t, db, query.New(e).Order("name", false).WithLimit(2))
	if len(rows) != 2 || field(t, rows[0], "name").Str() != "ann" || field(t, rows[1], "name").Str() != "dan" {
		t.Errorf("expected [ann dan], got %v", rows)
	}

	rows = mustSelect(t, db, query.New(e).Select("name").Order("name", true).WithOffset(1))
	if len(rows) != 3 || field(t, rows[0], "name").Str() != "cid" {
		t.Errorf("expected [cid bob ann], got %v", rows)
	}
	if _, ok := rows[0].Field("id"); ok {
		t.Error("projection should drop unselected fields")
	}

	if rows := mustSelect(t, db, query.New(e).WithLimit(0)); len(rows) != 0 {
		t.Errorf("limit 0 should return no rows, got %d", len(rows))
	}

	if _, err := db.SelectRows(nil); KindOf(err) != KindUnknownCommand {
		t.Errorf("expected unknown command kind, got %v", err)
	}
}

func TestDebugDump(t *testing.T) {
	db := createTestDB(t, testConfig(t))
	if err := db.AddTable("T", []entity.Attribute{intPK("id")}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertRows("T", []string{}, [][]string{{}}); err != nil {
		t.Fatal(err)
	}

	dump, err := db.DebugDump()
	if err != nil {
		t.Fatal(err)
	}
	if len(dump) < 4 {
		t.Fatalf("expected meta, entity, index and data blocks, got %d", len(dump))
	}
	if dump[0].Header.Type != block.TypeMeta {
		t.Errorf("block 0 should be the meta block, got %s", dump[0].Header.Type)
	}
	seen := map[block.Type]bool{}
	for i, info := range dump {
		if info.Number != uint32(i) {
			t.Errorf("dump out of order at %d: %d", i, info.Number)
		}
		seen[info.Header.Type] = true
	}
	for _, typ := range []block.Type{block.TypeEntity, block.TypeIndex, block.TypeData} {
		if !seen[typ] {
			t.Errorf("expected a %s block in the dump", typ)
		}
	}

	st := db.Stats()
	if st["insert_ops"] != uint64(1) {
		t.Errorf("expected 1 tracked insert, got %v", st["insert_ops"])
	}
}

func TestKindOf(t *testing.T) {
	cases := map[error]ErrorKind{
		nil:                                   KindNone,
		fmt.Errorf("x: %w", ErrUnknownTable):  KindUnknownTable,
		fmt.Errorf("x: %w", ErrTableExists):   KindTableExists,
		fmt.Errorf("x: %w", ErrDuplicateKey):  KindInvalid,
		fmt.Errorf("x: %w", ErrClosed):        KindClosed,
		errors.New("something else entirely"): KindOther,
	}
	for err, want := range cases {
		if got := KindOf(err); got != want {
			t.Errorf("KindOf(%v) = %s, want %s", err, got, want)
		}
	}
}
