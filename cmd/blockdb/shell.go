package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/KevoDB/blockdb/pkg/catalog"
	"github.com/KevoDB/blockdb/pkg/database"
	"github.com/KevoDB/blockdb/pkg/entity"
	"github.com/KevoDB/blockdb/pkg/query"
	"github.com/KevoDB/blockdb/pkg/row"
	"github.com/KevoDB/blockdb/pkg/types"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".create"),
	readline.PcItem(".open"),
	readline.PcItem(".close"),
	readline.PcItem(".drop"),
	readline.PcItem(".databases"),
	readline.PcItem(".tables"),
	readline.PcItem(".schema"),
	readline.PcItem(".indexes"),
	readline.PcItem(".addtable"),
	readline.PcItem(".droptable"),
	readline.PcItem(".insert"),
	readline.PcItem(".scan"),
	readline.PcItem(".dump"),
	readline.PcItem(".free"),
	readline.PcItem(".stats"),
	readline.PcItem(".flush"),
	readline.PcItem(".exit"),
)

const helpText = `
blockdb - diagnostic shell for block-structured database files

Commands:
  .help                          - Show this help message
  .create NAME                   - Create an empty database
  .open NAME                     - Open NAME and make it current
  .close                         - Close the current database
  .drop NAME                     - Delete a database file
  .databases                     - List databases in the storage directory
  .tables                        - List tables of the current database
  .schema TABLE                  - Show the attributes of TABLE
  .indexes                       - List indexes of the current database
  .addtable TABLE ATTR ...       - Create a table; ATTR is name:type[:pk][:auto][:notnull][:default=V]
                                   and type is int, bool, float, datetime or varchar(N)
  .droptable TABLE               - Drop a table and all of its rows
  .insert TABLE f=v [f=v ...]    - Insert one row
  .scan TABLE [f OP v] [limit N] - Print rows of TABLE, optionally filtered
  .dump [NAME]                   - Print every block header
  .free                          - List reusable block numbers
  .stats                         - Show operation statistics
  .flush                         - Write pending changes to disk
  .exit                          - Exit the program
`

var errUsage = errors.New("usage")

type shell struct {
	mgr *catalog.Manager
	out io.Writer
}

func newShell(mgr *catalog.Manager, out io.Writer) *shell {
	return &shell{mgr: mgr, out: out}
}

func (s *shell) prompt() string {
	if db, err := s.mgr.Current(); err == nil {
		return fmt.Sprintf("blockdb:%s> ", db.Name())
	}
	return "blockdb> "
}

// run reads commands until .exit or end of input
func (s *shell) run() error {
	fmt.Fprintf(s.out, "blockdb version %s\n", version)
	fmt.Fprintln(s.out, "Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".blockdb_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          s.prompt(),
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	for {
		rl.SetPrompt(s.prompt())

		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					return nil
				}
				continue
			} else if readErr == io.EOF {
				fmt.Fprintln(s.out, "Goodbye!")
				return nil
			}
			return readErr
		}

		quit, err := s.execute(line)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %s\n", err)
		}
		if quit {
			return nil
		}
	}
}

// execute runs a single command line. It reports whether the shell
// should exit.
func (s *shell) execute(line string) (bool, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false, nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case ".help":
		fmt.Fprint(s.out, helpText)
	case ".exit", ".quit":
		return true, nil
	case ".create":
		return false, s.create(args)
	case ".open":
		return false, s.open(args)
	case ".close":
		return false, s.mgr.Close()
	case ".drop":
		return false, s.drop(args)
	case ".databases":
		return false, s.databases()
	case ".tables":
		return false, s.tables()
	case ".schema":
		return false, s.schema(args)
	case ".indexes":
		return false, s.indexes()
	case ".addtable":
		return false, s.addTable(args)
	case ".droptable":
		return false, s.dropTable(args)
	case ".insert":
		return false, s.insert(args)
	case ".scan":
		return false, s.scan(args)
	case ".dump":
		return false, s.dump(args)
	case ".free":
		return false, s.free()
	case ".stats":
		return false, s.stats()
	case ".flush":
		return false, s.flush()
	default:
		return false, fmt.Errorf("%w: %s", database.ErrUnknownCommand, parts[0])
	}
	return false, nil
}

func (s *shell) create(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: .create NAME", errUsage)
	}
	if err := s.mgr.Create(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Created database %s\n", args[0])
	return nil
}

func (s *shell) open(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: .open NAME", errUsage)
	}
	db, err := s.mgr.Use(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Opened database %s (%d tables)\n", db.Name(), len(db.TableNames()))
	return nil
}

func (s *shell) drop(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: .drop NAME", errUsage)
	}
	n, err := s.mgr.Drop(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Dropped database %s (%d tables)\n", args[0], n)
	return nil
}

func (s *shell) databases() error {
	names, err := s.mgr.List()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(s.out, name)
	}
	return nil
}

func (s *shell) tables() error {
	db, err := s.mgr.Current()
	if err != nil {
		return err
	}
	for _, name := range db.TableNames() {
		block, _ := db.TableBlock(name)
		fmt.Fprintf(s.out, "%s (block %d)\n", name, block)
	}
	return nil
}

func (s *shell) schema(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: .schema TABLE", errUsage)
	}
	db, err := s.mgr.Current()
	if err != nil {
		return err
	}
	e, err := db.Entity(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "table %s (next id %d)\n", e.Name(), e.Increment())
	for _, a := range e.Attributes() {
		fmt.Fprintf(s.out, "  %s\n", a.String())
	}
	return nil
}

func (s *shell) indexes() error {
	db, err := s.mgr.Current()
	if err != nil {
		return err
	}
	for _, info := range db.Indexes() {
		pk := ""
		if info.PrimaryKey {
			pk = " primary"
		}
		fmt.Fprintf(s.out, "%s.%s %s%s block=%d keys=%d\n",
			info.Table, info.Field, info.KeyType, pk, info.Block, info.Keys)
	}
	return nil
}

func (s *shell) addTable(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: .addtable TABLE name:type[:pk] ...", errUsage)
	}
	db, err := s.mgr.Current()
	if err != nil {
		return err
	}

	attrs := make([]entity.Attribute, 0, len(args)-1)
	for _, arg := range args[1:] {
		a, err := parseAttribute(arg)
		if err != nil {
			return err
		}
		attrs = append(attrs, a)
	}
	if err := db.AddTable(args[0], attrs); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Created table %s\n", args[0])
	return nil
}

// parseAttribute reads name:type[:pk][:auto][:notnull][:default=V]
func parseAttribute(spec string) (entity.Attribute, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || parts[0] == "" {
		return entity.Attribute{}, fmt.Errorf("%w: expected name:type, got %q", errUsage, spec)
	}

	typeName, length := parts[1], uint32(0)
	if open := strings.IndexByte(typeName, '('); open > 0 && strings.HasSuffix(typeName, ")") {
		n, err := strconv.ParseUint(typeName[open+1:len(typeName)-1], 10, 32)
		if err != nil {
			return entity.Attribute{}, fmt.Errorf("%w: bad length in %q", errUsage, parts[1])
		}
		typeName, length = typeName[:open], uint32(n)
	}
	t, err := types.ParseDataType(typeName)
	if err != nil {
		return entity.Attribute{}, err
	}

	a := entity.NewAttribute(parts[0], t)
	a.Length = length
	for _, flag := range parts[2:] {
		switch key, value, _ := strings.Cut(flag, "="); strings.ToLower(key) {
		case "pk":
			a.PrimaryKey = true
			a.Nullable = false
		case "auto":
			a.AutoIncrement = true
		case "notnull":
			a.Nullable = false
		case "default":
			v, err := a.Convert(value)
			if err != nil {
				return entity.Attribute{}, err
			}
			a.HasDefault = true
			a.Default = v
		default:
			return entity.Attribute{}, fmt.Errorf("%w: unknown attribute flag %q", errUsage, flag)
		}
	}
	return a, nil
}

func (s *shell) dropTable(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: .droptable TABLE", errUsage)
	}
	db, err := s.mgr.Current()
	if err != nil {
		return err
	}
	n, err := db.DropTable(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Dropped table %s (%d rows)\n", args[0], n)
	return nil
}

func (s *shell) insert(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: .insert TABLE field=value ...", errUsage)
	}
	db, err := s.mgr.Current()
	if err != nil {
		return err
	}

	fields := make([]string, 0, len(args)-1)
	values := make([]string, 0, len(args)-1)
	for _, arg := range args[1:] {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return fmt.Errorf("%w: expected field=value, got %q", errUsage, arg)
		}
		fields = append(fields, name)
		values = append(values, value)
	}

	n, err := db.InsertRows(args[0], fields, [][]string{values})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Inserted %d row(s)\n", n)
	return nil
}

// scan parses: TABLE [field op value] [limit N]
func (s *shell) scan(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: .scan TABLE [field op value] [limit N]", errUsage)
	}
	db, err := s.mgr.Current()
	if err != nil {
		return err
	}
	e, err := db.Entity(args[0])
	if err != nil {
		return err
	}

	q := query.New(e)
	rest := args[1:]
	if len(rest) >= 3 && !strings.EqualFold(rest[0], "limit") {
		attr, ok := e.Attribute(rest[0])
		if !ok {
			return fmt.Errorf("%w: %s", database.ErrUnknownAttribute, rest[0])
		}
		op, err := query.ParseOperator(rest[1])
		if err != nil {
			return err
		}
		v, err := attr.Convert(rest[2])
		if err != nil {
			return err
		}
		q.Where(query.Where(attr.Name, op, v))
		rest = rest[3:]
	}
	if len(rest) > 0 {
		if len(rest) != 2 || !strings.EqualFold(rest[0], "limit") {
			return fmt.Errorf("%w: .scan TABLE [field op value] [limit N]", errUsage)
		}
		n, err := strconv.Atoi(rest[1])
		if err != nil || n < 0 {
			return fmt.Errorf("%w: invalid limit %q", errUsage, rest[1])
		}
		q.WithLimit(n)
	}

	rows, err := db.SelectRows(q)
	if err != nil {
		return err
	}
	for _, r := range rows {
		fmt.Fprintln(s.out, formatRow(r))
	}
	fmt.Fprintf(s.out, "%d row(s)\n", len(rows))
	return nil
}

func formatRow(r *row.Row) string {
	names := r.Fields.Names()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+r.Fields[name].String())
	}
	return fmt.Sprintf("[%d] %s", r.BlockNum, strings.Join(parts, " "))
}

func (s *shell) dump(args []string) error {
	var name string
	switch len(args) {
	case 0:
		db, err := s.mgr.Current()
		if err != nil {
			return err
		}
		name = db.Name()
	case 1:
		name = args[0]
	default:
		return fmt.Errorf("%w: .dump [NAME]", errUsage)
	}

	blocks, err := s.mgr.Dump(name)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		h := b.Header
		fmt.Fprintf(s.out, "%4d %-7s id=%d ref=%d size=%d pos=%d/%d next=%d codec=%d\n",
			b.Number, h.Type, h.ID, h.RefID, h.Size, h.Pos, h.Count, h.Next, h.Flags)
	}
	return nil
}

func (s *shell) free() error {
	db, err := s.mgr.Current()
	if err != nil {
		return err
	}
	free := db.FreeBlocks()
	fmt.Fprintf(s.out, "%d free block(s) %v\n", len(free), free)
	return nil
}

func (s *shell) stats() error {
	db, err := s.mgr.Current()
	if err != nil {
		return err
	}
	all := db.Stats()
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(s.out, "%s: %v\n", k, all[k])
	}
	return nil
}

func (s *shell) flush() error {
	db, err := s.mgr.Current()
	if err != nil {
		return err
	}
	if err := db.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Flushed")
	return nil
}
