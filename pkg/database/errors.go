package database

import (
	"errors"

	"github.com/KevoDB/blockdb/pkg/entity"
	"github.com/KevoDB/blockdb/pkg/index"
	"github.com/KevoDB/blockdb/pkg/query"
	"github.com/KevoDB/blockdb/pkg/storage"
	"github.com/KevoDB/blockdb/pkg/types"
)

var (
	ErrTableExists    = errors.New("table already exists")
	ErrUnknownTable   = errors.New("unknown table")
	ErrUnknownEntity  = errors.New("unknown entity")
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoPrimaryKey   = errors.New("table has no usable primary key")
	ErrMissingValue   = errors.New("missing value for non-nullable attribute")
	ErrIndexExists    = errors.New("index already exists")
	ErrUnknownIndex   = errors.New("unknown index")
	ErrPrimaryKey     = errors.New("operation not allowed on the primary key")
	// ErrClosed is returned when operations are performed on a closed database
	ErrClosed = errors.New("database is closed")

	// ErrUnknownDatabase is returned when a database file does not exist
	ErrUnknownDatabase = errors.New("unknown database")
	// ErrDatabaseExists is returned when creating over an existing database file
	ErrDatabaseExists = errors.New("database already exists")

	ErrUnknownAttribute = entity.ErrUnknownAttribute
	ErrAttributeExists  = entity.ErrAttributeExists
	ErrDuplicateKey     = index.ErrDuplicateKey
	ErrInvalidValue     = types.ErrInvalidValue
	ErrTypeMismatch     = types.ErrTypeMismatch
)

// ErrorKind classifies errors returned by database operations for callers
// that report a status code rather than inspect errors
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTableExists
	KindUnknownTable
	KindUnknownEntity
	KindUnknownDatabase
	KindUnknownAttribute
	KindUnknownCommand
	KindReadError
	KindWriteError
	KindInvalid
	KindClosed
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "no error"
	case KindTableExists:
		return "table exists"
	case KindUnknownTable:
		return "unknown table"
	case KindUnknownEntity:
		return "unknown entity"
	case KindUnknownDatabase:
		return "unknown database"
	case KindUnknownAttribute:
		return "unknown attribute"
	case KindUnknownCommand:
		return "unknown command"
	case KindReadError:
		return "read error"
	case KindWriteError:
		return "write error"
	case KindInvalid:
		return "invalid request"
	case KindClosed:
		return "closed"
	default:
		return "error"
	}
}

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrTableExists, KindTableExists},
	{ErrUnknownTable, KindUnknownTable},
	{ErrUnknownEntity, KindUnknownEntity},
	{ErrUnknownDatabase, KindUnknownDatabase},
	{storage.ErrNotFound, KindUnknownDatabase},
	{ErrUnknownAttribute, KindUnknownAttribute},
	{ErrUnknownCommand, KindUnknownCommand},
	{query.ErrNoEntity, KindUnknownCommand},
	{storage.ErrRead, KindReadError},
	{storage.ErrChecksum, KindReadError},
	{storage.ErrCorruptChain, KindReadError},
	{storage.ErrWrite, KindWriteError},
	{ErrClosed, KindClosed},
	{ErrAttributeExists, KindInvalid},
	{ErrDuplicateKey, KindInvalid},
	{ErrInvalidValue, KindInvalid},
	{ErrTypeMismatch, KindInvalid},
	{ErrMissingValue, KindInvalid},
	{ErrNoPrimaryKey, KindInvalid},
	{ErrIndexExists, KindInvalid},
	{ErrUnknownIndex, KindInvalid},
	{ErrPrimaryKey, KindInvalid},
	{query.ErrInvalidFilter, KindInvalid},
	{entity.ErrInvalidSchema, KindInvalid},
	{index.ErrKeyType, KindInvalid},
}

// KindOf returns the kind of err, KindNone for nil
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindOther
}
