package types

import (
	"errors"
	"testing"

	"github.com/KevoDB/blockdb/pkg/common/codec"
)

func TestParseValue(t *testing.T) {
	testCases := []struct {
		name   string
		typ    DataType
		length uint32
		raw    string
		want   Value
	}{
		{"bool zero", TypeBool, 0, "0", NewBool(false)},
		{"bool other", TypeBool, 0, "yes", NewBool(true)},
		{"int", TypeInt, 0, "42", NewInt(42)},
		{"negative int", TypeInt, 0, " -7", NewInt(-7)},
		{"float", TypeFloat, 0, "2.5", NewFloat(2.5)},
		{"varchar truncated", TypeVarchar, 3, "annabel", NewString("ann")},
		{"varchar unicode", TypeVarchar, 2, "żółw", NewString("żó")},
		{"varchar unbounded", TypeVarchar, 0, "annabel", NewString("annabel")},
		{"datetime", TypeDatetime, 0, "2024-01-02 03:04", NewString("2024-01-02 03:04")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseValue(tc.typ, tc.length, tc.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !Equal(got, tc.want) {
				t.Errorf("expected %v (%s), got %v (%s)", tc.want, tc.want.Kind(), got, got.Kind())
			}
		})
	}

	if _, err := ParseValue(TypeInt, 0, "abc"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}
	if _, err := ParseValue(TypeNone, 0, "x"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestCompareAcrossKinds(t *testing.T) {
	if _, ok := Compare(NewInt(1), NewString("1")); ok {
		t.Error("values of different kinds must be unordered")
	}
	if Equal(NewInt(1), NewFloat(1)) {
		t.Error("int and float must never compare equal")
	}

	ordered := [][2]Value{
		{NewBool(false), NewBool(true)},
		{NewInt(-3), NewInt(2)},
		{NewFloat(0.5), NewFloat(1.5)},
		{NewString("ann"), NewString("bob")},
	}
	for _, pair := range ordered {
		if c, ok := Compare(pair[0], pair[1]); !ok || c >= 0 {
			t.Errorf("expected %v < %v, got %d %v", pair[0], pair[1], c, ok)
		}
		if c, ok := Compare(pair[1], pair[0]); !ok || c <= 0 {
			t.Errorf("expected %v > %v, got %d %v", pair[1], pair[0], c, ok)
		}
		if !Equal(pair[0], pair[0]) {
			t.Errorf("expected %v to equal itself", pair[0])
		}
	}
}

func TestValueEncoding(t *testing.T) {
	values := []Value{NewBool(true), NewInt(-99), NewFloat(3.25), NewString("hello")}

	e := codec.NewEncoder(64)
	for _, v := range values {
		v.EncodeTo(e)
	}

	d := codec.NewDecoder(e.Bytes())
	for _, want := range values {
		got := DecodeValue(d)
		if !Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
	if d.Err() != nil || d.Remaining() != 0 {
		t.Errorf("unexpected decoder state: err=%v remaining=%d", d.Err(), d.Remaining())
	}

	bad := codec.NewDecoder([]byte{'x'})
	DecodeValue(bad)
	if !errors.Is(bad.Err(), ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", bad.Err())
	}
}

func TestParseDataType(t *testing.T) {
	for name, want := range map[string]DataType{
		"int": TypeInt, "VARCHAR": TypeVarchar, "bool": TypeBool,
		"datetime": TypeDatetime, "float": TypeFloat,
	} {
		got, err := ParseDataType(name)
		if err != nil || got != want {
			t.Errorf("ParseDataType(%q) = %s, %v", name, got, err)
		}
	}
	if _, err := ParseDataType("blob"); err == nil {
		t.Error("expected error for unknown type")
	}
	if KindFor(TypeDatetime) != KindString || KindFor(TypeInt) != KindInt {
		t.Error("unexpected kind mapping")
	}
}
