package schema

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Limits on event descriptions.
const (
	// MaxDescLen is the maximum length of a registration command.
	MaxDescLen = 512

	// MaxFieldArraySize is the maximum element count of an array field.
	MaxFieldArraySize = 1024
)

// Sentinel errors for parsing and validation.
var (
	// ErrEmptyName indicates a command with no event name.
	ErrEmptyName = errors.New("event name required")

	// ErrDescTooLong indicates the command exceeds MaxDescLen.
	ErrDescTooLong = errors.New("event description too long")

	// ErrUnknownType indicates a field type that is not supported.
	ErrUnknownType = errors.New("unknown field type")

	// ErrArrayTooLarge indicates an array field above MaxFieldArraySize.
	ErrArrayTooLarge = errors.New("array field too large")

	// ErrBadField indicates a field that does not match "type name".
	ErrBadField = errors.New("malformed field")

	// ErrFlagUnsupported indicates a name flag; none are supported.
	ErrFlagUnsupported = errors.New("unsupported event flag")

	// ErrSpanOutOfBounds indicates a dynamic field span past the record end.
	ErrSpanOutOfBounds = errors.New("dynamic field span out of bounds")

	// ErrMissingNUL indicates a dynamic string without NUL termination.
	ErrMissingNUL = errors.New("dynamic string not NUL terminated")
)

// ParseError wraps a field-level parse failure with its position.
type ParseError struct {
	// Field is the raw field text that failed to parse.
	Field string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Field is one typed member of an event payload.
type Field struct {
	// Type is the declared type text, e.g. "u32" or "char[20]".
	Type string
	// Name is the field name.
	Name string
	// Offset is the byte offset from the start of the payload.
	Offset int
	// Size is the byte size of the fixed portion of the field.
	Size int
	// Signed reports whether the field is signed.
	Signed bool
}

// ValidatorFlag selects which checks a Validator performs.
type ValidatorFlag uint8

// Validator flag bits.
const (
	// EnsureNUL requires the last byte of the dynamic span to be zero.
	EnsureNUL ValidatorFlag = 1 << 0
	// RelativeLoc resolves the span relative to the end of the loc word.
	RelativeLoc ValidatorFlag = 1 << 1
)

// Validator checks one dynamic-location field of an emitted payload.
// The 32-bit word at Offset packs the span as (size << 16) | offset.
type Validator struct {
	Offset int
	Flags  ValidatorFlag
}

// Schema is the parsed, immutable layout of an event payload.
type Schema struct {
	fields     []Field
	validators []Validator
	minSize    int
	printFmt   string
}

// Fields returns the fields in declaration order.
// The returned slice must not be modified.
func (s *Schema) Fields() []Field { return s.fields }

// Validators returns the payload validators in field order.
func (s *Schema) Validators() []Validator { return s.validators }

// MinSize returns the minimum payload size in bytes a writer must supply.
func (s *Schema) MinSize() int { return s.minSize }

// PrintFormat returns the generated consumer format string.
func (s *Schema) PrintFormat() string { return s.printFmt }

// Matches reports whether two schemas declare the same payload layout,
// field for field.
func (s *Schema) Matches(other *Schema) bool {
	if len(s.fields) != len(other.fields) {
		return false
	}
	for i, f := range s.fields {
		if f != other.fields[i] {
			return false
		}
	}
	return true
}

// SplitCommand splits a registration command into the event name and
// the field description. Name flags (a ":flag" suffix on the name) are
// rejected since none are supported.
func SplitCommand(cmd string) (name, fieldSpec string, err error) {
	cmd = strings.TrimSpace(cmd)

	if len(cmd) > MaxDescLen {
		return "", "", ErrDescTooLong
	}

	name = cmd
	if i := strings.IndexByte(cmd, ' '); i >= 0 {
		name = cmd[:i]
		fieldSpec = strings.TrimSpace(cmd[i+1:])
	}

	if i := strings.IndexByte(name, ':'); i >= 0 {
		return "", "", fmt.Errorf("%w: %q", ErrFlagUnsupported, name[i+1:])
	}

	if name == "" {
		return "", "", ErrEmptyName
	}

	return name, fieldSpec, nil
}

// Parse parses a semicolon-separated field description into a Schema.
// An empty description yields a schema with no fields and MinSize 0.
func Parse(fieldSpec string) (*Schema, error) {
	s := &Schema{}
	offset := 0

	if strings.TrimSpace(fieldSpec) != "" {
		for _, raw := range strings.Split(fieldSpec, ";") {
			if err := s.parseField(raw, &offset); err != nil {
				return nil, &ParseError{Field: strings.TrimSpace(raw), Err: err}
			}
		}
	}

	s.printFmt = buildPrintFormat(s.fields)

	return s, nil
}

// typePrefixes are the multi-word type prefixes that must be consumed
// before splitting the remainder on spaces. Order matters: longer
// prefixes first.
var typePrefixes = []struct {
	prefix   string
	isStruct bool
}{
	{"__data_loc unsigned ", false},
	{"__rel_loc unsigned ", false},
	{"__data_loc ", false},
	{"__rel_loc ", false},
	{"unsigned ", false},
	{"struct ", true},
}

func (s *Schema) parseField(raw string, offset *int) error {
	text := strings.TrimSpace(raw)

	if text == "" {
		return nil
	}

	var (
		typ      string
		rest     = text
		isStruct bool
	)

	for _, p := range typePrefixes {
		if strings.HasPrefix(text, p.prefix) {
			i := strings.IndexByte(text[len(p.prefix):], ' ')
			if i < 0 {
				return ErrBadField
			}
			typ = text[:len(p.prefix)+i]
			rest = text[len(p.prefix)+i+1:]
			isStruct = p.isStruct
			break
		}
	}

	parts := strings.Fields(rest)

	var name string
	size := -1

	switch {
	case typ == "" && len(parts) == 2:
		typ, name = parts[0], parts[1]
	case typ != "" && len(parts) == 1:
		if isStruct {
			// Opaque structs need an explicit byte size.
			return ErrBadField
		}
		name = parts[0]
	case typ != "" && len(parts) == 2 && isStruct:
		// Opaque struct with an explicit byte size.
		name = parts[0]
		n, err := strconv.Atoi(parts[1])
		if err != nil || n <= 0 {
			return ErrBadField
		}
		size = n
	default:
		return ErrBadField
	}

	if size < 0 {
		var err error
		size, err = fieldSize(typ)
		if err != nil {
			return err
		}
	}

	s.addField(typ, name, *offset, size)
	*offset += size

	return nil
}

// addField appends a field and, for dynamic-location types, the
// matching payload validator.
func (s *Schema) addField(typ, name string, offset, size int) {
	var flags ValidatorFlag
	dynamic := false

	switch {
	case strings.HasPrefix(typ, "__data_loc "):
		dynamic = true
	case strings.HasPrefix(typ, "__rel_loc "):
		dynamic = true
		flags |= RelativeLoc
	}

	if dynamic {
		if strings.Contains(typ, "char") {
			flags |= EnsureNUL
		}
		s.validators = append(s.validators, Validator{Offset: offset, Flags: flags})
	}

	s.fields = append(s.fields, Field{
		Type:   typ,
		Name:   name,
		Offset: offset,
		Size:   size,
		Signed: typ[0] != 'u',
	})

	s.minSize = offset + size
}

// fieldSize returns the byte size of a supported type.
// "long" is deliberately absent: its size is ambiguous across callers.
func fieldSize(typ string) (int, error) {
	switch typ {
	case "s64", "u64":
		return 8, nil
	case "s32", "u32", "int", "unsigned int":
		return 4, nil
	case "s16", "u16", "short", "unsigned short":
		return 2, nil
	case "s8", "u8", "char", "unsigned char":
		return 1, nil
	}

	if strings.HasPrefix(typ, "char[") || strings.HasPrefix(typ, "unsigned char[") {
		return arraySize(typ)
	}

	// Dynamic-location fields occupy one packed loc word.
	if strings.HasPrefix(typ, "__data_loc ") || strings.HasPrefix(typ, "__rel_loc ") {
		return 4, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownType, typ)
}

// arraySize extracts N from a "char[N]"-style type.
func arraySize(typ string) (int, error) {
	open := strings.IndexByte(typ, '[')
	closing := strings.IndexByte(typ, ']')

	if open < 0 || closing < open+2 || closing != len(typ)-1 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}

	n, err := strconv.Atoi(typ[open+1 : closing])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}

	if n > MaxFieldArraySize {
		return 0, ErrArrayTooLarge
	}

	return n, nil
}

// Validate runs every validator against an emitted payload. The caller
// must already have checked len(data) >= MinSize. A nil return means
// every dynamic span lies within the record and every dynamic string
// is NUL terminated.
func (s *Schema) Validate(data []byte) error {
	end := len(data)

	for _, v := range s.validators {
		if v.Offset+4 > end {
			return ErrSpanOutOfBounds
		}

		loc := binary.LittleEndian.Uint32(data[v.Offset:])
		offset := int(loc & 0xffff)
		size := int(loc >> 16)

		var pos int
		if v.Flags&RelativeLoc != 0 {
			pos = v.Offset + 4 + offset
		} else {
			pos = offset
		}
		pos += size

		if pos > end {
			return ErrSpanOutOfBounds
		}

		if v.Flags&EnsureNUL != 0 {
			if size == 0 || pos == 0 || data[pos-1] != 0 {
				return ErrMissingNUL
			}
		}
	}

	return nil
}
