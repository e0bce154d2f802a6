// Package schema parses user event field descriptions into typed,
// fixed-offset field layouts.
//
// A registration command has the form:
//
//	name[:flag[,flag...]] [field[;field...]]
//
// and each field is "type name" (or "struct name size" for opaque
// structs). Supported scalar types are the fixed-width s8..s64/u8..u64
// family plus their C spellings, char, byte arrays such as char[20],
// and the dynamic-location forms "__data_loc type" and "__rel_loc
// type" whose payload bytes live past the fixed region behind a packed
// 32-bit (offset, size) word.
//
// Parsing produces the ordered field list, the minimum payload size a
// writer must supply, a print format string for consumers, and a list
// of payload validators for the dynamic-location fields. Schemas are
// immutable once parsed and safe for concurrent use.
package schema
