package schema

import "strings"

// buildPrintFormat generates the consumer-facing format string for a
// field list, e.g.:
//
//	"msg=%s id=%u", REC->msg, REC->id
//
// Dynamic string fields are referenced through the accessor that
// resolves their packed location word.
func buildPrintFormat(fields []Field) string {
	var b strings.Builder

	b.WriteByte('"')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(verbFor(f.Type))
	}
	b.WriteByte('"')

	for _, f := range fields {
		b.WriteString(", ")
		b.WriteString(argFor(f))
	}

	return b.String()
}

// verbFor maps a field type to its print verb.
func verbFor(typ string) string {
	switch typ {
	case "s64":
		return "%lld"
	case "u64":
		return "%llu"
	case "s32", "int", "s16", "short", "s8", "char":
		return "%d"
	case "u32", "unsigned int", "u16", "unsigned short", "u8", "unsigned char":
		return "%u"
	}

	if strings.Contains(typ, "char[") || (isDynamic(typ) && strings.Contains(typ, "char")) {
		return "%s"
	}

	// Unknown, likely an opaque struct. Print as a 64-bit value.
	return "%llu"
}

// argFor maps a field to its argument reference.
func argFor(f Field) string {
	if isDynamic(f.Type) && strings.Contains(f.Type, "char") {
		if strings.HasPrefix(f.Type, "__rel_loc ") {
			return "__get_rel_str(" + f.Name + ")"
		}
		return "__get_str(" + f.Name + ")"
	}
	return "REC->" + f.Name
}

func isDynamic(typ string) bool {
	return strings.HasPrefix(typ, "__data_loc ") || strings.HasPrefix(typ, "__rel_loc ")
}
