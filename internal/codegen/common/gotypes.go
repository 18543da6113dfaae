package common

import (
	"strings"
)

// GoType is the Go-side rendering of one C type in a cgo wrapper.
type GoType struct {
	// Go is the type used in the wrapper signature. Empty for void.
	Go string
	// C is the cgo spelling, e.g. "C.uint16_t" or "**C.struct_rte_mbuf".
	C       string
	Pointer bool
}

func (t GoType) IsVoid() bool { return t.Go == "" }

// ToC converts Go expression v to the cgo type.
func (t GoType) ToC(v string) string {
	if t.Pointer {
		if t.Go == "unsafe.Pointer" {
			return "(" + t.C + ")(" + v + ")"
		}
		return "(" + t.C + ")(unsafe.Pointer(" + v + "))"
	}
	return t.C + "(" + v + ")"
}

// FromC converts cgo expression v back to the wrapper type.
func (t GoType) FromC(v string) string {
	switch {
	case t.Go == "unsafe.Pointer":
		return "unsafe.Pointer(" + v + ")"
	case t.Pointer:
		return "(" + t.Go + ")(unsafe.Pointer(" + v + "))"
	}
	return t.Go + "(" + v + ")"
}

type scalar struct{ goType, cgo string }

// scalars covers the LP64 C scalars and the DPDK scalar typedefs.
var scalars = map[string]scalar{
	"int8_t":             {"int8", "C.int8_t"},
	"uint8_t":            {"uint8", "C.uint8_t"},
	"int16_t":            {"int16", "C.int16_t"},
	"uint16_t":           {"uint16", "C.uint16_t"},
	"int32_t":            {"int32", "C.int32_t"},
	"uint32_t":           {"uint32", "C.uint32_t"},
	"int64_t":            {"int64", "C.int64_t"},
	"uint64_t":           {"uint64", "C.uint64_t"},
	"uintptr_t":          {"uintptr", "C.uintptr_t"},
	"size_t":             {"uint", "C.size_t"},
	"ssize_t":            {"int", "C.ssize_t"},
	"char":               {"int8", "C.char"},
	"signed char":        {"int8", "C.schar"},
	"unsigned char":      {"uint8", "C.uchar"},
	"short":              {"int16", "C.short"},
	"unsigned short":     {"uint16", "C.ushort"},
	"int":                {"int32", "C.int"},
	"unsigned int":       {"uint32", "C.uint"},
	"long":               {"int64", "C.long"},
	"unsigned long":      {"uint64", "C.ulong"},
	"long long":          {"int64", "C.longlong"},
	"unsigned long long": {"uint64", "C.ulonglong"},
	"float":              {"float32", "C.float"},
	"double":             {"float64", "C.double"},
	"bool":               {"bool", "C.bool"},
	"_Bool":              {"bool", "C.bool"},
	"rte_iova_t":         {"uint64", "C.rte_iova_t"},
	"rte_be16_t":         {"uint16", "C.rte_be16_t"},
	"rte_be32_t":         {"uint32", "C.rte_be32_t"},
	"rte_be64_t":         {"uint64", "C.rte_be64_t"},
	"rte_le16_t":         {"uint16", "C.rte_le16_t"},
	"rte_le32_t":         {"uint32", "C.rte_le32_t"},
	"rte_le64_t":         {"uint64", "C.rte_le64_t"},
}

var qualifiers = map[string]bool{
	"const": true, "volatile": true, "restrict": true, "__restrict": true, "__restrict__": true,
}

// normalizeScalar folds the spellings of the same C scalar type, e.g.
// "unsigned" and "unsigned int", "long int" and "long".
func normalizeScalar(words []string) string {
	s := strings.Join(words, " ")
	switch s {
	case "unsigned":
		return "unsigned int"
	case "signed", "signed int":
		return "int"
	}
	if strings.HasSuffix(s, " int") && (strings.Contains(s, "short") || strings.Contains(s, "long")) {
		s = strings.TrimSuffix(s, " int")
	}
	return strings.TrimPrefix(s, "signed ")
}

// MapCType maps a C type spelling ("const struct rte_mbuf *", "uint16_t")
// to its wrapper rendering. structType resolves a struct tag to the Go
// name of its generated layout; pointers to structs it does not know
// become unsafe.Pointer. Function pointers do not map.
func MapCType(ctype string, structType func(tag string) (string, bool)) (GoType, bool) {
	if strings.ContainsAny(ctype, "()[]") {
		return GoType{}, false
	}
	stars := strings.Count(ctype, "*")
	var words []string
	for _, w := range strings.Fields(strings.ReplaceAll(ctype, "*", " ")) {
		if !qualifiers[w] {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return GoType{}, false
	}
	ptr := strings.Repeat("*", stars)

	switch words[0] {
	case "void":
		if len(words) != 1 {
			return GoType{}, false
		}
		switch stars {
		case 0:
			return GoType{}, true
		case 1:
			return GoType{Go: "unsafe.Pointer", C: "unsafe.Pointer", Pointer: true}, true
		default:
			p := strings.Repeat("*", stars-1)
			return GoType{Go: p + "unsafe.Pointer", C: p + "unsafe.Pointer", Pointer: true}, true
		}
	case "struct", "union":
		if len(words) != 2 || stars == 0 {
			// by-value aggregates stay with C. callers
			return GoType{}, false
		}
		cgo := ptr + "C." + words[0] + "_" + words[1]
		if words[0] == "struct" {
			if name, ok := structType(words[1]); ok {
				return GoType{Go: ptr + name, C: cgo, Pointer: true}, true
			}
		}
		return GoType{Go: "unsafe.Pointer", C: cgo, Pointer: true}, true
	case "enum":
		if len(words) != 2 {
			return GoType{}, false
		}
		if stars > 0 {
			return GoType{Go: "unsafe.Pointer", C: ptr + "C.enum_" + words[1], Pointer: true}, true
		}
		return GoType{Go: "uint32", C: "C.enum_" + words[1]}, true
	}

	sc, ok := scalars[normalizeScalar(words)]
	if !ok {
		return GoType{}, false
	}
	if stars > 0 {
		return GoType{Go: ptr + sc.goType, C: ptr + sc.cgo, Pointer: true}, true
	}
	return GoType{Go: sc.goType, C: sc.cgo}, true
}
