package engine

import "strings"

// Kind is the closed set of concrete storage kinds a declared field type can
// map to. Unknown declared tokens fall back to KindMixed rather than failing
// the compile.
type Kind string

const (
	KindString   Kind = "string"
	KindSymbol   Kind = "symbol"
	KindCode     Kind = "code"
	KindNumber   Kind = "number"
	KindDecimal  Kind = "decimal"
	KindBool     Kind = "bool"
	KindDate     Kind = "date"
	KindObjectID Kind = "objectid"
	KindBinary   Kind = "binary"
	KindMap      Kind = "map"
	KindRegex    Kind = "regex"
	KindObject   Kind = "object"
	KindArray    Kind = "array"
	KindMixed    Kind = "mixed"
	KindNull     Kind = "null"
)

// ConcreteType is a resolved storage type. Elem is set for arrays only; a nil
// Elem means an untyped array.
type ConcreteType struct {
	Kind Kind
	Elem *ConcreteType
}

// IsNumeric covers every kind the numeric filter prefixes apply to.
func (t ConcreteType) IsNumeric() bool {
	return t.Kind == KindNumber || t.Kind == KindDecimal
}

// IsText covers the string-backed kinds keyword search and case-insensitive
// exact matching target.
func (t ConcreteType) IsText() bool {
	return t.Kind == KindString || t.Kind == KindSymbol || t.Kind == KindCode
}

// IsPatternTarget covers the kinds the contains prefix can regex-match:
// stored patterns, binary payloads and the code-ish string kinds.
func (t ConcreteType) IsPatternTarget() bool {
	return t.Kind == KindRegex || t.Kind == KindBinary ||
		t.Kind == KindSymbol || t.Kind == KindCode
}

var typeTable = map[string]Kind{
	"string":              KindString,
	"symbol":              KindSymbol,
	"javascript":          KindCode,
	"javascriptwithscope": KindCode,
	"enum":                KindString,
	"number":              KindNumber,
	"int":                 KindNumber,
	"int32":               KindNumber,
	"int64":               KindNumber,
	"long":                KindNumber,
	"float":               KindNumber,
	"double":              KindNumber,
	"decimal":             KindDecimal,
	"decimal128":          KindDecimal,
	"boolean":             KindBool,
	"bool":                KindBool,
	"date":                KindDate,
	"timestamp":           KindDate,
	"objectid":            KindObjectID,
	"oid":                 KindObjectID,
	"relation":            KindObjectID,
	"uuid":                KindBinary,
	"binary":              KindBinary,
	"bin":                 KindBinary,
	"buffer":              KindBinary,
	"map":                 KindMap,
	"regexp":              KindRegex,
	"regex":               KindRegex,
	"object":              KindObject,
	"array":               KindArray,
	"mixed":               KindMixed,
	"any":                 KindMixed,
	"minkey":              KindMixed,
	"maxkey":              KindMixed,
	"null":                KindNull,
	"undefined":           KindNull,
}

// MapType resolves a declared type token (and, for arrays, its item token) to
// a concrete type. The second return reports whether the token was known;
// unknown tokens resolve to mixed and the caller decides whether to warn.
func MapType(declared, item string) (ConcreteType, bool) {
	kind, known := typeTable[strings.ToLower(declared)]
	if !known {
		return ConcreteType{Kind: KindMixed}, false
	}
	if kind == KindArray {
		if item == "" {
			return ConcreteType{Kind: KindArray}, true
		}
		elem, elemKnown := MapType(item, "")
		return ConcreteType{Kind: KindArray, Elem: &elem}, elemKnown
	}
	return ConcreteType{Kind: kind}, true
}
