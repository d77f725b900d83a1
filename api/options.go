// File: api/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Option identifiers and the tagged value used to set them. Every option id
// encodes its type class in its range; a Value is only accepted by an option
// whose class admits the value's kind.

package api

import "fmt"

// TypeClass is the declared value class of an option, derived from its id.
type TypeClass int

const (
	ClassLong     TypeClass = 0
	ClassObject   TypeClass = 10000
	ClassFunction TypeClass = 20000
	ClassOffset   TypeClass = 30000
	ClassString   TypeClass = 40000
	ClassList     TypeClass = 50000
)

func (c TypeClass) String() string {
	switch c {
	case ClassLong:
		return "long"
	case ClassObject:
		return "object"
	case ClassFunction:
		return "function"
	case ClassOffset:
		return "offset"
	case ClassString:
		return "string"
	case ClassList:
		return "list"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Accepts reports whether a value of kind k may be stored in an option of class c.
func (c TypeClass) Accepts(k Kind) bool {
	switch c {
	case ClassLong:
		return k == KindLong || k == KindBool
	case ClassOffset:
		return k == KindOffset || k == KindLong
	case ClassString:
		return k == KindString
	case ClassList:
		return k == KindList
	case ClassObject:
		return k == KindObject || k == KindBytes
	default:
		return false
	}
}

func classOf(id int) TypeClass { return TypeClass(id / 10000 * 10000) }

// Option identifies a transfer option.
type Option int

// Class returns the option's declared type class.
func (o Option) Class() TypeClass { return classOf(int(o)) }

const (
	OptVerbose          = Option(int(ClassLong) + 41)
	OptNoBody           = Option(int(ClassLong) + 44)
	OptUpload           = Option(int(ClassLong) + 46)
	OptPost             = Option(int(ClassLong) + 47)
	OptFollowLocation   = Option(int(ClassLong) + 52)
	OptHTTPGet          = Option(int(ClassLong) + 80)
	OptBufferSize       = Option(int(ClassLong) + 98)
	OptNoSignal         = Option(int(ClassLong) + 99)
	OptTimeoutMS        = Option(int(ClassLong) + 155)
	OptConnectTimeoutMS = Option(int(ClassLong) + 156)

	OptPostFields = Option(int(ClassObject) + 15)
	OptPrivate    = Option(int(ClassObject) + 103)

	OptWriteFunction    = Option(int(ClassFunction) + 11)
	OptReadFunction     = Option(int(ClassFunction) + 12)
	OptProgressFunction = Option(int(ClassFunction) + 56)
	OptHeaderFunction   = Option(int(ClassFunction) + 79)
	OptDebugFunction    = Option(int(ClassFunction) + 94)

	OptInFileSize  = Option(int(ClassOffset) + 115)
	OptMaxFileSize = Option(int(ClassOffset) + 117)

	OptURL           = Option(int(ClassString) + 2)
	OptUserAgent     = Option(int(ClassString) + 18)
	OptCustomRequest = Option(int(ClassString) + 36)

	OptHTTPHeader = Option(int(ClassList) + 23)
)

// MultiOption identifies a multiplexer option.
type MultiOption int

// Class returns the option's declared type class.
func (o MultiOption) Class() TypeClass { return classOf(int(o)) }

const (
	MultiOptPipelining           = MultiOption(int(ClassLong) + 3)
	MultiOptMaxConnects          = MultiOption(int(ClassLong) + 6)
	MultiOptMaxHostConnections   = MultiOption(int(ClassLong) + 7)
	MultiOptMaxPipelineLength    = MultiOption(int(ClassLong) + 8)
	MultiOptMaxTotalConnections  = MultiOption(int(ClassLong) + 13)
	MultiOptMaxConcurrentStreams = MultiOption(int(ClassLong) + 16)
)

// Pipelining modes for MultiOptPipelining.
const (
	PipeNothing   = 0
	PipeHTTP1     = 1
	PipeMultiplex = 2
)

// InfoID identifies a transfer information field. The high bits carry the
// value type.
type InfoID int

const (
	InfoString InfoID = 0x100000
	InfoLong   InfoID = 0x200000
	InfoDouble InfoID = 0x300000
	InfoList   InfoID = 0x400000
	InfoSocket InfoID = 0x500000

	InfoTypeMask InfoID = 0xf00000
)

// Type returns the value type bits of the id.
func (i InfoID) Type() InfoID { return i & InfoTypeMask }

const (
	InfoEffectiveURL = InfoString + 1
	InfoResponseCode = InfoLong + 2
	InfoTotalTime    = InfoDouble + 3
	InfoSizeDownload = InfoDouble + 8
	InfoHeaderSize   = InfoLong + 11
	InfoPrimaryIP    = InfoString + 32
	InfoActiveSocket = InfoSocket + 44
)

// Kind is the variant tag of a Value.
type Kind int

const (
	KindNone Kind = iota
	KindLong
	KindBool
	KindOffset
	KindDouble
	KindString
	KindBytes
	KindList
	KindObject
	KindSocket
)

func (k Kind) String() string {
	switch k {
	case KindLong:
		return "long"
	case KindBool:
		return "bool"
	case KindOffset:
		return "offset"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	case KindSocket:
		return "socket"
	default:
		return "none"
	}
}

// Value is a tagged option or info value. The zero Value has KindNone and is
// accepted by no option.
type Value struct {
	kind Kind
	n    int64
	f    float64
	s    string
	b    []byte
	list *List
	obj  any
}

func Long(v int64) Value { return Value{kind: KindLong, n: v} }

func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, n: 1}
	}
	return Value{kind: KindBool}
}

func Offset(v int64) Value   { return Value{kind: KindOffset, n: v} }
func Double(v float64) Value { return Value{kind: KindDouble, f: v} }
func String(v string) Value  { return Value{kind: KindString, s: v} }
func Object(v any) Value     { return Value{kind: KindObject, obj: v} }

// SocketValue wraps a socket for InfoSocket fields.
func SocketValue(s Socket) Value { return Value{kind: KindSocket, n: int64(s)} }

// Bytes stores a private copy of v.
func Bytes(v []byte) Value {
	return Value{kind: KindBytes, b: append([]byte(nil), v...)}
}

// ListOf stores a deep copy of l, so later changes to l do not leak into
// the option.
func ListOf(l *List) Value {
	if l == nil {
		return Value{kind: KindList, list: NewList()}
	}
	return Value{kind: KindList, list: l.Clone()}
}

func (v Value) Kind() Kind { return v.kind }

// Int returns the integer payload of long, bool, offset and socket values.
func (v Value) Int() int64 { return v.n }

func (v Value) Truth() bool    { return v.n != 0 }
func (v Value) Float() float64 { return v.f }
func (v Value) Str() string    { return v.s }
func (v Value) Object() any    { return v.obj }
func (v Value) Socket() Socket { return Socket(v.n) }

// Bytes returns a copy of the byte payload.
func (v Value) Bytes() []byte { return append([]byte(nil), v.b...) }

// List returns a copy of the list payload (nil for other kinds).
func (v Value) List() *List {
	if v.list == nil {
		return nil
	}
	return v.list.Clone()
}

func (v Value) String() string {
	switch v.kind {
	case KindLong, KindOffset, KindSocket:
		return fmt.Sprintf("%d", v.n)
	case KindBool:
		return fmt.Sprintf("%t", v.n != 0)
	case KindDouble:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindBytes:
		return fmt.Sprintf("%d bytes", len(v.b))
	case KindList:
		return fmt.Sprintf("%v", v.list.Values())
	case KindObject:
		return fmt.Sprintf("%v", v.obj)
	default:
		return "<none>"
	}
}
