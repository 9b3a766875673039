package protocol

import (
	"bytes"
	"strconv"

	"github.com/rutin-db/rutin/interface/redis"
)

// RESP3 frame types. The server speaks only protover 3, so every client
// receives these frames as they are; nothing downgrades them to RESP2.

/* ---- Double Reply ---- */

// DoubleReply stores a float64, marshalled with the ',' prefix
type DoubleReply struct {
	Value float64
}

// MakeDoubleReply creates DoubleReply
func MakeDoubleReply(value float64) *DoubleReply {
	return &DoubleReply{Value: value}
}

// ToBytes marshal redis.Reply
func (r *DoubleReply) ToBytes() []byte {
	return []byte("," + strconv.FormatFloat(r.Value, 'f', -1, 64) + CRLF)
}

/* ---- Bool Reply ---- */

// BoolReply stores a boolean, marshalled with the '#' prefix
type BoolReply struct {
	Value bool
}

var trueBytes = []byte("#t\r\n")
var falseBytes = []byte("#f\r\n")

// MakeBoolReply creates BoolReply
func MakeBoolReply(value bool) *BoolReply {
	return &BoolReply{Value: value}
}

// ToBytes marshal redis.Reply
func (r *BoolReply) ToBytes() []byte {
	if r.Value {
		return trueBytes
	}
	return falseBytes
}

/* ---- Null Reply ---- */

// NullReply is the RESP3 null, marshalled as '_'
type NullReply struct{}

var nullBytes = []byte("_\r\n")

// MakeNullReply creates NullReply
func MakeNullReply() *NullReply {
	return &NullReply{}
}

// ToBytes marshal redis.Reply
func (r *NullReply) ToBytes() []byte {
	return nullBytes
}

/* ---- Big Number Reply ---- */

// BigNumberReply stores an integer outside the int64 range, marshalled with
// the '(' prefix. Digits is the decimal text including an optional sign.
type BigNumberReply struct {
	Digits string
}

// MakeBigNumberReply creates BigNumberReply
func MakeBigNumberReply(digits string) *BigNumberReply {
	return &BigNumberReply{Digits: digits}
}

// ToBytes marshal redis.Reply
func (r *BigNumberReply) ToBytes() []byte {
	return []byte("(" + r.Digits + CRLF)
}

/* ---- Verbatim Reply ---- */

// VerbatimReply stores a string with a three byte format hint ("txt", "mkd"),
// marshalled with the '=' prefix
type VerbatimReply struct {
	Format string
	Body   []byte
}

// MakeVerbatimReply creates VerbatimReply
func MakeVerbatimReply(format string, body []byte) *VerbatimReply {
	return &VerbatimReply{Format: format, Body: body}
}

// ToBytes marshal redis.Reply
func (r *VerbatimReply) ToBytes() []byte {
	payload := r.Format + ":" + string(r.Body)
	return []byte("=" + strconv.Itoa(len(payload)) + CRLF + payload + CRLF)
}

/* ---- Map Reply ---- */

// MapReply stores an ordered list of field-value pairs, marshalled with the
// '%' prefix. Pairs must have even length.
type MapReply struct {
	Pairs []redis.Reply
}

// MakeMapReply creates MapReply from alternating key and value replies
func MakeMapReply(pairs []redis.Reply) *MapReply {
	return &MapReply{Pairs: pairs}
}

// ToBytes marshal redis.Reply
func (r *MapReply) ToBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString("%" + strconv.Itoa(len(r.Pairs)/2) + CRLF)
	for _, p := range r.Pairs {
		buf.Write(p.ToBytes())
	}
	return buf.Bytes()
}

/* ---- Set Reply ---- */

// SetReply stores an unordered collection of members, marshalled with the
// '~' prefix
type SetReply struct {
	Members [][]byte
}

// MakeSetReply creates SetReply
func MakeSetReply(members [][]byte) *SetReply {
	return &SetReply{Members: members}
}

// ToBytes marshal redis.Reply
func (r *SetReply) ToBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString("~" + strconv.Itoa(len(r.Members)) + CRLF)
	for _, m := range r.Members {
		buf.WriteString("$" + strconv.Itoa(len(m)) + CRLF + string(m) + CRLF)
	}
	return buf.Bytes()
}

/* ---- Push Reply ---- */

// PushReply is an out-of-band frame, marshalled with the '>' prefix. It
// carries pub/sub messages, tracking invalidations and async command
// results.
type PushReply struct {
	Args [][]byte
}

// MakePushReply creates PushReply
func MakePushReply(args [][]byte) *PushReply {
	return &PushReply{Args: args}
}

// ToBytes marshal redis.Reply
func (r *PushReply) ToBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(">" + strconv.Itoa(len(r.Args)) + CRLF)
	for _, arg := range r.Args {
		if arg == nil {
			buf.WriteString("$-1" + CRLF)
		} else {
			buf.WriteString("$" + strconv.Itoa(len(arg)) + CRLF + string(arg) + CRLF)
		}
	}
	return buf.Bytes()
}
