package protocol

// UnknownErrReply represents UnknownErr
type UnknownErrReply struct{}

var unknownErrBytes = []byte("-Err unknown\r\n")

// ToBytes marshals redis.Reply
func (r *UnknownErrReply) ToBytes() []byte {
	return unknownErrBytes
}

func (r *UnknownErrReply) Error() string {
	return "Err unknown"
}

// ArgNumErrReply represents wrong number of arguments for command
type ArgNumErrReply struct {
	Cmd string
}

// ToBytes marshals redis.Reply
func (r *ArgNumErrReply) ToBytes() []byte {
	return []byte("-ERR wrong number of arguments for '" + r.Cmd + "' command\r\n")
}

func (r *ArgNumErrReply) Error() string {
	return "ERR wrong number of arguments for '" + r.Cmd + "' command"
}

// MakeArgNumErrReply represents wrong number of arguments for command
func MakeArgNumErrReply(cmd string) *ArgNumErrReply {
	return &ArgNumErrReply{
		Cmd: cmd,
	}
}

// SyntaxErrReply represents meeting unexpected arguments
type SyntaxErrReply struct{}

var syntaxErrBytes = []byte("-ERR syntax error\r\n")
var theSyntaxErrReply = &SyntaxErrReply{}

// MakeSyntaxErrReply creates syntax error
func MakeSyntaxErrReply() *SyntaxErrReply {
	return theSyntaxErrReply
}

// ToBytes marshals redis.Reply
func (r *SyntaxErrReply) ToBytes() []byte {
	return syntaxErrBytes
}

func (r *SyntaxErrReply) Error() string {
	return "ERR syntax error"
}

// WrongTypeErrReply represents operation against a key holding the wrong kind of value
type WrongTypeErrReply struct{}

var wrongTypeErrBytes = []byte("-WRONGTYPE Operation against a key holding the wrong kind of value\r\n")

// ToBytes marshals redis.Reply
func (r *WrongTypeErrReply) ToBytes() []byte {
	return wrongTypeErrBytes
}

func (r *WrongTypeErrReply) Error() string {
	return "WRONGTYPE Operation against a key holding the wrong kind of value"
}

// ProtocolErrReply represents meeting unexpected byte during parse requests
type ProtocolErrReply struct {
	Msg string
}

// ToBytes marshals redis.Reply
func (r *ProtocolErrReply) ToBytes() []byte {
	return []byte("-ERR Protocol error: '" + r.Msg + "'\r\n")
}

func (r *ProtocolErrReply) Error() string {
	return "ERR Protocol error: '" + r.Msg + "'"
}

// MakeProtocolErrReply creates a protocol error
func MakeProtocolErrReply(msg string) *ProtocolErrReply {
	return &ProtocolErrReply{Msg: msg}
}

// OOMErrReply is returned when a write would exceed maxmemory and nothing
// could be evicted
type OOMErrReply struct{}

var oomErrBytes = []byte("-OOM command not allowed when used memory > 'maxmemory'\r\n")

// ToBytes marshals redis.Reply
func (r *OOMErrReply) ToBytes() []byte {
	return oomErrBytes
}

func (r *OOMErrReply) Error() string {
	return "OOM command not allowed when used memory > 'maxmemory'"
}

// NoAuthErrReply is returned for commands sent before authentication when a
// password is required
type NoAuthErrReply struct{}

var noAuthErrBytes = []byte("-NOAUTH Authentication required\r\n")

// ToBytes marshals redis.Reply
func (r *NoAuthErrReply) ToBytes() []byte {
	return noAuthErrBytes
}

func (r *NoAuthErrReply) Error() string {
	return "NOAUTH Authentication required"
}

// MakeWrongPassErrReply creates the WRONGPASS error
func MakeWrongPassErrReply() *StandardErrReply {
	return MakeErrReply("WRONGPASS invalid username-password pair or user is disabled")
}

// MakeNoPermErrReply creates a NOPERM error for the given user and command
func MakeNoPermErrReply(user string, cmd string) *StandardErrReply {
	return MakeErrReply("NOPERM User " + user + " has no permissions to run the '" + cmd + "' command")
}

// MakeNoPermKeyErrReply creates a NOPERM error for key access
func MakeNoPermKeyErrReply(user string) *StandardErrReply {
	return MakeErrReply("NOPERM User " + user + " has no permissions to access one of the keys used as arguments")
}

// MakeNoPermChannelErrReply creates a NOPERM error for channel access
func MakeNoPermChannelErrReply(user string) *StandardErrReply {
	return MakeErrReply("NOPERM User " + user + " has no permissions to access one of the channels used as arguments")
}
