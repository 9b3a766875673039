package parser

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"runtime/debug"
	"strconv"

	"github.com/rutin-db/rutin/interface/redis"
	"github.com/rutin-db/rutin/lib/logger"
	"github.com/rutin-db/rutin/redis/protocol"
)

// Payload carries one decoded frame, or the error that ended the stream.
// A protocol-level error is delivered as Err without closing the channel,
// the decoder resynchronizes on the next line.
type Payload struct {
	Data redis.Reply
	Err  error
}

// ParseStream decodes frames from reader on a dedicated goroutine and
// delivers them in order. The channel closes after an IO error or EOF.
func ParseStream(reader io.Reader) <-chan *Payload {
	ch := make(chan *Payload)
	d := &decoder{r: bufio.NewReader(reader), out: ch}
	go d.run()
	return ch
}

// ParseOne decodes the first frame of data.
func ParseOne(data []byte) (redis.Reply, error) {
	ch := ParseStream(bytes.NewReader(data))
	payload := <-ch
	if payload == nil {
		return nil, errors.New("no protocol")
	}
	return payload.Data, payload.Err
}

type decoder struct {
	r   *bufio.Reader
	out chan<- *Payload
}

func (d *decoder) run() {
	defer func() {
		if err := recover(); err != nil {
			logger.Error(err, string(debug.Stack()))
		}
	}()
	defer close(d.out)
	for {
		line, err := d.readLine()
		if err != nil {
			d.out <- &Payload{Err: err}
			return
		}
		if line == nil {
			continue
		}
		reply, err := d.decodeFrame(line)
		if err != nil {
			if isProtocolError(err) {
				d.out <- &Payload{Err: err}
				continue
			}
			d.out <- &Payload{Err: err}
			return
		}
		d.out <- &Payload{Data: reply}
	}
}

// readLine returns the next CRLF-terminated line without its terminator.
// Bare or empty lines between pipelined frames come back as nil.
func (d *decoder) readLine() ([]byte, error) {
	line, err := d.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) <= 2 || line[len(line)-2] != '\r' {
		return nil, nil
	}
	return line[:len(line)-2], nil
}

func (d *decoder) decodeFrame(line []byte) (redis.Reply, error) {
	switch line[0] {
	case '+':
		return protocol.MakeStatusReply(string(line[1:])), nil
	case '-':
		return protocol.MakeErrReply(string(line[1:])), nil
	case ':':
		value, err := strconv.ParseInt(string(line[1:]), 10, 64)
		if err != nil {
			return nil, protocolError("illegal number " + string(line[1:]))
		}
		return protocol.MakeIntReply(value), nil
	case '$':
		return d.decodeBulk(line)
	case '*':
		return d.decodeArray(line)
	default:
		// inline form, space-separated words on a single line
		return protocol.MakeMultiBulkReply(bytes.Split(line, []byte{' '})), nil
	}
}

func (d *decoder) decodeBulk(header []byte) (redis.Reply, error) {
	size, err := strconv.ParseInt(string(header[1:]), 10, 64)
	if err != nil || size < -1 {
		return nil, protocolError("illegal bulk string header: " + string(header))
	}
	if size == -1 {
		return protocol.MakeNullBulkReply(), nil
	}
	body, err := d.readBody(size)
	if err != nil {
		return nil, err
	}
	return protocol.MakeBulkReply(body), nil
}

func (d *decoder) decodeArray(header []byte) (redis.Reply, error) {
	count, err := strconv.ParseInt(string(header[1:]), 10, 64)
	if err != nil || count < 0 {
		return nil, protocolError("illegal array header " + string(header[1:]))
	}
	if count == 0 {
		return protocol.MakeEmptyMultiBulkReply(), nil
	}
	args := make([][]byte, 0, count)
	for i := int64(0); i < count; i++ {
		line, err := d.readLine()
		if err != nil {
			return nil, err
		}
		if line == nil || line[0] != '$' {
			return nil, protocolError("illegal bulk string header " + string(line))
		}
		size, err := strconv.ParseInt(string(line[1:]), 10, 64)
		if err != nil || size < -1 {
			return nil, protocolError("illegal bulk string length " + string(line))
		}
		if size == -1 {
			args = append(args, []byte{})
			continue
		}
		body, err := d.readBody(size)
		if err != nil {
			return nil, err
		}
		args = append(args, body)
	}
	return protocol.MakeMultiBulkReply(args), nil
}

// readBody reads size payload bytes plus the trailing CRLF
func (d *decoder) readBody(size int64) ([]byte, error) {
	body := make([]byte, size+2)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, err
	}
	return body[:size], nil
}

type protocolError string

func (e protocolError) Error() string {
	return "protocol error: " + string(e)
}

func isProtocolError(err error) bool {
	_, ok := err.(protocolError)
	return ok
}
