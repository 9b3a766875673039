// Package rdb reads and writes point-in-time snapshot files. The format is a
// magic header, a version, per-database sections of typed records and an
// optional crc64 trailer.
package rdb

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc64"
	"io"
	"os"
	"path/filepath"

	"github.com/rutin-db/rutin/datastruct/dict"
	"github.com/rutin-db/rutin/datastruct/list"
)

var magic = []byte("RUTIN")

const (
	// CurrentVersion is written when the configuration names none
	CurrentVersion = 1

	opSelectDB = 0xFE
	opEOF      = 0xFF

	typeString = 0
	typeList   = 1
	typeHash   = 2
)

var crcTable = crc64.MakeTable(crc64.ISO)

// ErrBadChecksum reports a trailer mismatch on load
var ErrBadChecksum = errors.New("rdb: checksum mismatch")

type crcWriter struct {
	w *bufio.Writer
	h hash.Hash64
}

func (cw *crcWriter) Write(p []byte) (int, error) {
	cw.h.Write(p)
	return cw.w.Write(p)
}

func (cw *crcWriter) writeUvarint(v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, err := cw.Write(buf[:n])
	return err
}

func (cw *crcWriter) writeString(s []byte) error {
	if err := cw.writeUvarint(uint64(len(s))); err != nil {
		return err
	}
	_, err := cw.Write(s)
	return err
}

// Save writes a snapshot of every database to path. The file is assembled
// under a temporary name and renamed over the target, so a crashed save
// never leaves a torn snapshot behind.
func Save(path string, version int, checksum bool, databases int,
	forEach func(dbIndex int, consumer func(key string, data interface{}, expireAt int64) bool)) error {
	if version <= 0 {
		version = CurrentVersion
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "rdb-save-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp rdb: %w", err)
	}
	defer os.Remove(tmp.Name())

	cw := &crcWriter{w: bufio.NewWriter(tmp), h: crc64.New(crcTable)}
	if _, err := cw.Write(magic); err != nil {
		return err
	}
	if _, err := cw.Write([]byte{byte(version)}); err != nil {
		return err
	}

	for dbIndex := 0; dbIndex < databases; dbIndex++ {
		wroteHeader := false
		var dumpErr error
		forEach(dbIndex, func(key string, data interface{}, expireAt int64) bool {
			if !wroteHeader {
				if _, dumpErr = cw.Write([]byte{opSelectDB}); dumpErr != nil {
					return false
				}
				if dumpErr = cw.writeUvarint(uint64(dbIndex)); dumpErr != nil {
					return false
				}
				wroteHeader = true
			}
			dumpErr = writeRecord(cw, key, data, expireAt)
			return dumpErr == nil
		})
		if dumpErr != nil {
			return dumpErr
		}
	}
	if _, err := cw.Write([]byte{opEOF}); err != nil {
		return err
	}
	if checksum {
		var sumBuf [8]byte
		binary.LittleEndian.PutUint64(sumBuf[:], cw.h.Sum64())
		if _, err := cw.w.Write(sumBuf[:]); err != nil {
			return err
		}
	}
	if err := cw.w.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeRecord(cw *crcWriter, key string, data interface{}, expireAt int64) error {
	var typeByte byte
	switch data.(type) {
	case []byte:
		typeByte = typeString
	case *list.QuickList:
		typeByte = typeList
	case *dict.SimpleDict:
		typeByte = typeHash
	default:
		return fmt.Errorf("rdb: unknown value type for key %q", key)
	}
	if _, err := cw.Write([]byte{typeByte}); err != nil {
		return err
	}
	if err := cw.writeUvarint(uint64(expireAt)); err != nil {
		return err
	}
	if err := cw.writeString([]byte(key)); err != nil {
		return err
	}
	switch v := data.(type) {
	case []byte:
		return cw.writeString(v)
	case *list.QuickList:
		if err := cw.writeUvarint(uint64(v.Len())); err != nil {
			return err
		}
		var inner error
		v.ForEach(func(i int, val []byte) bool {
			inner = cw.writeString(val)
			return inner == nil
		})
		return inner
	case *dict.SimpleDict:
		if err := cw.writeUvarint(uint64(v.Len())); err != nil {
			return err
		}
		var inner error
		v.ForEach(func(field string, val []byte) bool {
			if inner = cw.writeString([]byte(field)); inner != nil {
				return false
			}
			inner = cw.writeString(val)
			return inner == nil
		})
		return inner
	}
	return nil
}

type crcReader struct {
	r *bufio.Reader
	h hash.Hash64
}

func (cr *crcReader) ReadByte() (byte, error) {
	b, err := cr.r.ReadByte()
	if err == nil {
		cr.h.Write([]byte{b})
	}
	return b, err
}

func (cr *crcReader) Read(p []byte) (int, error) {
	n, err := io.ReadFull(cr.r, p)
	cr.h.Write(p[:n])
	return n, err
}

func (cr *crcReader) readUvarint() (uint64, error) {
	return binary.ReadUvarint(cr)
}

func (cr *crcReader) readString() ([]byte, error) {
	n, err := cr.readUvarint()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := cr.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Load streams a snapshot from path, handing every record to the handler.
// Expired records are delivered too, the caller decides whether to keep them.
func Load(path string, checksum bool,
	handler func(dbIndex int, key string, data interface{}, expireAt int64) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cr := &crcReader{r: bufio.NewReader(f), h: crc64.New(crcTable)}
	header := make([]byte, len(magic)+1)
	if _, err := cr.Read(header); err != nil {
		return fmt.Errorf("read rdb header: %w", err)
	}
	if string(header[:len(magic)]) != string(magic) {
		return errors.New("rdb: bad magic")
	}
	version := header[len(magic)]
	if version == 0 || version > CurrentVersion {
		return fmt.Errorf("rdb: unsupported version %d", version)
	}

	dbIndex := 0
	for {
		op, err := cr.ReadByte()
		if err != nil {
			return fmt.Errorf("read rdb record: %w", err)
		}
		switch op {
		case opSelectDB:
			idx, err := cr.readUvarint()
			if err != nil {
				return err
			}
			dbIndex = int(idx)
		case opEOF:
			if checksum {
				want := cr.h.Sum64()
				var sumBuf [8]byte
				if _, err := io.ReadFull(cr.r, sumBuf[:]); err != nil {
					return fmt.Errorf("read rdb checksum: %w", err)
				}
				if binary.LittleEndian.Uint64(sumBuf[:]) != want {
					return ErrBadChecksum
				}
			}
			return nil
		case typeString, typeList, typeHash:
			key, data, expireAt, err := readRecord(cr, op)
			if err != nil {
				return err
			}
			if err := handler(dbIndex, key, data, expireAt); err != nil {
				return err
			}
		default:
			return fmt.Errorf("rdb: unknown opcode 0x%02x", op)
		}
	}
}

func readRecord(cr *crcReader, typeByte byte) (string, interface{}, int64, error) {
	expireAt, err := cr.readUvarint()
	if err != nil {
		return "", nil, 0, err
	}
	rawKey, err := cr.readString()
	if err != nil {
		return "", nil, 0, err
	}
	key := string(rawKey)
	switch typeByte {
	case typeString:
		val, err := cr.readString()
		return key, val, int64(expireAt), err
	case typeList:
		n, err := cr.readUvarint()
		if err != nil {
			return "", nil, 0, err
		}
		ql := list.Make()
		for i := uint64(0); i < n; i++ {
			val, err := cr.readString()
			if err != nil {
				return "", nil, 0, err
			}
			ql.PushTail(val)
		}
		return key, ql, int64(expireAt), nil
	case typeHash:
		n, err := cr.readUvarint()
		if err != nil {
			return "", nil, 0, err
		}
		d := dict.MakeSimple()
		for i := uint64(0); i < n; i++ {
			field, err := cr.readString()
			if err != nil {
				return "", nil, 0, err
			}
			val, err := cr.readString()
			if err != nil {
				return "", nil, 0, err
			}
			d.Put(string(field), val)
		}
		return key, d, int64(expireAt), nil
	}
	return "", nil, 0, fmt.Errorf("rdb: unknown value type 0x%02x", typeByte)
}
