package serializer

import (
	"bufio"
	"encoding/binary"
)

// WriteUint64 writes a fixed-width, little-endian uint64 field. Unlike
// WriteFieldBytes, there is no length prefix since the width is implicit.
func WriteUint64(buf *bufio.Writer, v uint64) error {
	return binary.Write(buf, binary.LittleEndian, &v)
}

func ReadUint64(buf *bufio.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(buf, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func WriteUint32(buf *bufio.Writer, v uint32) error {
	return binary.Write(buf, binary.LittleEndian, &v)
}

func ReadUint32(buf *bufio.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(buf, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func WriteUint8(buf *bufio.Writer, v uint8) error {
	return buf.WriteByte(v)
}

func ReadUint8(buf *bufio.Reader) (uint8, error) {
	return buf.ReadByte()
}

// WriteString writes a length-prefixed UTF-8 string field.
func WriteString(buf *bufio.Writer, s string) error {
	return WriteFieldBytes(buf, []byte(s))
}

func ReadString(buf *bufio.Reader) (string, error) {
	b, err := ReadFieldBytes(buf)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
