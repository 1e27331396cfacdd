package message

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
)

// HeaderSize is the byte prefix every outbound frame reserves for the
// transport (e.g. a frame length and flags word). Per spec.md §9, this is a
// contract of the send layer, not a replicator responsibility: the
// replicator only ever produces a Message; something downstream of it is
// responsible for writing HeaderSize bytes before the encoded payload.
const HeaderSize = 8

// WriteFrame reserves HeaderSize bytes (filled in with the payload's length,
// the simplest header a transport can use) and then writes m.
func WriteFrame(w io.Writer, m Message) error {
	buf := &bytes.Buffer{}
	payload := bufio.NewWriter(buf)
	if err := WriteMessage(payload, m); err != nil {
		return err
	}
	if err := payload.Flush(); err != nil {
		return err
	}

	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header, uint32(buf.Len()))

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(header); err != nil {
		return err
	}
	if _, err := bw.Write(buf.Bytes()); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadFrame consumes a HeaderSize-byte header (the leading 4 bytes of which
// are the payload length) and returns the decoded Message.
func ReadFrame(r io.Reader) (Message, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(header)
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return ReadMessage(bufio.NewReader(bytes.NewReader(payload)))
}
