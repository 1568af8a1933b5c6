package framegear

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// kind tags every message on the wire.
type kind uint8

const (
	kindHello kind = 1
	kindFrame kind = 2
	kindReply kind = 3
	// kindEnd carries no payload and ends the stream.
	kindEnd kind = 4
)

func (k kind) String() string {
	switch k {
	case kindHello:
		return "hello"
	case kindFrame:
		return "frame"
	case kindReply:
		return "reply"
	case kindEnd:
		return "end"
	default:
		return "unknown"
	}
}

// message is one logical unit on the wire:
//
//	payload length (4, big-endian) | kind (1) | payload
//
// The length covers the payload only, so an end message is five bytes.
type message struct {
	kind kind
	body []byte
}

const messageHeaderSize = 5

// encode returns the message as one buffer so it is written in a single call.
func (m message) encode() []byte {
	buf := make([]byte, messageHeaderSize, messageHeaderSize+len(m.body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(m.body)))
	buf[4] = byte(m.kind)
	return append(buf, m.body...)
}

// readMessage reads exactly one message from r. A clean EOF before the
// first header byte is returned as io.EOF; EOF inside a message is
// io.ErrUnexpectedEOF.
func readMessage(r io.Reader, maxLength int) (message, error) {
	var hdr [messageHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return message{}, err
	}

	n := binary.BigEndian.Uint32(hdr[:4])
	if int64(n) > int64(maxLength) {
		return message{}, errors.Wrapf(ErrMessageTooLarge, "%d > %d", n, maxLength)
	}

	m := message{kind: kind(hdr[4])}
	if n == 0 {
		return m, nil
	}
	m.body = make([]byte, n)
	if _, err := io.ReadFull(r, m.body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return message{}, err
	}
	return m, nil
}

func writeMessage(w io.Writer, m message) error {
	_, err := w.Write(m.encode())
	return err
}
