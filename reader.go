package ncp

import (
	"encoding/binary"
	"errors"
	"io"
)

/*
StreamReader consumes a byte source and produces a lazy, finite-until-close
sequence of fields, each tagged with its enclosing packet's type, id and
timestamp. See spec.md §4.E.

Partial reads block inside Next until enough bytes arrive or the transport
closes. A close between packets ends the stream cleanly (io.EOF); a close
in the middle of a packet yields *UnexpectedEOF.
*/
type StreamReader struct {
	r io.Reader

	pending []*Field
	packet  *Packet
	idx     int
}

// NewStreamReader wraps r.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: r}
}

// Next returns the next field along with the packet it arrived in. It
// returns io.EOF once the transport has closed cleanly with no more fields
// pending.
func (s *StreamReader) Next() (*Field, *Packet, error) {
	for s.idx >= len(s.pending) {
		p, err := s.readPacket()
		if err != nil {
			return nil, nil, err
		}
		s.packet = p
		s.pending = p.Fields
		s.idx = 0
	}
	f := s.pending[s.idx]
	s.idx++
	return f, s.packet, nil
}

func (s *StreamReader) readPacket() (*Packet, error) {
	header := make([]byte, packetHeaderLen)
	n, err := io.ReadFull(s.r, header)
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &UnexpectedEOF{}
	}

	if [4]byte(header[0:4]) != packetHeaderMagic {
		return nil, &MalformedPacket{Reason: "bad header magic"}
	}
	sizeWords := binary.LittleEndian.Uint32(header[8:12])
	total := int(sizeWords) * wordSize
	if total < minPacketLen {
		return nil, &MalformedPacket{Reason: "packet size out of range"}
	}

	rest := make([]byte, total-packetHeaderLen)
	if _, err := io.ReadFull(s.r, rest); err != nil {
		return nil, &UnexpectedEOF{}
	}

	full := make([]byte, 0, total)
	full = append(full, header...)
	full = append(full, rest...)
	return decodePacket(full)
}
