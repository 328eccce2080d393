package ncp

import (
	"encoding/binary"
	"hash/crc32"
	"time"
)

const (
	packetHeaderLen = 32
	packetFooterLen = 8
	// minPacketLen is the smallest legal packet: header + empty body + footer.
	minPacketLen = packetHeaderLen + packetFooterLen
)

var (
	packetHeaderMagic = [4]byte{0xDD, 0xCC, 0xBB, 0xAA}
	packetFooterMagic = [4]byte{0xAA, 0xBB, 0xCC, 0xDD}
	formatID          = MustIdentifier("NCPL")
)

// Timestamp is a 64-bit packet generation time: seconds since the Unix
// epoch plus nanoseconds, each carried as a 32-bit header field.
type Timestamp struct {
	Seconds     int32
	Nanoseconds int32
}

// Time converts to a standard library time.Time (UTC).
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t.Seconds), int64(t.Nanoseconds)).UTC()
}

// TimestampFromTime truncates t to the wire's 32-bit-seconds/32-bit-nanos
// representation.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{Seconds: int32(t.Unix()), Nanoseconds: int32(t.Nanosecond())}
}

/*
Packet is the outermost framed unit on the wire: a 32-byte header, a body of
encoded fields, and an 8-byte footer carrying the IEEE CRC-32 of everything
before it. See spec.md §4.D.
*/
type Packet struct {
	Type      Identifier
	ID        uint32
	Timestamp Timestamp
	Info      uint32
	Fields    []*Field
}

// encodePacket renders p to its wire bytes, always writing a valid CRC-32
// footer.
func encodePacket(p *Packet) ([]byte, error) {
	var body []byte
	var err error
	for _, f := range p.Fields {
		body, err = encodeField(body, f)
		if err != nil {
			return nil, err
		}
	}

	total := packetHeaderLen + len(body) + packetFooterLen
	if total%wordSize != 0 {
		return nil, &MalformedPacket{Reason: "unaligned packet size"}
	}
	sizeWords := uint32(total / wordSize)

	out := make([]byte, 0, total)
	out = append(out, packetHeaderMagic[:]...)
	out = append(out, p.Type[:]...)
	out = appendUint32(out, sizeWords)
	out = appendUint32(out, p.ID)
	out = appendUint32(out, p.Info)
	out = appendInt32(out, p.Timestamp.Seconds)
	out = appendInt32(out, p.Timestamp.Nanoseconds)
	out = append(out, formatID[:]...)
	out = append(out, body...)

	crc := crc32.ChecksumIEEE(out)
	out = append(out, packetFooterMagic[:]...)
	out = appendUint32(out, crc)
	return out, nil
}

// decodePacket parses a complete packet (header through footer) from b. b
// must contain exactly one packet's worth of bytes, as produced by the
// stream reader.
func decodePacket(b []byte) (*Packet, error) {
	if len(b) < minPacketLen {
		return nil, &MalformedPacket{Reason: "short packet"}
	}
	if [4]byte(b[0:4]) != packetHeaderMagic {
		return nil, &MalformedPacket{Reason: "bad header magic"}
	}
	pType, err := identifierFromBytes(b[4:8])
	if err != nil {
		return nil, &MalformedPacket{Reason: "bad type identifier"}
	}
	sizeWords := binary.LittleEndian.Uint32(b[8:12])
	id := binary.LittleEndian.Uint32(b[12:16])
	info := binary.LittleEndian.Uint32(b[16:20])
	seconds := int32(binary.LittleEndian.Uint32(b[20:24]))
	nanos := int32(binary.LittleEndian.Uint32(b[24:28]))
	fmtID, err := identifierFromBytes(b[28:32])
	if err != nil || fmtID != formatID {
		return nil, &MalformedPacket{Reason: "bad format id"}
	}

	total := int(sizeWords) * wordSize
	if total < minPacketLen || total > len(b) {
		return nil, &MalformedPacket{Reason: "packet size out of range"}
	}

	body := b[packetHeaderLen : total-packetFooterLen]
	footer := b[total-packetFooterLen : total]
	if [4]byte(footer[0:4]) != packetFooterMagic {
		return nil, &MalformedPacket{Reason: "bad footer magic"}
	}
	crcWord := binary.LittleEndian.Uint32(footer[4:8])
	if crcWord != 0 {
		want := crc32.ChecksumIEEE(b[:total-packetFooterLen])
		if crcWord != want {
			return nil, &MalformedPacket{Reason: "crc mismatch"}
		}
	}

	fields := make([]*Field, 0)
	off := 0
	for off < len(body) {
		f, consumed, err := decodeField(body[off:])
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		off += consumed
	}

	return &Packet{
		Type:      pType,
		ID:        id,
		Info:      info,
		Timestamp: Timestamp{Seconds: seconds, Nanoseconds: nanos},
		Fields:    fields,
	}, nil
}

func appendUint32(dst []byte, v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return append(dst, buf...)
}

func appendInt32(dst []byte, v int32) []byte {
	return appendUint32(dst, uint32(v))
}
