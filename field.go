package ncp

import "encoding/binary"

// fieldHeaderLen is name(4)+size(4)+type_id(4)+field_id(4)+parameter_count(4).
const fieldHeaderLen = 20

// fieldFooterLen is the checksum word: always 0 on encode, unchecked on decode.
const fieldFooterLen = 4

// ParamMap is an ordered, duplicate-free map from parameter Identifier to
// ParamValue. Insertion order is preserved on the wire, per spec.md §3.
type ParamMap struct {
	order  []Identifier
	values map[Identifier]ParamValue
}

// NewParamMap returns an empty ParamMap.
func NewParamMap() *ParamMap {
	return &ParamMap{values: make(map[Identifier]ParamValue)}
}

// Add inserts (name, v), preserving insertion order. It fails if name is
// already present — parameter identifiers within a field must be unique.
func (p *ParamMap) Add(name Identifier, v ParamValue) error {
	if _, exists := p.values[name]; exists {
		return &MalformedField{Reason: "duplicate parameter " + name.String()}
	}
	if p.values == nil {
		p.values = make(map[Identifier]ParamValue)
	}
	p.order = append(p.order, name)
	p.values[name] = v
	return nil
}

// Get returns the value for name and whether it was present.
func (p *ParamMap) Get(name Identifier) (ParamValue, bool) {
	if p == nil {
		return ParamValue{}, false
	}
	v, ok := p.values[name]
	return v, ok
}

// Names returns the parameter identifiers in insertion order.
func (p *ParamMap) Names() []Identifier {
	if p == nil {
		return nil
	}
	out := make([]Identifier, len(p.order))
	copy(out, p.order)
	return out
}

// Len returns the number of parameters.
func (p *ParamMap) Len() int {
	if p == nil {
		return 0
	}
	return len(p.order)
}

/*
Field is one logical message: a named bag of typed parameters within a
packet. Name and TypeID are both sender-chosen identifiers (see spec.md
§4.C); ID is the sender-assigned 32-bit field id, unique within the
enclosing packet. When a Field is delivered inbound, PacketType and
Timestamp report the enclosing packet's type and generation time, and conn
is a non-owning handle used only by Reply.
*/
type Field struct {
	Name   Identifier
	TypeID Identifier
	ID     uint32
	Params *ParamMap

	PacketType Identifier
	PacketID   uint32
	Timestamp  Timestamp

	conn *Connection
}

// NewField builds an outbound Field with an empty parameter map; ID is
// assigned by Connection.Send/SendPacket, not by the caller.
func NewField(name, typeID Identifier) *Field {
	return &Field{Name: name, TypeID: typeID, Params: NewParamMap()}
}

// encodeField appends the wire encoding of f to dst.
func encodeField(dst []byte, f *Field) ([]byte, error) {
	var body []byte
	var err error
	names := f.Params.Names()
	for _, name := range names {
		v, _ := f.Params.Get(name)
		body, err = encodeValue(body, name, v)
		if err != nil {
			return nil, err
		}
	}

	total := fieldHeaderLen + len(body) + fieldFooterLen
	if total%wordSize != 0 {
		return nil, &MalformedField{Reason: "unaligned field size"}
	}
	sizeWords := uint32(total / wordSize)

	dst = append(dst, f.Name[:]...)
	sizeBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBuf, sizeWords)
	dst = append(dst, sizeBuf...)
	dst = append(dst, f.TypeID[:]...)

	idBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(idBuf, f.ID)
	dst = append(dst, idBuf...)

	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(names)))
	dst = append(dst, countBuf...)

	dst = append(dst, body...)
	dst = append(dst, 0, 0, 0, 0) // checksum word, always 0 on encode
	return dst, nil
}

// decodeField reads one Field from the head of b and returns it along with
// the number of bytes consumed.
func decodeField(b []byte) (*Field, int, error) {
	if len(b) < fieldHeaderLen+fieldFooterLen {
		return nil, 0, &MalformedField{Reason: "short field header"}
	}
	name, err := identifierFromBytes(b[0:4])
	if err != nil {
		return nil, 0, err
	}
	sizeWords := binary.LittleEndian.Uint32(b[4:8])
	typeID, err := identifierFromBytes(b[8:12])
	if err != nil {
		return nil, 0, err
	}
	fieldID := binary.LittleEndian.Uint32(b[12:16])
	paramCount := binary.LittleEndian.Uint32(b[16:20])

	total := int(sizeWords) * wordSize
	if total < fieldHeaderLen+fieldFooterLen || total > len(b) {
		return nil, 0, &MalformedField{Reason: "field size out of range"}
	}

	body := b[fieldHeaderLen : total-fieldFooterLen]
	f := &Field{Name: name, TypeID: typeID, ID: fieldID, Params: NewParamMap()}

	off := 0
	for i := uint32(0); i < paramCount; i++ {
		pname, pval, consumed, err := decodeValue(body[off:])
		if err != nil {
			return nil, 0, err
		}
		if err := f.Params.Add(pname, pval); err != nil {
			return nil, 0, err
		}
		off += consumed
	}
	if off != len(body) {
		return nil, 0, &MalformedField{Reason: "field size does not match consumed bytes"}
	}

	return f, total, nil
}

// Reply sends a single-field packet addressed back to f's sender: the
// outbound packet's id is set to f's field id, per spec.md §6's reply
// correlation rule. Reply fails with ConnectionClosed if the owning
// connection has already closed.
func (f *Field) Reply(packetType Identifier, reply *Field) error {
	if f.conn == nil {
		return &ConnectionClosed{Clean: true}
	}
	return f.conn.sendReply(packetType, f.ID, reply)
}
