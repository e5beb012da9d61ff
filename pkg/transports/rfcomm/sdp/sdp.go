// Package sdp implements the part of the Bluetooth Service Discovery Protocol
// needed to find the RFCOMM channel a service listens on: the
// ServiceSearchAttribute transaction and the data element encoding.
package sdp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// PSM is the L2CAP protocol/service multiplexer of the SDP server.
const PSM uint16 = 0x0001

// Well known 16-bit UUIDs and attribute IDs.
const (
	UUIDSerialPort uint16 = 0x1101
	UUIDRFCOMM     uint16 = 0x0003
	UUIDL2CAP      uint16 = 0x0100

	AttrProtocolDescriptorList uint16 = 0x0004
)

const (
	pduErrorResponse                  = 0x01
	pduServiceSearchAttributeRequest  = 0x06
	pduServiceSearchAttributeResponse = 0x07

	maxAttributeByteCount = 0xffff
	maxContinuations      = 32
	maxPDU                = 4096
)

var (
	// ErrNoRFCOMM is returned when no record carries an RFCOMM channel.
	ErrNoRFCOMM = errors.New("sdp: no RFCOMM channel in service records")
	// ErrMalformed is returned for PDUs or data elements that cannot be decoded.
	ErrMalformed = errors.New("sdp: malformed data")
)

// Error is an SDP ErrorResponse sent by the server.
type Error struct {
	Code uint16
}

var errorCodes = map[uint16]string{
	0x0001: "invalid/unsupported SDP version",
	0x0002: "invalid service record handle",
	0x0003: "invalid request syntax",
	0x0004: "invalid PDU size",
	0x0005: "invalid continuation state",
	0x0006: "insufficient resources",
}

func (e *Error) Error() string {
	if msg, ok := errorCodes[e.Code]; ok {
		return fmt.Sprintf("sdp: error response 0x%04x: %s", e.Code, msg)
	}
	return fmt.Sprintf("sdp: error response 0x%04x", e.Code)
}

// ElementType is the type descriptor of a data element.
type ElementType uint8

const (
	TypeNil         ElementType = 0
	TypeUint        ElementType = 1
	TypeInt         ElementType = 2
	TypeUUID        ElementType = 3
	TypeString      ElementType = 4
	TypeBool        ElementType = 5
	TypeSequence    ElementType = 6
	TypeAlternative ElementType = 7
	TypeURL         ElementType = 8
)

// Element is a decoded data element. Containers carry Items, every other
// type carries its raw big-endian value in Data.
type Element struct {
	Type  ElementType
	Data  []byte
	Items []Element
}

// Uint returns the value of an unsigned integer element of up to 8 bytes.
func (e Element) Uint() (uint64, bool) {
	if e.Type != TypeUint {
		return 0, false
	}
	switch len(e.Data) {
	case 1:
		return uint64(e.Data[0]), true
	case 2:
		return uint64(binary.BigEndian.Uint16(e.Data)), true
	case 4:
		return uint64(binary.BigEndian.Uint32(e.Data)), true
	case 8:
		return binary.BigEndian.Uint64(e.Data), true
	}
	return 0, false
}

// baseUUID holds bytes 4..15 of the Bluetooth base UUID
// 00000000-0000-1000-8000-00805F9B34FB.
var baseUUID = []byte{0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0x80, 0x5f, 0x9b, 0x34, 0xfb}

// UUID returns the 32-bit short form of a UUID element. 128-bit UUIDs are
// only accepted when they derive from the Bluetooth base UUID.
func (e Element) UUID() (uint32, bool) {
	if e.Type != TypeUUID {
		return 0, false
	}
	switch len(e.Data) {
	case 2:
		return uint32(binary.BigEndian.Uint16(e.Data)), true
	case 4:
		return binary.BigEndian.Uint32(e.Data), true
	case 16:
		if !bytes.Equal(e.Data[4:], baseUUID) {
			return 0, false
		}
		return binary.BigEndian.Uint32(e.Data[:4]), true
	}
	return 0, false
}

// ParseElement decodes the data element at the start of b and returns it
// with the number of bytes it occupied.
func ParseElement(b []byte) (Element, int, error) {
	if len(b) < 1 {
		return Element{}, 0, fmt.Errorf("%w: empty element", ErrMalformed)
	}
	typ := ElementType(b[0] >> 3)
	sizeIndex := b[0] & 0x07

	header := 1
	var size int
	switch sizeIndex {
	case 0:
		if typ != TypeNil {
			size = 1
		}
	case 1, 2, 3, 4:
		size = 1 << sizeIndex
	case 5:
		if len(b) < 2 {
			return Element{}, 0, fmt.Errorf("%w: truncated length", ErrMalformed)
		}
		header, size = 2, int(b[1])
	case 6:
		if len(b) < 3 {
			return Element{}, 0, fmt.Errorf("%w: truncated length", ErrMalformed)
		}
		header, size = 3, int(binary.BigEndian.Uint16(b[1:3]))
	case 7:
		if len(b) < 5 {
			return Element{}, 0, fmt.Errorf("%w: truncated length", ErrMalformed)
		}
		header, size = 5, int(binary.BigEndian.Uint32(b[1:5]))
	}
	if size < 0 || len(b)-header < size {
		return Element{}, 0, fmt.Errorf("%w: element of %d bytes exceeds %d available", ErrMalformed, size, len(b)-header)
	}

	data := b[header : header+size]
	el := Element{Type: typ}
	if typ == TypeSequence || typ == TypeAlternative {
		for off := 0; off < len(data); {
			child, n, err := ParseElement(data[off:])
			if err != nil {
				return Element{}, 0, err
			}
			el.Items = append(el.Items, child)
			off += n
		}
	} else {
		el.Data = data
	}
	return el, header + size, nil
}

func uuid16(u uint16) []byte {
	return []byte{byte(TypeUUID<<3) | 1, byte(u >> 8), byte(u)}
}

func uint16Element(v uint16) []byte {
	return []byte{byte(TypeUint<<3) | 1, byte(v >> 8), byte(v)}
}

func sequence(items ...[]byte) []byte {
	body := bytes.Join(items, nil)
	if len(body) <= 0xff {
		return append([]byte{byte(TypeSequence<<3) | 5, byte(len(body))}, body...)
	}
	out := []byte{byte(TypeSequence<<3) | 6, 0, 0}
	binary.BigEndian.PutUint16(out[1:], uint16(len(body)))
	return append(out, body...)
}

// ServiceSearchAttributeRequest encodes a request for the listed attributes
// of every record matching service. cont is the continuation state returned
// by the previous response, or nil for the first request.
func ServiceSearchAttributeRequest(tid uint16, service uint16, attrs []uint16, cont []byte) []byte {
	attrItems := make([][]byte, len(attrs))
	for i, a := range attrs {
		attrItems[i] = uint16Element(a)
	}

	var params []byte
	params = append(params, sequence(uuid16(service))...)
	params = binary.BigEndian.AppendUint16(params, maxAttributeByteCount)
	params = append(params, sequence(attrItems...)...)
	params = append(params, byte(len(cont)))
	params = append(params, cont...)

	pdu := []byte{pduServiceSearchAttributeRequest}
	pdu = binary.BigEndian.AppendUint16(pdu, tid)
	pdu = binary.BigEndian.AppendUint16(pdu, uint16(len(params)))
	return append(pdu, params...)
}

// ParseServiceSearchAttributeResponse returns the attribute list bytes and
// continuation state carried by a response PDU.
func ParseServiceSearchAttributeResponse(pdu []byte, tid uint16) (lists, cont []byte, err error) {
	if len(pdu) < 5 {
		return nil, nil, fmt.Errorf("%w: short PDU (%d bytes)", ErrMalformed, len(pdu))
	}
	if got := binary.BigEndian.Uint16(pdu[1:3]); got != tid {
		return nil, nil, fmt.Errorf("%w: transaction id %d, want %d", ErrMalformed, got, tid)
	}
	paramLen := int(binary.BigEndian.Uint16(pdu[3:5]))
	if len(pdu)-5 < paramLen {
		return nil, nil, fmt.Errorf("%w: parameters truncated", ErrMalformed)
	}
	params := pdu[5 : 5+paramLen]

	switch pdu[0] {
	case pduErrorResponse:
		if len(params) < 2 {
			return nil, nil, fmt.Errorf("%w: short error response", ErrMalformed)
		}
		return nil, nil, &Error{Code: binary.BigEndian.Uint16(params)}
	case pduServiceSearchAttributeResponse:
	default:
		return nil, nil, fmt.Errorf("%w: unexpected PDU 0x%02x", ErrMalformed, pdu[0])
	}

	if len(params) < 2 {
		return nil, nil, fmt.Errorf("%w: missing byte count", ErrMalformed)
	}
	count := int(binary.BigEndian.Uint16(params))
	if len(params) < 2+count+1 {
		return nil, nil, fmt.Errorf("%w: attribute lists truncated", ErrMalformed)
	}
	lists = params[2 : 2+count]
	contLen := int(params[2+count])
	if len(params) < 3+count+contLen {
		return nil, nil, fmt.Errorf("%w: continuation state truncated", ErrMalformed)
	}
	cont = params[3+count : 3+count+contLen]
	return lists, cont, nil
}

// RFCOMMChannel extracts the first RFCOMM channel from the attribute lists
// of a ServiceSearchAttribute response.
func RFCOMMChannel(lists []byte) (int, error) {
	root, _, err := ParseElement(lists)
	if err != nil {
		return 0, err
	}
	if root.Type != TypeSequence {
		return 0, fmt.Errorf("%w: attribute lists are not a sequence", ErrMalformed)
	}
	for _, record := range root.Items {
		for i := 0; i+1 < len(record.Items); i += 2 {
			id, ok := record.Items[i].Uint()
			if !ok || uint16(id) != AttrProtocolDescriptorList {
				continue
			}
			if ch, ok := channelFromProtocols(record.Items[i+1]); ok {
				return ch, nil
			}
		}
	}
	return 0, ErrNoRFCOMM
}

// channelFromProtocols walks a protocol descriptor list (or an alternative
// of them) looking for the RFCOMM descriptor and its channel parameter.
func channelFromProtocols(list Element) (int, bool) {
	if list.Type == TypeAlternative {
		for _, alt := range list.Items {
			if ch, ok := channelFromProtocols(alt); ok {
				return ch, true
			}
		}
		return 0, false
	}
	for _, proto := range list.Items {
		if proto.Type != TypeSequence || len(proto.Items) < 2 {
			continue
		}
		if uuid, ok := proto.Items[0].UUID(); !ok || uuid != uint32(UUIDRFCOMM) {
			continue
		}
		if ch, ok := proto.Items[1].Uint(); ok {
			return int(ch), true
		}
	}
	return 0, false
}

// Query runs a ServiceSearchAttribute transaction for the protocol
// descriptor list of service over rw and returns its RFCOMM channel. Every
// Write on rw must send one PDU and every Read must return one PDU, as an
// L2CAP SOCK_SEQPACKET socket does.
func Query(rw io.ReadWriter, service uint16) (int, error) {
	var (
		lists []byte
		cont  []byte
		buf   = make([]byte, maxPDU)
	)
	for tid := uint16(1); ; tid++ {
		if tid > maxContinuations {
			return 0, fmt.Errorf("%w: too many continuations", ErrMalformed)
		}
		req := ServiceSearchAttributeRequest(tid, service, []uint16{AttrProtocolDescriptorList}, cont)
		if _, err := rw.Write(req); err != nil {
			return 0, fmt.Errorf("sdp: send request: %w", err)
		}
		n, err := rw.Read(buf)
		if err != nil {
			return 0, fmt.Errorf("sdp: read response: %w", err)
		}
		part, next, err := ParseServiceSearchAttributeResponse(buf[:n], tid)
		if err != nil {
			return 0, err
		}
		lists = append(lists, part...)
		if len(next) == 0 {
			break
		}
		cont = append(cont[:0], next...)
	}
	return RFCOMMChannel(lists)
}
