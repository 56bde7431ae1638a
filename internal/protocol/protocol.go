// Package protocol implements the binary framing codec (component C)
// shared by shell traffic and SFTP on the client↔gateway stream.
//
// Wire envelope (spec §4.3):
//
//	+-------------+--------+--------+--------------+---------------+---------+
//	| magic (4B)  | ver(1B)| type(1B)| hdrLen(4B,BE)| header (JSON) | payload |
//	+-------------+--------+--------+--------------+---------------+---------+
//
// One call to Encode produces exactly one frame; one call to Decode consumes
// exactly one frame. The codec never partially consumes state on failure.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Magic and Version are fixed by the wire protocol; byte-compatibility with
// existing clients requires these exact values.
const (
	Magic   uint32 = 0x45535348 // "ESSH"
	Version byte   = 0x02
)

// Type is the one-byte message type. The numbering below is the single
// canonical numbering spec §9 Open Question 1 resolves in favor of — the
// server's own numbering, duplicates collapsed.
type Type byte

const (
	// Control family.
	TypeHandshake  Type = 0x00
	TypeHeartbeat  Type = 0x01
	TypeError      Type = 0x02
	TypeDisconnect Type = 0x07

	// Shell family.
	TypeSSHData    Type = 0x10
	TypeSSHResize  Type = 0x11
	TypeSSHCommand Type = 0x12
	TypeSSHDataAck Type = 0x87

	// SFTP request family.
	TypeSFTPInit           Type = 0x20
	TypeSFTPList           Type = 0x21
	TypeSFTPUpload         Type = 0x22
	TypeSFTPDownload       Type = 0x23
	TypeSFTPMkdir          Type = 0x24
	TypeSFTPDelete         Type = 0x25
	TypeSFTPRename         Type = 0x26
	TypeSFTPChmod          Type = 0x27
	TypeSFTPDownloadFolder Type = 0x28
	TypeSFTPClose          Type = 0x29
	TypeSFTPCancel         Type = 0x2A

	// Response family. SFTP_SUCCESS/SFTP_ERROR are not distinct wire types:
	// they are Success/Error frames whose header carries SFTP-shaped fields.
	TypeSuccess        Type = 0x80
	TypeProgress       Type = 0x81
	TypeSFTPFileData   Type = 0x83
	TypeSFTPFolderData Type = 0x84
)

// frameHeaderLen is the fixed-size portion preceding the JSON header:
// magic(4) + ver(1) + type(1) + hdrLen(4).
const frameHeaderLen = 10

// maxHeaderLen guards against a corrupt/hostile hdrLen value forcing an
// unbounded allocation before the JSON parse even runs.
const maxHeaderLen = 8 << 20 // 8 MiB

// Frame is a decoded envelope. Header is left as raw JSON so callers can
// unmarshal into the message-specific struct they expect for Type.
type Frame struct {
	Type    Type
	Header  json.RawMessage
	Payload []byte
}

// Decode errors. Each is returned verbatim (not wrapped) so callers can
// compare with errors.Is and map directly onto the wire ErrorCode taxonomy.
var (
	ErrBadMagic   = fmt.Errorf("protocol: %s", ErrBadMagicCode)
	ErrBadVersion = fmt.Errorf("protocol: %s", ErrBadVersionCode)
	ErrShortFrame = fmt.Errorf("protocol: %s", "short frame")
	ErrBadHeader  = fmt.Errorf("protocol: %s", "bad header json")
)

// Decode parses one frame from a complete, already-delimited byte slice
// (the gateway receives exactly one frame per WebSocket binary message, so
// there is no need to track a read cursor across calls).
func Decode(frame []byte) (Frame, error) {
	if len(frame) < frameHeaderLen {
		return Frame{}, ErrShortFrame
	}

	magic := binary.BigEndian.Uint32(frame[0:4])
	if magic != Magic {
		return Frame{}, ErrBadMagic
	}

	ver := frame[4]
	if ver != Version {
		return Frame{}, ErrBadVersion
	}

	typ := Type(frame[5])
	hdrLen := binary.BigEndian.Uint32(frame[6:10])
	if hdrLen > maxHeaderLen {
		return Frame{}, ErrBadHeader
	}

	rest := frame[frameHeaderLen:]
	if uint32(len(rest)) < hdrLen {
		return Frame{}, ErrShortFrame
	}

	header := rest[:hdrLen]
	if !json.Valid(header) {
		return Frame{}, ErrBadHeader
	}

	payload := rest[hdrLen:]
	// Copy so the returned Frame doesn't alias the caller's buffer, which
	// may come from a pooled WS read buffer reused on the next message.
	hdrCopy := make([]byte, len(header))
	copy(hdrCopy, header)
	var payloadCopy []byte
	if len(payload) > 0 {
		payloadCopy = make([]byte, len(payload))
		copy(payloadCopy, payload)
	}

	return Frame{Type: typ, Header: hdrCopy, Payload: payloadCopy}, nil
}

// Encode produces a single complete frame. header may be nil, in which case
// an empty JSON object is written so hdrLen is always well-defined.
func Encode(typ Type, header any, payload []byte) ([]byte, error) {
	var hdrBytes []byte
	var err error
	if header == nil {
		hdrBytes = []byte("{}")
	} else {
		hdrBytes, err = json.Marshal(header)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode header: %w", err)
		}
	}

	buf := make([]byte, frameHeaderLen+len(hdrBytes)+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = Version
	buf[5] = byte(typ)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(hdrBytes)))
	copy(buf[frameHeaderLen:], hdrBytes)
	copy(buf[frameHeaderLen+len(hdrBytes):], payload)
	return buf, nil
}

// DecodeHeader is a convenience wrapper unmarshalling Frame.Header into v.
func DecodeHeader(f Frame, v any) error {
	if len(f.Header) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Header, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	return nil
}
