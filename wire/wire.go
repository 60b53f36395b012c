// wire.go - NINJAM wire protocol framing.
// Copyright (C) 2017  Jamtaba authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package wire implements the NINJAM wire protocol framing.  Every message
// on the wire is preceded by a 5 byte header, a one byte type code followed
// by the body length as a little endian uint32.
package wire

import (
	"encoding/binary"
	"errors"
)

const (
	// HeaderLength is the length of a message header in bytes.
	HeaderLength = 5

	// MaxPayloadLength is the largest message body that will be accepted.
	// Encoded audio interval chunks are the largest legitimate payloads,
	// and they are far below this.
	MaxPayloadLength = 4 * 1024 * 1024
)

var (
	// ErrShortHeader is the error returned when a header is truncated.
	ErrShortHeader = errors.New("wire: truncated message header")

	// ErrPayloadTooLarge is the error returned when a header declares a
	// body larger than MaxPayloadLength.
	ErrPayloadTooLarge = errors.New("wire: payload length exceeds limit")
)

// MessageHeader is the fixed header preceding every message.
type MessageHeader struct {
	MessageType   byte
	PayloadLength uint32
}

// ToBytes serializes the header and returns the resulting slice.
func (h *MessageHeader) ToBytes() []byte {
	out := make([]byte, HeaderLength)
	out[0] = h.MessageType
	binary.LittleEndian.PutUint32(out[1:5], h.PayloadLength)
	return out
}

// HeaderFromBytes de-serializes a message header from b.
func HeaderFromBytes(b []byte) (*MessageHeader, error) {
	if len(b) < HeaderLength {
		return nil, ErrShortHeader
	}
	h := &MessageHeader{
		MessageType:   b[0],
		PayloadLength: binary.LittleEndian.Uint32(b[1:5]),
	}
	if h.PayloadLength > MaxPayloadLength {
		return nil, ErrPayloadTooLarge
	}
	return h, nil
}

// PutString appends s to b as an UTF-8 NUL terminated string.
func PutString(b []byte, s string) []byte {
	b = append(b, s...)
	return append(b, 0)
}

// GetString extracts a NUL terminated string from b, returning the string
// and the remainder of the slice.  Decoding is tolerant of truncation, the
// string ends at the first NUL or at the end of the slice, whichever comes
// first.
func GetString(b []byte) (string, []byte) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:]
		}
	}
	return string(b), nil
}

// StringLength returns the encoded length of s, including the terminator.
func StringLength(s string) int {
	return len(s) + 1
}
