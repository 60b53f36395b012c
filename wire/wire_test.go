// wire_test.go - Tests for the wire protocol framing.
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

package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageHeader(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	hdr := &MessageHeader{MessageType: 0x82, PayloadLength: 0x01020304}
	b := hdr.ToBytes()
	require.Len(b, HeaderLength, "MessageHeader: ToBytes() length")
	require.Equal(byte(0x82), b[0], "MessageHeader: type code")
	// Little endian length.
	require.Equal([]byte{0x04, 0x03, 0x02, 0x01}, b[1:5], "MessageHeader: length encoding")

	h, err := HeaderFromBytes(b)
	require.NoError(err, "HeaderFromBytes() failed")
	require.Equal(hdr, h, "MessageHeader: round trip")
}

func TestHeaderErrors(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	_, err := HeaderFromBytes([]byte{0x82, 0x01})
	require.Equal(ErrShortHeader, err, "truncated header")

	hdr := &MessageHeader{MessageType: 0x84, PayloadLength: MaxPayloadLength + 1}
	_, err = HeaderFromBytes(hdr.ToBytes())
	require.Equal(ErrPayloadTooLarge, err, "oversized payload")
}

func TestStrings(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	b := PutString(nil, "jamtaba")
	require.Equal([]byte("jamtaba\x00"), b, "PutString encoding")

	s, rest := GetString(append(b, 0xaa, 0xbb))
	require.Equal("jamtaba", s, "GetString value")
	require.Equal([]byte{0xaa, 0xbb}, rest, "GetString remainder")

	// Missing terminator, the string ends at the end of the stream.
	s, rest = GetString([]byte("trunc"))
	require.Equal("trunc", s, "GetString truncated value")
	require.Nil(rest, "GetString truncated remainder")

	s, rest = GetString([]byte{0x00})
	require.Equal("", s, "GetString empty value")
	require.Len(rest, 0, "GetString empty remainder")
}

func TestStreamDecoder(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	payload := []byte("interval bytes")
	hdr := &MessageHeader{MessageType: 0x84, PayloadLength: uint32(len(payload))}
	raw := append(hdr.ToBytes(), payload...)

	// Whole message in one call.
	d := new(StreamDecoder)
	d.Feed(raw)
	h, p, err := d.Next()
	require.NoError(err, "Next() failed")
	require.Equal(hdr, h, "decoded header")
	require.Equal(payload, p, "decoded payload")

	// No leftover message.
	h, _, err = d.Next()
	require.NoError(err, "Next() on empty buffer failed")
	require.Nil(h, "decoder must wait for more bytes")

	// The same message fed one byte at a time must decode identically.
	d = new(StreamDecoder)
	for i, c := range raw {
		d.Feed([]byte{c})
		h, p, err = d.Next()
		require.NoError(err, "Next() failed at byte %d", i)
		if i < len(raw)-1 {
			require.Nil(h, "message completed early at byte %d", i)
		}
	}
	require.Equal(hdr, h, "byte-by-byte header")
	require.Equal(payload, p, "byte-by-byte payload")
}

func TestStreamDecoderCoalesced(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	// Two messages arriving in a single read.
	first := (&MessageHeader{MessageType: 0xfd}).ToBytes()
	second := append((&MessageHeader{MessageType: 0x81, PayloadLength: 2}).ToBytes(), 0xca, 0xfe)

	d := new(StreamDecoder)
	d.Feed(append(first, second...))

	h, p, err := d.Next()
	require.NoError(err, "Next() failed")
	require.Equal(byte(0xfd), h.MessageType, "first message type")
	require.Len(p, 0, "first message payload")

	h, p, err = d.Next()
	require.NoError(err, "Next() failed")
	require.Equal(byte(0x81), h.MessageType, "second message type")
	require.Equal([]byte{0xca, 0xfe}, p, "second message payload")
}
