// stream.go - Incremental NINJAM message framing.
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

// StreamDecoder accumulates bytes as they arrive off a TCP stream and
// splits them into framed messages.  TCP makes no promises about read
// boundaries, a single Read may return a fraction of a message or several
// coalesced messages, so the decoder buffers until a full header is
// available, and then until the declared body length is available.
type StreamDecoder struct {
	buf []byte
	hdr *MessageHeader
}

// Feed appends newly read bytes to the decoder's buffer.
func (d *StreamDecoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next returns the next complete message, or a nil header if more bytes
// are needed.  The returned payload is owned by the caller.  An error is
// returned only for unrecoverable framing problems, after which the stream
// is desynchronized and the connection must be dropped.
func (d *StreamDecoder) Next() (*MessageHeader, []byte, error) {
	if d.hdr == nil {
		if len(d.buf) < HeaderLength {
			return nil, nil, nil
		}
		hdr, err := HeaderFromBytes(d.buf[:HeaderLength])
		if err != nil {
			return nil, nil, err
		}
		d.hdr = hdr
		d.buf = d.buf[HeaderLength:]
	}

	if uint32(len(d.buf)) < d.hdr.PayloadLength {
		return nil, nil, nil
	}

	hdr := d.hdr
	payload := make([]byte, hdr.PayloadLength)
	copy(payload, d.buf[:hdr.PayloadLength])
	d.buf = d.buf[hdr.PayloadLength:]
	d.hdr = nil
	return hdr, payload, nil
}
