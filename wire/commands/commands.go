// commands.go - NINJAM client to server wire protocol messages.
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

// Wire protocol messages.
package commands

import (
	"encoding/binary"
	"errors"
	"strings"

	"github.com/elieserdejesus/jamtaba/wire"
)

var (
	// ErrUnknownMessageType is the error returned when a message header
	// carries a type code this implementation does not recognize.  The
	// caller has already consumed the declared payload length, so the
	// stream stays framed and the connection survives.
	ErrUnknownMessageType = errors.New("commands: unknown message type")

	errInvalidMessage = errors.New("commands: invalid wire protocol message")
)

// Command is the common interface exposed by all message structures.
type Command interface {
	// ToBytes serializes the message, header included, and returns the
	// resulting slice.
	ToBytes() []byte
}

func frame(id byte, payload []byte) []byte {
	hdr := wire.MessageHeader{MessageType: id, PayloadLength: uint32(len(payload))}
	return append(hdr.ToBytes(), payload...)
}

// AuthUser is the client authentication request.
type AuthUser struct {
	PasswordHash       [PasswordHashLength]byte
	UserName           string
	ClientCapabilities uint32
	ProtocolVersion    uint32
}

// ToBytes serializes the AuthUser and returns the resulting slice.
func (c *AuthUser) ToBytes() []byte {
	out := make([]byte, 0, PasswordHashLength+wire.StringLength(c.UserName)+8)
	out = append(out, c.PasswordHash[:]...)
	out = wire.PutString(out, c.UserName)
	out = binary.LittleEndian.AppendUint32(out, c.ClientCapabilities)
	out = binary.LittleEndian.AppendUint32(out, c.ProtocolVersion)
	return frame(authUser, out)
}

func authUserFromBytes(b []byte) (Command, error) {
	if len(b) < PasswordHashLength+1+8 {
		return nil, errInvalidMessage
	}
	c := new(AuthUser)
	copy(c.PasswordHash[:], b[:PasswordHashLength])
	b = b[PasswordHashLength:]
	c.UserName, b = wire.GetString(b)
	if len(b) < 8 {
		return nil, errInvalidMessage
	}
	c.ClientCapabilities = binary.LittleEndian.Uint32(b[0:4])
	c.ProtocolVersion = binary.LittleEndian.Uint32(b[4:8])
	return c, nil
}

// Channel is a single entry of a SetChannel message.
type Channel struct {
	Name   string
	Volume uint16
	Pan    uint8
	Flags  uint8
}

// IsRemove returns true if the entry marks the channel for removal.
func (ch *Channel) IsRemove() bool {
	return ch.Flags&ChannelRemoveFlag != 0
}

// SetChannel announces the sender's channel list.  The list replaces
// whatever the server previously knew for this user, except that entries
// flagged for removal delete the named channel.
type SetChannel struct {
	Channels []Channel
}

// ToBytes serializes the SetChannel and returns the resulting slice.
func (c *SetChannel) ToBytes() []byte {
	out := make([]byte, 2)
	// Size of the per channel parameters following each name, volume
	// (2 bytes) + pan (1 byte) + flags (1 byte).
	binary.LittleEndian.PutUint16(out, 4)
	for _, ch := range c.Channels {
		out = wire.PutString(out, ch.Name)
		out = binary.LittleEndian.AppendUint16(out, ch.Volume)
		out = append(out, ch.Pan, ch.Flags)
	}
	return frame(setChannel, out)
}

func setChannelFromBytes(b []byte) (Command, error) {
	c := new(SetChannel)
	if len(b) == 0 {
		// An empty channel list is legal.
		return c, nil
	}
	if len(b) < 2 {
		return nil, errInvalidMessage
	}
	b = b[2:] // Parameter size, the fixed layout is assumed.
	for len(b) > 0 {
		var ch Channel
		ch.Name, b = wire.GetString(b)
		if len(b) < 4 {
			return nil, errInvalidMessage
		}
		ch.Volume = binary.LittleEndian.Uint16(b[0:2])
		ch.Pan = b[2]
		ch.Flags = b[3]
		b = b[4:]
		c.Channels = append(c.Channels, ch)
	}
	return c, nil
}

// SetUserMask subscribes the sender to a subset of another user's channels.
type SetUserMask struct {
	UserName     string
	ChannelsMask uint32
}

// ToBytes serializes the SetUserMask and returns the resulting slice.
func (c *SetUserMask) ToBytes() []byte {
	out := make([]byte, 0, wire.StringLength(c.UserName)+4)
	out = wire.PutString(out, c.UserName)
	out = binary.LittleEndian.AppendUint32(out, c.ChannelsMask)
	return frame(setUserMask, out)
}

func setUserMaskFromBytes(b []byte) (Command, error) {
	c := new(SetUserMask)
	var rest []byte
	c.UserName, rest = wire.GetString(b)
	if len(rest) < 4 {
		return nil, errInvalidMessage
	}
	c.ChannelsMask = binary.LittleEndian.Uint32(rest[0:4])
	return c, nil
}

// UploadIntervalBegin opens a new chunked interval upload.  The user name
// is encoded raw with no terminator, its length is implied by the payload
// length.
type UploadIntervalBegin struct {
	GUID          [GUIDLength]byte
	EstimatedSize uint32
	FourCC        [FourCCLength]byte
	ChannelIndex  uint8
	UserName      string
}

// ToBytes serializes the UploadIntervalBegin and returns the resulting slice.
func (c *UploadIntervalBegin) ToBytes() []byte {
	out := make([]byte, 0, GUIDLength+4+FourCCLength+1+len(c.UserName))
	out = append(out, c.GUID[:]...)
	out = binary.LittleEndian.AppendUint32(out, c.EstimatedSize)
	out = append(out, c.FourCC[:]...)
	out = append(out, c.ChannelIndex)
	out = append(out, c.UserName...)
	return frame(uploadIntervalBegin, out)
}

func uploadIntervalBeginFromBytes(b []byte) (Command, error) {
	if len(b) < GUIDLength+4+FourCCLength+1 {
		return nil, errInvalidMessage
	}
	c := new(UploadIntervalBegin)
	copy(c.GUID[:], b[:GUIDLength])
	b = b[GUIDLength:]
	c.EstimatedSize = binary.LittleEndian.Uint32(b[0:4])
	copy(c.FourCC[:], b[4:4+FourCCLength])
	c.ChannelIndex = b[4+FourCCLength]
	c.UserName = string(b[4+FourCCLength+1:])
	return c, nil
}

// IntervalUploadWrite carries one chunk of an interval upload.
type IntervalUploadWrite struct {
	GUID        [GUIDLength]byte
	IsLastPart  bool
	EncodedData []byte
}

// ToBytes serializes the IntervalUploadWrite and returns the resulting slice.
func (c *IntervalUploadWrite) ToBytes() []byte {
	out := make([]byte, 0, GUIDLength+1+len(c.EncodedData))
	out = append(out, c.GUID[:]...)
	var flags byte
	if c.IsLastPart {
		flags = 1
	}
	out = append(out, flags)
	out = append(out, c.EncodedData...)
	return frame(intervalUploadWrite, out)
}

func intervalUploadWriteFromBytes(b []byte) (Command, error) {
	if len(b) < GUIDLength+1 {
		return nil, errInvalidMessage
	}
	c := new(IntervalUploadWrite)
	copy(c.GUID[:], b[:GUIDLength])
	c.IsLastPart = b[GUIDLength]&0x01 != 0
	c.EncodedData = make([]byte, len(b)-GUIDLength-1)
	copy(c.EncodedData, b[GUIDLength+1:])
	return c, nil
}

// KeepAlive is a header only liveness probe.  Both directions send it.
type KeepAlive struct{}

// ToBytes serializes the KeepAlive and returns the resulting slice.
func (c *KeepAlive) ToBytes() []byte {
	return frame(keepAlive, nil)
}

// ChatMessageKind enumerates the client chat message kinds.
type ChatMessageKind int

const (
	// GenericMessage is a public chat line.
	GenericMessage ChatMessageKind = iota

	// AdminMessage is a server admin command.
	AdminMessage

	// PrivateMessage is a chat line routed to a single recipient.
	PrivateMessage

	// TopicMessage changes the server topic.
	TopicMessage
)

func (k ChatMessageKind) command() string {
	switch k {
	case AdminMessage:
		return ChatCommandAdmin
	case PrivateMessage:
		return ChatCommandPrivMsg
	case TopicMessage:
		return ChatCommandTopic
	}
	return ChatCommandMsg
}

// ChatMessage is a client chat line.  For private messages the recipient
// travels as a separate string on the wire.
type ChatMessage struct {
	Kind      ChatMessageKind
	Recipient string
	Text      string
}

// NewChatMessage builds a ChatMessage from raw user input, sanitizing the
// text per kind.  Admin commands lose their leading slash, private messages
// lose the "/msg " prefix and are split into recipient and body at the
// first space.  If a private message has no space the whole text is taken
// as the recipient and the body is left empty.
func NewChatMessage(text string, kind ChatMessageKind) *ChatMessage {
	c := &ChatMessage{Kind: kind}
	switch kind {
	case AdminMessage:
		if len(text) > 0 {
			text = text[1:]
		}
		c.Text = text
	case PrivateMessage:
		text = strings.TrimPrefix(text, "/msg ")
		if idx := strings.IndexByte(text, ' '); idx >= 0 {
			c.Recipient = text[:idx]
			c.Text = text[idx+1:]
		} else {
			c.Recipient = text
		}
	default:
		c.Text = text
	}
	return c
}

// ToBytes serializes the ChatMessage and returns the resulting slice.
func (c *ChatMessage) ToBytes() []byte {
	cmd := c.Kind.command()
	out := make([]byte, 0, wire.StringLength(cmd)+wire.StringLength(c.Recipient)+wire.StringLength(c.Text))
	out = wire.PutString(out, cmd)
	if c.Kind == PrivateMessage {
		out = wire.PutString(out, c.Recipient)
	}
	out = wire.PutString(out, c.Text)
	return frame(chatMessage, out)
}

func chatMessageFromBytes(b []byte) (Command, error) {
	c := new(ChatMessage)
	var cmd string
	cmd, b = wire.GetString(b)
	switch cmd {
	case ChatCommandAdmin:
		c.Kind = AdminMessage
	case ChatCommandPrivMsg:
		c.Kind = PrivateMessage
		c.Recipient, b = wire.GetString(b)
	case ChatCommandTopic:
		c.Kind = TopicMessage
	default:
		c.Kind = GenericMessage
	}
	c.Text, _ = wire.GetString(b)
	return c, nil
}

// FromClientBytes de-serializes a message received from a client, given its
// header type code and exactly PayloadLength bytes of body.
func FromClientBytes(id byte, b []byte) (Command, error) {
	switch id {
	case authUser:
		return authUserFromBytes(b)
	case setChannel:
		return setChannelFromBytes(b)
	case setUserMask:
		return setUserMaskFromBytes(b)
	case uploadIntervalBegin:
		return uploadIntervalBeginFromBytes(b)
	case intervalUploadWrite:
		return intervalUploadWriteFromBytes(b)
	case chatMessage:
		return chatMessageFromBytes(b)
	case keepAlive:
		return &KeepAlive{}, nil
	default:
		return nil, ErrUnknownMessageType
	}
}
