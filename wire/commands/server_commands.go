// server_commands.go - NINJAM server to client wire protocol messages.
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

package commands

import (
	"encoding/binary"

	"github.com/elieserdejesus/jamtaba/wire"
)

// AuthChallenge is the first message pushed to every new connection.
type AuthChallenge struct {
	Challenge          [ChallengeLength]byte
	ServerCapabilities uint32
	ProtocolVersion    uint32
	LicenceAgreement   string
}

// ToBytes serializes the AuthChallenge and returns the resulting slice.
func (c *AuthChallenge) ToBytes() []byte {
	caps := c.ServerCapabilities
	if c.LicenceAgreement != "" {
		caps |= AuthServerHasLicence
	}
	out := make([]byte, 0, ChallengeLength+8+wire.StringLength(c.LicenceAgreement))
	out = append(out, c.Challenge[:]...)
	out = binary.LittleEndian.AppendUint32(out, caps)
	out = binary.LittleEndian.AppendUint32(out, c.ProtocolVersion)
	if caps&AuthServerHasLicence != 0 {
		out = wire.PutString(out, c.LicenceAgreement)
	}
	return frame(authChallenge, out)
}

func authChallengeFromBytes(b []byte) (Command, error) {
	if len(b) < ChallengeLength+8 {
		return nil, errInvalidMessage
	}
	c := new(AuthChallenge)
	copy(c.Challenge[:], b[:ChallengeLength])
	b = b[ChallengeLength:]
	c.ServerCapabilities = binary.LittleEndian.Uint32(b[0:4])
	c.ProtocolVersion = binary.LittleEndian.Uint32(b[4:8])
	if c.ServerCapabilities&AuthServerHasLicence != 0 {
		c.LicenceAgreement, _ = wire.GetString(b[8:])
	}
	return c, nil
}

// AuthReply finishes the handshake.  On success the message carries the
// display name assigned to the user, which may differ from the requested
// one when a disambiguating suffix was needed.  On failure it carries the
// rejection text and the connection is closed right after.
type AuthReply struct {
	Flag        uint8
	Message     string
	MaxChannels uint8
}

// Accepted returns true if the reply reports a successful authentication.
func (c *AuthReply) Accepted() bool {
	return c.Flag&0x01 != 0
}

// ToBytes serializes the AuthReply and returns the resulting slice.
func (c *AuthReply) ToBytes() []byte {
	out := make([]byte, 0, 2+wire.StringLength(c.Message))
	out = append(out, c.Flag)
	out = wire.PutString(out, c.Message)
	out = append(out, c.MaxChannels)
	return frame(authReply, out)
}

func authReplyFromBytes(b []byte) (Command, error) {
	if len(b) < 3 {
		return nil, errInvalidMessage
	}
	c := new(AuthReply)
	c.Flag = b[0]
	c.Message, b = wire.GetString(b[1:])
	if len(b) < 1 {
		return nil, errInvalidMessage
	}
	c.MaxChannels = b[0]
	return c, nil
}

// ConfigChangeNotify announces the server tempo parameters.
type ConfigChangeNotify struct {
	BPM uint16
	BPI uint16
}

// ToBytes serializes the ConfigChangeNotify and returns the resulting slice.
func (c *ConfigChangeNotify) ToBytes() []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint16(out[0:2], c.BPM)
	binary.LittleEndian.PutUint16(out[2:4], c.BPI)
	return frame(configChangeNotify, out)
}

func configChangeNotifyFromBytes(b []byte) (Command, error) {
	if len(b) < 4 {
		return nil, errInvalidMessage
	}
	return &ConfigChangeNotify{
		BPM: binary.LittleEndian.Uint16(b[0:2]),
		BPI: binary.LittleEndian.Uint16(b[2:4]),
	}, nil
}

// UserChannel is a single entry of a UserInfoChangeNotify message.
type UserChannel struct {
	Active       bool
	ChannelIndex uint8
	Volume       uint16
	Pan          uint8
	Flags        uint8
	UserName     string
	ChannelName  string
}

// UserInfoChangeNotify announces channel additions and removals for one or
// more users.  Entries with Active false delete the named channel on the
// receiver.
type UserInfoChangeNotify struct {
	Channels []UserChannel
}

// ToBytes serializes the UserInfoChangeNotify and returns the resulting
// slice.
func (c *UserInfoChangeNotify) ToBytes() []byte {
	var out []byte
	for _, ch := range c.Channels {
		var active byte
		if ch.Active {
			active = 1
		}
		out = append(out, active, ch.ChannelIndex)
		out = binary.LittleEndian.AppendUint16(out, ch.Volume)
		out = append(out, ch.Pan, ch.Flags)
		out = wire.PutString(out, ch.UserName)
		out = wire.PutString(out, ch.ChannelName)
	}
	return frame(userInfoChangeNotify, out)
}

func userInfoChangeNotifyFromBytes(b []byte) (Command, error) {
	c := new(UserInfoChangeNotify)
	for len(b) > 0 {
		if len(b) < 6 {
			return nil, errInvalidMessage
		}
		var ch UserChannel
		ch.Active = b[0] != 0
		ch.ChannelIndex = b[1]
		ch.Volume = binary.LittleEndian.Uint16(b[2:4])
		ch.Pan = b[4]
		ch.Flags = b[5]
		b = b[6:]
		ch.UserName, b = wire.GetString(b)
		ch.ChannelName, b = wire.GetString(b)
		c.Channels = append(c.Channels, ch)
	}
	return c, nil
}

// DownloadIntervalBegin relays an uploader's interval announcement to the
// subscribed receivers.  Unlike the upload variant the user name is NUL
// terminated.
type DownloadIntervalBegin struct {
	GUID          [GUIDLength]byte
	EstimatedSize uint32
	FourCC        [FourCCLength]byte
	ChannelIndex  uint8
	UserName      string
}

// ToBytes serializes the DownloadIntervalBegin and returns the resulting
// slice.
func (c *DownloadIntervalBegin) ToBytes() []byte {
	out := make([]byte, 0, GUIDLength+4+FourCCLength+1+wire.StringLength(c.UserName))
	out = append(out, c.GUID[:]...)
	out = binary.LittleEndian.AppendUint32(out, c.EstimatedSize)
	out = append(out, c.FourCC[:]...)
	out = append(out, c.ChannelIndex)
	out = wire.PutString(out, c.UserName)
	return frame(downloadBegin, out)
}

func downloadIntervalBeginFromBytes(b []byte) (Command, error) {
	if len(b) < GUIDLength+4+FourCCLength+1 {
		return nil, errInvalidMessage
	}
	c := new(DownloadIntervalBegin)
	copy(c.GUID[:], b[:GUIDLength])
	b = b[GUIDLength:]
	c.EstimatedSize = binary.LittleEndian.Uint32(b[0:4])
	copy(c.FourCC[:], b[4:4+FourCCLength])
	c.ChannelIndex = b[4+FourCCLength]
	c.UserName, _ = wire.GetString(b[4+FourCCLength+1:])
	return c, nil
}

// DownloadIntervalWrite relays one chunk of an interval to the subscribed
// receivers.
type DownloadIntervalWrite struct {
	GUID        [GUIDLength]byte
	IsLastPart  bool
	EncodedData []byte
}

// ToBytes serializes the DownloadIntervalWrite and returns the resulting
// slice.
func (c *DownloadIntervalWrite) ToBytes() []byte {
	out := make([]byte, 0, GUIDLength+1+len(c.EncodedData))
	out = append(out, c.GUID[:]...)
	var flags byte
	if c.IsLastPart {
		flags = 1
	}
	out = append(out, flags)
	out = append(out, c.EncodedData...)
	return frame(downloadWrite, out)
}

func downloadIntervalWriteFromBytes(b []byte) (Command, error) {
	if len(b) < GUIDLength+1 {
		return nil, errInvalidMessage
	}
	c := new(DownloadIntervalWrite)
	copy(c.GUID[:], b[:GUIDLength])
	c.IsLastPart = b[GUIDLength]&0x01 != 0
	c.EncodedData = make([]byte, len(b)-GUIDLength-1)
	copy(c.EncodedData, b[GUIDLength+1:])
	return c, nil
}

// ChatNotify is a server chat broadcast.  The verb decides how the
// arguments are interpreted, MSG and PRIVMSG carry a sender and a text,
// TOPIC carries the editor and the new topic, JOIN and PART carry the user
// name.
type ChatNotify struct {
	Command string
	Args    []string
}

// ToBytes serializes the ChatNotify and returns the resulting slice.
func (c *ChatNotify) ToBytes() []byte {
	out := wire.PutString(nil, c.Command)
	for _, arg := range c.Args {
		out = wire.PutString(out, arg)
	}
	return frame(chatMessage, out)
}

func chatNotifyFromBytes(b []byte) (Command, error) {
	c := new(ChatNotify)
	c.Command, b = wire.GetString(b)
	for len(b) > 0 {
		var arg string
		arg, b = wire.GetString(b)
		c.Args = append(c.Args, arg)
	}
	return c, nil
}

// FromServerBytes de-serializes a message received from a server, given its
// header type code and exactly PayloadLength bytes of body.
func FromServerBytes(id byte, b []byte) (Command, error) {
	switch id {
	case authChallenge:
		return authChallengeFromBytes(b)
	case authReply:
		return authReplyFromBytes(b)
	case configChangeNotify:
		return configChangeNotifyFromBytes(b)
	case userInfoChangeNotify:
		return userInfoChangeNotifyFromBytes(b)
	case downloadBegin:
		return downloadIntervalBeginFromBytes(b)
	case downloadWrite:
		return downloadIntervalWriteFromBytes(b)
	case chatMessage:
		return chatNotifyFromBytes(b)
	case keepAlive:
		return &KeepAlive{}, nil
	default:
		return nil, ErrUnknownMessageType
	}
}
