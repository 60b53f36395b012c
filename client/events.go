// events.go - Jam client events.
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

package client

import (
	"github.com/elieserdejesus/jamtaba/wire/commands"
)

// UserJoinedEvent is the event sent when another user joins the jam.
type UserJoinedEvent struct {
	// UserName is the name of the user that joined.
	UserName string
}

// UserLeftEvent is the event sent when another user leaves the jam.
type UserLeftEvent struct {
	// UserName is the name of the user that left.
	UserName string
}

// UserCountEvent is the event sent when the number of connected users
// changes.
type UserCountEvent struct {
	// Users is the number of connected users.
	Users int

	// MaxUsers is the server's user limit.
	MaxUsers int
}

// ChannelsChangedEvent is the event sent when a user's channel set
// changes, including the initial roster pushed right after login.
type ChannelsChangedEvent struct {
	// Channels are the changed channel entries.
	Channels []commands.UserChannel
}

// ChatMessageEvent is the event sent when a chat message arrives.
type ChatMessageEvent struct {
	// Kind is the message kind.
	Kind commands.ChatMessageKind

	// From is the sending user, empty for server notices.
	From string

	// Text is the message body.
	Text string
}

// TopicChangedEvent is the event sent when the server topic changes.
type TopicChangedEvent struct {
	// SetBy is the user that changed the topic, empty for the server.
	SetBy string

	// Topic is the new topic.
	Topic string
}

// ServerConfigEvent is the event sent when the jam tempo changes.
type ServerConfigEvent struct {
	// BPM is the server tempo in beats per minute.
	BPM uint16

	// BPI is the interval length in beats.
	BPI uint16
}

// AudioChunkEvent is the event sent when a chunk of another user's audio
// interval arrives.
type AudioChunkEvent struct {
	// UserName is the uploading user.
	UserName string

	// ChannelIndex is the uploader's channel.
	ChannelIndex uint8

	// GUID identifies the interval the chunk belongs to.
	GUID [commands.GUIDLength]byte

	// Data is the encoded audio data.
	Data []byte

	// IsLastPart is set for the final chunk of the interval.
	IsLastPart bool
}

// DisconnectedEvent is the event sent when the connection to the server is
// lost.  It is the last event before the sink is closed.
type DisconnectedEvent struct {
	// Err is the error that caused the disconnect, if any.
	Err error
}
