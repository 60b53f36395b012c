// commands_test.go - Tests for wire protocol messages.
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
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elieserdejesus/jamtaba/wire"
)

// reframe splits a serialized message back into its header and payload, so
// the decoders can be exercised the way a session would drive them.
func reframe(t *testing.T, b []byte) (*wire.MessageHeader, []byte) {
	hdr, err := wire.HeaderFromBytes(b)
	require.NoError(t, err, "HeaderFromBytes() failed")
	payload := b[wire.HeaderLength:]
	require.Equal(t, int(hdr.PayloadLength), len(payload), "header length must match body")
	return hdr, payload
}

func clientRoundTrip(t *testing.T, cmd Command) Command {
	hdr, payload := reframe(t, cmd.ToBytes())
	c, err := FromClientBytes(hdr.MessageType, payload)
	require.NoError(t, err, "FromClientBytes() failed")
	return c
}

func serverRoundTrip(t *testing.T, cmd Command) Command {
	hdr, payload := reframe(t, cmd.ToBytes())
	c, err := FromServerBytes(hdr.MessageType, payload)
	require.NoError(t, err, "FromServerBytes() failed")
	return c
}

func TestAuthUser(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cmd := &AuthUser{
		UserName:           "anonymous:bob",
		ClientCapabilities: 1,
		ProtocolVersion:    ProtocolVersion,
	}
	copy(cmd.PasswordHash[:], []byte("01234567890123456789"))

	require.Equal(cmd, clientRoundTrip(t, cmd), "AuthUser: round trip")

	// Max length user name.
	cmd.UserName = strings.Repeat("x", 255)
	require.Equal(cmd, clientRoundTrip(t, cmd), "AuthUser: long name round trip")
}

func TestPasswordHash(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	challenge := [ChallengeLength]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	inner := HashUserPassword("alice", "secret")
	require.Equal("6985e52cea44a28695d5c440bd42f57e9f50b7b1", hex.EncodeToString(inner[:]), "inner hash")

	outer := ComputePasswordHash("alice", "secret", challenge)
	require.Equal("b98c30da0bc4185973113a99143fc0ebacb8acf7", hex.EncodeToString(outer[:]), "challenge response")

	require.Equal(outer, ChallengeResponse(inner, challenge), "response from stored inner hash")
}

func TestSetChannel(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cmd := &SetChannel{
		Channels: []Channel{
			{Name: "guitar", Volume: 255, Pan: 64, Flags: 0},
			{Name: "voice", Volume: 0, Pan: 0, Flags: ChannelRemoveFlag},
		},
	}
	c := clientRoundTrip(t, cmd)
	require.Equal(cmd, c, "SetChannel: round trip")
	require.True(c.(*SetChannel).Channels[1].IsRemove(), "SetChannel: remove flag")

	// Empty channel list.
	empty := &SetChannel{}
	require.Equal(empty, clientRoundTrip(t, empty), "SetChannel: empty round trip")
}

func TestSetUserMask(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cmd := &SetUserMask{UserName: "alice@10.0.0.1", ChannelsMask: 0xffffffff}
	require.Equal(cmd, clientRoundTrip(t, cmd), "SetUserMask: round trip")
}

func TestUploadIntervalBegin(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cmd := &UploadIntervalBegin{
		EstimatedSize: 4096,
		FourCC:        FourCCAudio,
		ChannelIndex:  2,
		UserName:      "bob@jam.example.com",
	}
	copy(cmd.GUID[:], []byte("0123456789abcdef"))
	require.Equal(cmd, clientRoundTrip(t, cmd), "UploadIntervalBegin: round trip")

	cmd.FourCC = FourCCVideo
	cmd.UserName = ""
	require.Equal(cmd, clientRoundTrip(t, cmd), "UploadIntervalBegin: video, no name")
}

func TestIntervalUploadWrite(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cmd := &IntervalUploadWrite{
		IsLastPart:  false,
		EncodedData: []byte{0xde, 0xad, 0xbe, 0xef},
	}
	copy(cmd.GUID[:], []byte("0123456789abcdef"))
	require.Equal(cmd, clientRoundTrip(t, cmd), "IntervalUploadWrite: round trip")

	cmd.IsLastPart = true
	cmd.EncodedData = []byte{}
	require.Equal(cmd, clientRoundTrip(t, cmd), "IntervalUploadWrite: last part, empty data")
}

func TestKeepAlive(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cmd := &KeepAlive{}
	b := cmd.ToBytes()
	require.Len(b, wire.HeaderLength, "KeepAlive: header only")
	require.Equal(cmd, clientRoundTrip(t, cmd), "KeepAlive: client round trip")
	require.Equal(cmd, serverRoundTrip(t, cmd), "KeepAlive: server round trip")
}

func TestChatMessage(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cmd := NewChatMessage("hello everyone", GenericMessage)
	require.Equal(cmd, clientRoundTrip(t, cmd), "ChatMessage: generic round trip")

	// Zero length text.
	cmd = NewChatMessage("", GenericMessage)
	require.Equal(cmd, clientRoundTrip(t, cmd), "ChatMessage: empty round trip")

	cmd = NewChatMessage("/bpm 120", AdminMessage)
	require.Equal("bpm 120", cmd.Text, "ChatMessage: admin strips slash")
	require.Equal(cmd, clientRoundTrip(t, cmd), "ChatMessage: admin round trip")

	cmd = NewChatMessage("/msg bob hello there", PrivateMessage)
	require.Equal("bob", cmd.Recipient, "ChatMessage: private recipient")
	require.Equal("hello there", cmd.Text, "ChatMessage: private body")
	require.Equal(cmd, clientRoundTrip(t, cmd), "ChatMessage: private round trip")

	// No space after the recipient, the body is left empty.
	cmd = NewChatMessage("/msg bob", PrivateMessage)
	require.Equal("bob", cmd.Recipient, "ChatMessage: lone recipient")
	require.Equal("", cmd.Text, "ChatMessage: missing body")

	cmd = NewChatMessage("jam in A minor", TopicMessage)
	require.Equal(cmd, clientRoundTrip(t, cmd), "ChatMessage: topic round trip")
}

func TestAuthChallenge(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cmd := &AuthChallenge{
		Challenge:       [ChallengeLength]byte{1, 2, 3, 4, 5, 6, 7, 8},
		ProtocolVersion: ProtocolVersion,
	}
	require.Equal(cmd, serverRoundTrip(t, cmd), "AuthChallenge: round trip")

	lic := &AuthChallenge{
		Challenge:        [ChallengeLength]byte{8, 7, 6, 5, 4, 3, 2, 1},
		ProtocolVersion:  ProtocolVersion,
		LicenceAgreement: "be excellent to each other",
	}
	c := serverRoundTrip(t, lic).(*AuthChallenge)
	require.Equal(lic.LicenceAgreement, c.LicenceAgreement, "AuthChallenge: licence text")
	require.NotZero(c.ServerCapabilities&AuthServerHasLicence, "AuthChallenge: licence bit")
}

func TestAuthReply(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cmd := &AuthReply{Flag: 1, Message: "bob@10.0.0.2", MaxChannels: 2}
	c := serverRoundTrip(t, cmd)
	require.Equal(cmd, c, "AuthReply: round trip")
	require.True(c.(*AuthReply).Accepted(), "AuthReply: accepted")

	rejected := &AuthReply{Flag: 0, Message: "invalid login"}
	c = serverRoundTrip(t, rejected)
	require.False(c.(*AuthReply).Accepted(), "AuthReply: rejected")
}

func TestConfigChangeNotify(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cmd := &ConfigChangeNotify{BPM: 120, BPI: 16}
	require.Equal(cmd, serverRoundTrip(t, cmd), "ConfigChangeNotify: round trip")
}

func TestUserInfoChangeNotify(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cmd := &UserInfoChangeNotify{
		Channels: []UserChannel{
			{Active: true, ChannelIndex: 0, Volume: 255, UserName: "alice", ChannelName: "guitar"},
			{Active: false, ChannelIndex: 1, UserName: "alice", ChannelName: "voice"},
		},
	}
	require.Equal(cmd, serverRoundTrip(t, cmd), "UserInfoChangeNotify: round trip")

	empty := &UserInfoChangeNotify{}
	require.Equal(empty, serverRoundTrip(t, empty), "UserInfoChangeNotify: empty round trip")
}

func TestDownloadInterval(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	begin := &DownloadIntervalBegin{
		EstimatedSize: 1024,
		FourCC:        FourCCAudio,
		ChannelIndex:  1,
		UserName:      "alice",
	}
	copy(begin.GUID[:], []byte("fedcba9876543210"))
	require.Equal(begin, serverRoundTrip(t, begin), "DownloadIntervalBegin: round trip")

	write := &DownloadIntervalWrite{IsLastPart: true, EncodedData: []byte{1, 2, 3}}
	copy(write.GUID[:], begin.GUID[:])
	require.Equal(write, serverRoundTrip(t, write), "DownloadIntervalWrite: round trip")
}

func TestChatNotify(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cmd := &ChatNotify{Command: ChatCommandTopic, Args: []string{"server", "jam in A minor"}}
	require.Equal(cmd, serverRoundTrip(t, cmd), "ChatNotify: round trip")

	join := &ChatNotify{Command: ChatCommandJoin, Args: []string{"bob"}}
	require.Equal(join, serverRoundTrip(t, join), "ChatNotify: join round trip")
}

func TestUnknownMessageType(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	_, err := FromClientBytes(0x7f, []byte{1, 2, 3})
	require.Equal(ErrUnknownMessageType, err, "client unknown type")

	_, err = FromServerBytes(0x7f, nil)
	require.Equal(ErrUnknownMessageType, err, "server unknown type")
}
