// constants.go - NINJAM message type codes.
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

const (
	// Server to client message type codes.
	authChallenge        byte = 0x00
	authReply            byte = 0x01
	configChangeNotify   byte = 0x02
	userInfoChangeNotify byte = 0x03
	downloadBegin        byte = 0x04
	downloadWrite        byte = 0x05

	// Client to server message type codes.
	authUser            byte = 0x80
	setUserMask         byte = 0x81
	setChannel          byte = 0x82
	uploadIntervalBegin byte = 0x83
	intervalUploadWrite byte = 0x84

	// Codes shared by both directions.
	chatMessage byte = 0xc0
	keepAlive   byte = 0xfd
)

const (
	// PasswordHashLength is the length of the auth password hash.
	PasswordHashLength = 20

	// ChallengeLength is the length of the auth challenge.
	ChallengeLength = 8

	// GUIDLength is the length of an interval GUID.
	GUIDLength = 16

	// FourCCLength is the length of an interval content type tag.
	FourCCLength = 4

	// ProtocolVersion is the NINJAM protocol version spoken here.
	ProtocolVersion = 0x00020000

	// ChannelRemoveFlag marks a channel for removal in a SetChannel.
	ChannelRemoveFlag = 0x01

	// AuthServerHasLicence is the server capability bit signalling that a
	// licence agreement text follows the AuthChallenge fixed fields.
	AuthServerHasLicence = 0x01

	// AuthClientAcceptedLicence is the client capability bit set when the
	// user acknowledged the server licence agreement.
	AuthClientAcceptedLicence = 0x01
)

// Interval content type tags.
var (
	// FourCCAudio tags an Ogg/Vorbis encoded audio interval.
	FourCCAudio = [FourCCLength]byte{'O', 'G', 'G', 'v'}

	// FourCCVideo tags a Jamtaba encoded video interval.
	FourCCVideo = [FourCCLength]byte{'J', 'T', 'B', 'v'}
)

// Chat command verbs.
const (
	ChatCommandMsg       = "MSG"
	ChatCommandPrivMsg   = "PRIVMSG"
	ChatCommandTopic     = "TOPIC"
	ChatCommandAdmin     = "ADMIN"
	ChatCommandJoin      = "JOIN"
	ChatCommandPart      = "PART"
	ChatCommandUserCount = "USERCOUNT"
)
