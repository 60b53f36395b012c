// auth.go - NINJAM challenge response password hash.
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
	"crypto/sha1"
	"strings"
)

// AnonymousPrefix is prepended to the user name when no password is
// supplied.
const AnonymousPrefix = "anonymous:"

// HashUserPassword computes the inner hash SHA1(userName + ":" + password).
// Servers that keep registered users store this value rather than the
// plaintext password.
func HashUserPassword(userName, password string) [PasswordHashLength]byte {
	h := sha1.New()
	h.Write([]byte(userName))
	h.Write([]byte(":"))
	h.Write([]byte(password))
	var out [PasswordHashLength]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ComputePasswordHash computes the challenge response transmitted in
// AuthUser, SHA1(SHA1(userName + ":" + password) + challenge).
func ComputePasswordHash(userName, password string, challenge [ChallengeLength]byte) [PasswordHashLength]byte {
	inner := HashUserPassword(userName, password)
	return ChallengeResponse(inner, challenge)
}

// ChallengeResponse computes the outer hash from a stored inner hash and
// the session challenge.
func ChallengeResponse(inner [PasswordHashLength]byte, challenge [ChallengeLength]byte) [PasswordHashLength]byte {
	h := sha1.New()
	h.Write(inner[:])
	h.Write(challenge[:])
	var out [PasswordHashLength]byte
	copy(out[:], h.Sum(nil))
	return out
}

// IsAnonymous returns true if the transmitted user name carries the
// anonymous prefix.
func IsAnonymous(userName string) bool {
	return strings.HasPrefix(userName, AnonymousPrefix)
}

// StripAnonymousPrefix returns the display portion of a transmitted user
// name.
func StripAnonymousPrefix(userName string) string {
	return strings.TrimPrefix(userName, AnonymousPrefix)
}
