// userdb.go - Jam server user database interface.
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

// Package userdb defines the jam server user database abstract interface.
package userdb

import (
	"errors"

	"github.com/elieserdejesus/jamtaba/wire/commands"
)

// MaxUsernameSize is the maximum username length in bytes.
const MaxUsernameSize = 64

var (
	// ErrNoSuchUser is the error returned when an operation fails due to
	// a non-existent user.
	ErrNoSuchUser = errors.New("userdb: no such user")

	// ErrInvalidUsername is the error returned when a username is empty
	// or over length.
	ErrInvalidUsername = errors.New("userdb: invalid username")
)

// UserDB is the interface provided by all user database implementations.
// Stored credentials are the inner NINJAM hash SHA1(userName + ":" +
// password), never the plaintext password.
type UserDB interface {
	// Exists returns true iff the user identified by the username exists.
	Exists(u string) bool

	// IsValid returns true iff response is a valid response to challenge
	// for the user identified by the username.
	IsValid(u string, challenge [commands.ChallengeLength]byte, response [commands.PasswordHashLength]byte) bool

	// Add adds the user identified by the username and stored password
	// hash to the database.  Existing users will have their hash updated
	// if update is set, otherwise an error is returned.
	Add(u string, passwordHash [commands.PasswordHashLength]byte, update bool) error

	// Remove removes the user identified by the username from the
	// database.
	Remove(u string) error

	// Close closes the UserDB instance.
	Close()
}
