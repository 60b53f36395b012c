// boltuserdb_test.go - BoltDB backed user database tests.
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

package boltuserdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elieserdejesus/jamtaba/server/userdb"
	"github.com/elieserdejesus/jamtaba/wire/commands"
)

func TestBoltUserDB(t *testing.T) {
	require := require.New(t)

	dbFile := filepath.Join(t.TempDir(), "users.db")
	d, err := New(dbFile)
	require.NoError(err, "New() failed")

	challenge := [commands.ChallengeLength]byte{1, 2, 3, 4, 5, 6, 7, 8}

	require.False(d.Exists("alice"), "Exists() before Add()")

	inner := commands.HashUserPassword("alice", "secret")
	require.NoError(d.Add("alice", inner, false), "Add() failed")
	require.True(d.Exists("alice"), "Exists() after Add()")

	// Duplicate add without update must fail.
	require.Error(d.Add("alice", inner, false), "duplicate Add()")

	response := commands.ComputePasswordHash("alice", "secret", challenge)
	require.True(d.IsValid("alice", challenge, response), "IsValid() correct response")

	bad := commands.ComputePasswordHash("alice", "wrong", challenge)
	require.False(d.IsValid("alice", challenge, bad), "IsValid() wrong password")
	require.False(d.IsValid("mallory", challenge, response), "IsValid() unknown user")

	// Update the password.
	inner2 := commands.HashUserPassword("alice", "s3cret")
	require.NoError(d.Add("alice", inner2, true), "Add() update failed")
	require.False(d.IsValid("alice", challenge, response), "old password after update")

	// Persistence across a reopen.
	d.Close()
	d, err = New(dbFile)
	require.NoError(err, "reopen failed")
	defer d.Close()
	require.True(d.Exists("alice"), "Exists() after reload")

	require.NoError(d.Remove("alice"), "Remove() failed")
	require.False(d.Exists("alice"), "Exists() after Remove()")
	require.Equal(userdb.ErrNoSuchUser, d.Remove("alice"), "Remove() of missing user")
}
