// boltuserdb.go - BoltDB backed jam server user database.
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

// Package boltuserdb implements the jam server user database with a simple
// boltdb based backend.
package boltuserdb

import (
	"crypto/subtle"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/elieserdejesus/jamtaba/server/userdb"
	"github.com/elieserdejesus/jamtaba/wire/commands"
)

const usersBucket = "users"

type boltUserDB struct {
	sync.RWMutex

	db        *bolt.DB
	userCache map[string]bool
}

func (d *boltUserDB) Exists(u string) bool {
	if !userOk(u) {
		return false
	}

	d.RLock()
	defer d.RUnlock()

	return d.userCache[u]
}

func (d *boltUserDB) IsValid(u string, challenge [commands.ChallengeLength]byte, response [commands.PasswordHashLength]byte) bool {
	if !userOk(u) {
		return false
	}

	isValid := false
	if err := d.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(usersBucket))

		rawHash := bkt.Get([]byte(u))
		if rawHash == nil {
			return userdb.ErrNoSuchUser
		}
		var inner [commands.PasswordHashLength]byte
		copy(inner[:], rawHash)

		// The database stores the inner hash, the expected challenge
		// response is derived from it.
		expected := commands.ChallengeResponse(inner, challenge)
		isValid = subtle.ConstantTimeCompare(expected[:], response[:]) == 1
		return nil
	}); err != nil {
		return false
	}
	return isValid
}

func (d *boltUserDB) Add(u string, passwordHash [commands.PasswordHashLength]byte, update bool) error {
	if !userOk(u) {
		return fmt.Errorf("userdb: invalid username: `%v`", u)
	}
	switch d.Exists(u) {
	case true:
		if !update {
			return fmt.Errorf("userdb: user already exists")
		}
	case false:
		if update {
			return userdb.ErrNoSuchUser
		}
	}

	err := d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(usersBucket))
		return bkt.Put([]byte(u), passwordHash[:])
	})
	if err == nil {
		d.Lock()
		defer d.Unlock()

		d.userCache[u] = true
	}

	return err
}

func (d *boltUserDB) Remove(u string) error {
	if !userOk(u) {
		return fmt.Errorf("userdb: invalid username: `%v`", u)
	}

	err := d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(usersBucket))

		// Delete the user's entry iff it exists.
		if ent := bkt.Get([]byte(u)); ent == nil {
			return userdb.ErrNoSuchUser
		}
		return bkt.Delete([]byte(u))
	})
	if err == nil {
		d.Lock()
		defer d.Unlock()

		delete(d.userCache, u)
	}
	return err
}

func (d *boltUserDB) Close() {
	d.db.Sync()
	d.db.Close()
}

// New creates (or loads) a user database with the given file name f.
func New(f string) (userdb.UserDB, error) {
	const (
		metadataBucket = "metadata"
		versionKey     = "version"
	)

	var err error

	d := new(boltUserDB)
	d.db, err = bolt.Open(f, 0600, nil)
	if err != nil {
		return nil, err
	}
	d.userCache = make(map[string]bool)

	if err = d.db.Update(func(tx *bolt.Tx) error {
		// Ensure that all the buckets exist, and grab the metadata bucket.
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		uBkt, err := tx.CreateBucketIfNotExists([]byte(usersBucket))
		if err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			// Well it looks like we loaded as opposed to created.
			if len(b) != 1 || b[0] != 0 {
				return fmt.Errorf("userdb: incompatible version: %d", uint(b[0]))
			}

			// Populate the user cache.
			uBkt.ForEach(func(k, v []byte) error {
				d.userCache[string(k)] = true
				return nil
			})

			return nil
		}

		// We created a new database, so populate the new `metadata` bucket.
		bkt.Put([]byte(versionKey), []byte{0})

		return nil
	}); err != nil {
		// The struct isn't getting returned so clean up the database.
		d.db.Close()
		return nil, err
	}

	return d, nil
}

func userOk(u string) bool {
	return len(u) > 0 && len(u) <= userdb.MaxUsernameSize
}
