// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/jeranaias/innerguide/internal/model"
)

// =============================================================================
// BOLT GATEWAY
// =============================================================================

var (
	// turnsBucket holds one nested bucket per user, keyed by
	// created-at micros followed by a sequence number.
	turnsBucket = []byte("turns")

	// idsBucket maps turn ID to owner for duplicate detection.
	idsBucket = []byte("turn_ids")
)

// BoltGateway stores turns in a single bbolt file.
type BoltGateway struct {
	db *bolt.DB
}

var _ Gateway = (*BoltGateway)(nil)

// OpenBolt opens or creates the bbolt file at path.
func OpenBolt(path string) (*BoltGateway, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrap(err, "create storage directory")
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{turnsBucket, idsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create buckets")
	}
	return &BoltGateway{db: db}, nil
}

// InsertTurn stores turn under the user's bucket.
func (g *BoltGateway) InsertTurn(ctx context.Context, userID string, turn model.Turn) error {
	if err := validateTurn(userID, turn); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(turn)
	if err != nil {
		return errors.Wrap(err, "encode turn")
	}

	err = g.db.Update(func(tx *bolt.Tx) error {
		ids := tx.Bucket(idsBucket)
		if ids.Get([]byte(turn.ID)) != nil {
			return ErrDuplicateTurn
		}
		users := tx.Bucket(turnsBucket)
		b, err := users.CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(turnKey(turn.CreatedAt, seq), value); err != nil {
			return err
		}
		return ids.Put([]byte(turn.ID), []byte(userID))
	})
	if err == ErrDuplicateTurn {
		return errors.Wrapf(ErrDuplicateTurn, "turn %s", turn.ID)
	}
	return errors.Wrap(err, "insert turn")
}

// ListTurns walks the user's bucket backwards from the newest key.
func (g *BoltGateway) ListTurns(ctx context.Context, q Query) ([]model.Turn, error) {
	if err := validateUser(q.UserID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	turns := []model.Turn{}
	err := g.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(turnsBucket).Bucket([]byte(q.UserID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if q.Limit > 0 && len(turns) >= q.Limit {
				break
			}
			var t model.Turn
			if err := json.Unmarshal(v, &t); err != nil {
				return errors.Wrapf(err, "decode turn %x", k)
			}
			turns = append(turns, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if q.Order == Ascending {
		reverse(turns)
	}
	return turns, nil
}

// DeleteAllTurns drops the user's bucket and its ID index entries.
func (g *BoltGateway) DeleteAllTurns(ctx context.Context, userID string) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := g.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket(turnsBucket)
		b := users.Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		ids := tx.Bucket(idsBucket)
		if err := b.ForEach(func(_, v []byte) error {
			var t model.Turn
			if err := json.Unmarshal(v, &t); err != nil {
				return nil
			}
			return ids.Delete([]byte(t.ID))
		}); err != nil {
			return err
		}
		return users.DeleteBucket([]byte(userID))
	})
	return errors.Wrap(err, "delete turns")
}

// Close closes the bolt file.
func (g *BoltGateway) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}

// turnKey sorts by creation time, then insertion order.
func turnKey(created time.Time, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(created.UnixMicro()))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}
