// Package audit records state transitions and fence actions to an
// append-only bbolt log. The log is write-only from the engine's
// perspective: nothing in the control plane ever reads it back to make a
// decision, it exists purely for post-incident review.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketEvents = []byte("events")

// Event is one audited occurrence.
type Event struct {
	Time       time.Time `json:"time"`
	Kind       string    `json:"kind"` // "transition" or "fence"
	ResourceID string    `json:"resource_id,omitempty"`
	HostID     string    `json:"host_id,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Log is a bbolt-backed append-only store of Events, keyed by a monotonic
// sequence number so iteration preserves write order.
type Log struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the audit database under dataDir.
func Open(dataDir string) (*Log, error) {
	dbPath := filepath.Join(dataDir, "halo-audit.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit bucket: %w", err)
	}

	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Append writes ev to the log under the next sequence number.
func (l *Log) Append(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// RecordTransition appends a resource status-change event.
func (l *Log) RecordTransition(resourceID, from, to, hostID string) error {
	return l.Append(Event{
		Time:       now(),
		Kind:       "transition",
		ResourceID: resourceID,
		HostID:     hostID,
		From:       from,
		To:         to,
	})
}

// RecordFence appends a fence-action event.
func (l *Log) RecordFence(hostID, action string, ok bool, detail string) error {
	status := "ok"
	if !ok {
		status = "failed"
	}
	return l.Append(Event{
		Time:   now(),
		Kind:   "fence",
		HostID: hostID,
		To:     action,
		Detail: fmt.Sprintf("%s: %s", status, detail),
	})
}

// All returns every recorded event in write order. Intended for operator
// review tooling, never for control-plane decisions.
func (l *Log) All() ([]Event, error) {
	var events []Event
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		return b.ForEach(func(k, v []byte) error {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("unmarshal audit event: %w", err)
			}
			events = append(events, ev)
			return nil
		})
	})
	return events, err
}

func seqKey(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

// now is a seam so tests can assert on ordering without a real-time
// dependency becoming load-bearing; production always uses time.Now.
var now = time.Now
