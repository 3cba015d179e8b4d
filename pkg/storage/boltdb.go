package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/flowmedic/flowmedic/pkg/types"
)

const dbFileName = "flowmedic.db"

var (
	// Bucket names
	bucketScheduleStates      = []byte("schedule_states")
	bucketRecoveryRecords     = []byte("recovery_records")
	bucketNotificationRecords = []byte("notification_records")
)

// BoltStore persists the three durable record sets (schedule states,
// recovery records, notification records) in one BoltDB file.
//
// Durability is best-effort by design: callers keep their records in memory
// and treat them as the source of truth for the process lifetime; a write
// failure here is logged by the caller and never unwinds the mutation.
type BoltStore struct {
	db *bolt.DB
}

// Open opens (or creates) the database under dataDir. A corrupt database
// file is moved aside and replaced with an empty one rather than failing
// startup: losing persisted state degrades to first-observation behavior.
func Open(dataDir string, logger zerolog.Logger) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, dbFileName)

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		logger.Warn().Err(err).Str("path", dbPath).Msg("state database unreadable, starting from empty state")
		if renameErr := os.Rename(dbPath, dbPath+".corrupt"); renameErr != nil && !os.IsNotExist(renameErr) {
			return nil, fmt.Errorf("failed to move corrupt database aside: %w", renameErr)
		}
		if db, err = bolt.Open(dbPath, 0600, nil); err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketScheduleStates,
			bucketRecoveryRecords,
			bucketNotificationRecords,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Schedule state operations

func (s *BoltStore) PutScheduleState(state *types.WorkflowScheduleState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScheduleStates)
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return b.Put([]byte(state.Key().String()), data)
	})
}

// ListScheduleStates returns every persisted schedule state. Entries that no
// longer unmarshal are skipped, not fatal.
func (s *BoltStore) ListScheduleStates() ([]*types.WorkflowScheduleState, error) {
	var states []*types.WorkflowScheduleState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScheduleStates)
		return b.ForEach(func(k, v []byte) error {
			var state types.WorkflowScheduleState
			if err := json.Unmarshal(v, &state); err != nil {
				return nil
			}
			states = append(states, &state)
			return nil
		})
	})
	return states, err
}

// Recovery record operations

func (s *BoltStore) PutRecoveryRecord(record *types.RecoveryRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecoveryRecords)
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(strconv.FormatInt(record.InstanceID, 10)), data)
	})
}

func (s *BoltStore) ListRecoveryRecords() ([]*types.RecoveryRecord, error) {
	var records []*types.RecoveryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecoveryRecords)
		return b.ForEach(func(k, v []byte) error {
			var record types.RecoveryRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return nil
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) DeleteRecoveryRecord(instanceID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecoveryRecords)
		return b.Delete([]byte(strconv.FormatInt(instanceID, 10)))
	})
}

func (s *BoltStore) DeleteAllRecoveryRecords() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketRecoveryRecords); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketRecoveryRecords)
		return err
	})
}

// Notification record operations

func (s *BoltStore) PutNotificationRecord(record *types.NotificationRecord) error {
	key := types.ScheduleKey{ProjectCode: record.ProjectCode, DefinitionCode: record.DefinitionCode}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNotificationRecords)
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(key.String()), data)
	})
}

func (s *BoltStore) ListNotificationRecords() ([]*types.NotificationRecord, error) {
	var records []*types.NotificationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNotificationRecords)
		return b.ForEach(func(k, v []byte) error {
			var record types.NotificationRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return nil
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) DeleteAllNotificationRecords() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketNotificationRecords); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketNotificationRecords)
		return err
	})
}
