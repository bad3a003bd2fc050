package statelock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/imamik/k3ssm/internal/platform/s3"
)

// Record is the persisted state of one environment.
type Record struct {
	Serial            int64     `json:"serial"`
	Environment       string    `json:"environment"`
	InstanceID        string    `json:"instance_id,omitempty"`
	PrivateAddress    string    `json:"private_address,omitempty"`
	InstanceManaged   bool      `json:"instance_managed"`
	SoftwareInstalled bool      `json:"software_installed"`
	Branch            string    `json:"branch,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// BlobAPI is the object storage the store writes to.
type BlobAPI interface {
	GetObject(ctx context.Context, bucketName, key string) ([]byte, error)
	PutObject(ctx context.Context, bucketName, key string, data []byte) error
	DeleteObject(ctx context.Context, bucketName, key string) error
}

var _ BlobAPI = (*s3.Client)(nil)

// Store reads and writes the state record at bucket/key.
type Store struct {
	blob   BlobAPI
	bucket string
	key    string
	lockID string
	now    func() time.Time
}

// NewStore creates a Store. lockID is the lock that must be held to write.
func NewStore(blob BlobAPI, bucket, key, lockID string) *Store {
	return &Store{blob: blob, bucket: bucket, key: key, lockID: lockID, now: time.Now}
}

// Read returns the current record, or nil when none has been written.
func (s *Store) Read(ctx context.Context) (*Record, error) {
	data, err := s.blob.GetObject(ctx, s.bucket, s.key)
	if err != nil {
		if errors.Is(err, s3.ErrObjectNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode state s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return &rec, nil
}

// Write stores rec with the serial advanced past the stored one. rec is
// updated in place with the written serial and timestamp.
func (s *Store) Write(ctx context.Context, lock *Lock, rec *Record) error {
	if err := s.checkLock(lock); err != nil {
		return err
	}

	current, err := s.Read(ctx)
	if err != nil {
		return err
	}
	serial := rec.Serial
	if current != nil && current.Serial > serial {
		serial = current.Serial
	}
	rec.Serial = serial + 1
	rec.UpdatedAt = s.now().UTC()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := s.blob.PutObject(ctx, s.bucket, s.key, data); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// Delete removes the record.
func (s *Store) Delete(ctx context.Context, lock *Lock) error {
	if err := s.checkLock(lock); err != nil {
		return err
	}
	if err := s.blob.DeleteObject(ctx, s.bucket, s.key); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

func (s *Store) checkLock(lock *Lock) error {
	if !lock.Held() {
		return ErrLockNotHeld
	}
	if lock.ID != s.lockID {
		return fmt.Errorf("%w: holding %s, need %s", ErrLockNotHeld, lock.ID, s.lockID)
	}
	return nil
}
