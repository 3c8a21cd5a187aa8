package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// DefaultObject is the object name used when none is configured.
const DefaultObject = "seen-slots.json"

// snapshot is the JSON document stored in the bucket.
type snapshot struct {
	UpdatedAt time.Time `json:"updated_at"`
	Keys      []string  `json:"keys"`
}

// ObjectStore keeps the seen-set as a single Cloud Storage object.
// A finished upload replaces the object as a whole, so readers never see a
// partially written set.
type ObjectStore struct {
	client *storage.Client
	logger *slog.Logger
	bucket string
	object string
}

// NewObject creates a Cloud Storage backed store.
func NewObject(client *storage.Client, bucket, object string, logger *slog.Logger) *ObjectStore {
	if object == "" {
		object = DefaultObject
	}
	return &ObjectStore{
		client: client,
		logger: logger,
		bucket: bucket,
		object: object,
	}
}

// Load reads the stored keys. A missing object yields an empty set.
func (s *ObjectStore) Load(ctx context.Context) ([]string, error) {
	var data []byte
	var missing bool
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					missing = true
					return retry.Unrecoverable(openErr)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "object", s.object, "error", retryErr)
		}),
	)
	if missing {
		s.logger.Info("No seen-set object yet", "bucket", s.bucket, "object", s.object)
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}

	return decodeSnapshot(data)
}

// Replace overwrites the object with keys.
func (s *ObjectStore) Replace(ctx context.Context, keys []string) error {
	data, err := encodeSnapshot(keys, time.Now())
	if err != nil {
		return err
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "object", s.object, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Info("Seen-set replaced", "backend", "gcs", "bucket", s.bucket, "object", s.object, "count", len(keys))
	return nil
}

func encodeSnapshot(keys []string, now time.Time) ([]byte, error) {
	data, err := json.MarshalIndent(snapshot{UpdatedAt: now.UTC(), Keys: unique(keys)}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal seen-set: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) ([]string, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal seen-set: %w", err)
	}
	if snap.Keys == nil {
		return []string{}, nil
	}
	return snap.Keys, nil
}
