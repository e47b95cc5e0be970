package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore keeps each record as a JSON object named after its key path in
// an S3 compatible bucket. Object storage has no conditional write, so the
// version check runs under a per-key lock and only guards writers that share
// this process.
type ObjectStore struct {
	client *minio.Client
	bucket string

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

type ObjectStoreOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type objectEnvelope struct {
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Data      json.RawMessage `json:"data"`
}

func NewObjectStore(ctx context.Context, opts ObjectStoreOptions) (*ObjectStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object client: %w", err)
	}
	s := NewObjectStoreWithClient(client, opts.Bucket)
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func NewObjectStoreWithClient(client *minio.Client, bucket string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket, locks: map[string]*sync.Mutex{}}
}

func (s *ObjectStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func objectName(key Key) string {
	return key.Path() + ".json"
}

func (s *ObjectStore) lockFor(name string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[name] = lock
	}
	return lock
}

func (s *ObjectStore) Get(ctx context.Context, key Key) (Record, error) {
	env, err := s.read(ctx, objectName(key))
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", key, err)
	}
	return Record{Key: key, Version: env.Version, Data: env.Data, UpdatedAt: env.UpdatedAt}, nil
}

func (s *ObjectStore) read(ctx context.Context, name string) (objectEnvelope, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return objectEnvelope{}, translateObjectErr(err)
	}
	defer obj.Close()
	raw, err := io.ReadAll(obj)
	if err != nil {
		return objectEnvelope{}, translateObjectErr(err)
	}
	var env objectEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return objectEnvelope{}, fmt.Errorf("decode object %s: %w", name, err)
	}
	return env, nil
}

func translateObjectErr(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}

func (s *ObjectStore) Put(ctx context.Context, record Record) error {
	if !record.Key.valid() {
		return fmt.Errorf("put %s: invalid key", record.Key)
	}
	name := objectName(record.Key)
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.read(ctx, name)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return fmt.Errorf("put %s: %w", record.Key, err)
	case record.Version <= existing.Version:
		return ErrStale
	}

	body, err := json.Marshal(objectEnvelope{
		Version:   record.Version,
		UpdatedAt: time.Now().UTC(),
		Data:      record.Data,
	})
	if err != nil {
		return fmt.Errorf("encode object %s: %w", name, err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", record.Key, err)
	}
	return nil
}

func (s *ObjectStore) List(ctx context.Context, missionID, scope, entityType string) ([]Record, error) {
	prefix := Key{MissionID: missionID, Scope: scope, Type: entityType}.Path() + "/"
	items := make([]Record, 0)
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, info.Err)
		}
		rest := strings.TrimPrefix(info.Key, prefix)
		if strings.Contains(rest, "/") || !strings.HasSuffix(rest, ".json") {
			continue
		}
		key := Key{MissionID: missionID, Scope: scope, Type: entityType, ID: strings.TrimSuffix(rest, ".json")}
		record, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		items = append(items, record)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key.ID < items[j].Key.ID })
	return items, nil
}

func (s *ObjectStore) Missions(ctx context.Context) ([]string, error) {
	ids := make([]string, 0)
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list missions: %w", info.Err)
		}
		missionID := strings.TrimSuffix(info.Key, "/")
		if missionID == "" || strings.HasPrefix(missionID, "_") {
			continue
		}
		_, err := s.client.StatObject(ctx, s.bucket, objectName(SingletonKey(missionID, TypeStatus)), minio.StatObjectOptions{})
		if err != nil {
			if errors.Is(translateObjectErr(err), ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("stat mission %s: %w", missionID, err)
		}
		ids = append(ids, missionID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *ObjectStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
