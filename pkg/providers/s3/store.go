/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package s3

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	metaCacheTTL   = time.Minute
	metaCacheSweep = 2 * time.Minute
)

// ObjectMeta is the sidecar metadata stored next to every object body.
type ObjectMeta struct {
	ContentType  string            `json:"contentType"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ETag         string            `json:"etag"` // bare lowercase hex, no quotes
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"lastModified"`
}

// BucketConfig is the per-bucket configuration document: creation marker,
// optional website and notification configs, policy and tags.
type BucketConfig struct {
	Name          string             `json:"name"`
	CreatedAt     time.Time          `json:"createdAt"`
	Website       *WebsiteConfig     `json:"website,omitempty"`
	Policy        json.RawMessage    `json:"policy,omitempty"`
	Notifications []NotificationRule `json:"notifications,omitempty"`
	Tags          map[string]string  `json:"tags,omitempty"`
}

type WebsiteConfig struct {
	IndexDocument string `json:"indexDocument"`
	ErrorDocument string `json:"errorDocument,omitempty"`
}

// NotificationRule routes bucket events to a target by ARN or function name.
type NotificationRule struct {
	TargetARN string   `json:"targetArn"`
	Events    []string `json:"events"` // s3:ObjectCreated:*, s3:ObjectRemoved:*
	Prefix    string   `json:"prefix,omitempty"`
	Suffix    string   `json:"suffix,omitempty"`
}

// Store is the filesystem layout: bodies under {root}/{bucket}/{key},
// sidecars under {root}/.metadata/{bucket}/{key}.json, bucket config under
// {root}/.metadata/{bucket}/.bucket.json. Sidecar reads go through a
// short-lived cache.
type Store struct {
	root string
	meta *cache.Cache
}

func NewStore(dataDir string) *Store {
	return &Store{
		root: filepath.Join(dataDir, "s3"),
		meta: cache.New(metaCacheTTL, metaCacheSweep),
	}
}

func (s *Store) bodyPath(bucket, key string) string {
	return filepath.Join(s.root, bucket, filepath.FromSlash(key))
}

func (s *Store) metaPath(bucket, key string) string {
	return filepath.Join(s.root, ".metadata", bucket, filepath.FromSlash(key)+".json")
}

func (s *Store) bucketConfigPath(bucket string) string {
	return filepath.Join(s.root, ".metadata", bucket, ".bucket.json")
}

// CreateBucket is idempotent; it reports whether the bucket already existed.
func (s *Store) CreateBucket(bucket string) (existed bool, err error) {
	if _, err := s.BucketConfig(bucket); err == nil {
		return true, nil
	}
	if err := os.MkdirAll(filepath.Join(s.root, bucket), 0755); err != nil {
		return false, fmt.Errorf("creating bucket directory, %w", err)
	}
	cfg := &BucketConfig{Name: bucket, CreatedAt: time.Now().UTC()}
	return false, s.PutBucketConfig(bucket, cfg)
}

func (s *Store) DeleteBucket(bucket string) error {
	if err := os.RemoveAll(filepath.Join(s.root, bucket)); err != nil {
		return fmt.Errorf("removing bucket directory, %w", err)
	}
	if err := os.RemoveAll(filepath.Join(s.root, ".metadata", bucket)); err != nil {
		return fmt.Errorf("removing bucket metadata, %w", err)
	}
	s.meta.Flush()
	return nil
}

// BucketConfig loads the bucket's config document; a missing document means
// the bucket does not exist.
func (s *Store) BucketConfig(bucket string) (*BucketConfig, error) {
	if cached, ok := s.meta.Get("bucket/" + bucket); ok {
		return cached.(*BucketConfig), nil
	}
	raw, err := os.ReadFile(s.bucketConfigPath(bucket))
	if err != nil {
		return nil, fmt.Errorf("reading bucket config for %s, %w", bucket, err)
	}
	cfg := &BucketConfig{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("decoding bucket config for %s, %w", bucket, err)
	}
	s.meta.SetDefault("bucket/"+bucket, cfg)
	return cfg, nil
}

func (s *Store) PutBucketConfig(bucket string, cfg *BucketConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding bucket config, %w", err)
	}
	path := s.bucketConfigPath(bucket)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating bucket metadata directory, %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("writing bucket config, %w", err)
	}
	s.meta.Delete("bucket/" + bucket)
	return nil
}

// Buckets lists known buckets by their config documents, sorted by name.
func (s *Store) Buckets() ([]*BucketConfig, error) {
	dir := filepath.Join(s.root, ".metadata")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing buckets, %w", err)
	}
	var out []*BucketConfig
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		cfg, err := s.BucketConfig(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Put writes the object body and its sidecar; the ETag is the lowercase hex
// MD5 of the body.
func (s *Store) Put(bucket, key string, body []byte, contentType string, metadata map[string]string) (*ObjectMeta, error) {
	path := s.bodyPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating object directory, %w", err)
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		return nil, fmt.Errorf("writing object body, %w", err)
	}
	sum := md5.Sum(body)
	meta := &ObjectMeta{
		ContentType:  contentType,
		Metadata:     metadata,
		ETag:         hex.EncodeToString(sum[:]),
		Size:         int64(len(body)),
		LastModified: time.Now().UTC(),
	}
	if err := s.writeMeta(bucket, key, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// PromoteFile moves an already-written file (a completed multipart merge)
// into place and records the supplied ETag.
func (s *Store) PromoteFile(bucket, key, sourcePath, etag, contentType string) (*ObjectMeta, error) {
	path := s.bodyPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating object directory, %w", err)
	}
	if err := os.Rename(sourcePath, path); err != nil {
		return nil, fmt.Errorf("promoting merged object, %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stating merged object, %w", err)
	}
	meta := &ObjectMeta{
		ContentType:  contentType,
		ETag:         etag,
		Size:         info.Size(),
		LastModified: time.Now().UTC(),
	}
	if err := s.writeMeta(bucket, key, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *Store) writeMeta(bucket, key string, meta *ObjectMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding object metadata, %w", err)
	}
	path := s.metaPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metadata directory, %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("writing object metadata, %w", err)
	}
	s.meta.Delete(bucket + "/" + key)
	return nil
}

// Meta reads the sidecar through the cache.
func (s *Store) Meta(bucket, key string) (*ObjectMeta, error) {
	cacheKey := bucket + "/" + key
	if cached, ok := s.meta.Get(cacheKey); ok {
		return cached.(*ObjectMeta), nil
	}
	raw, err := os.ReadFile(s.metaPath(bucket, key))
	if err != nil {
		return nil, err
	}
	meta := &ObjectMeta{}
	if err := json.Unmarshal(raw, meta); err != nil {
		return nil, fmt.Errorf("decoding object metadata, %w", err)
	}
	s.meta.SetDefault(cacheKey, meta)
	return meta, nil
}

// Get returns the body and metadata; a missing body is os.ErrNotExist.
func (s *Store) Get(bucket, key string) ([]byte, *ObjectMeta, error) {
	body, err := os.ReadFile(s.bodyPath(bucket, key))
	if err != nil {
		return nil, nil, err
	}
	meta, err := s.Meta(bucket, key)
	if err != nil {
		// body without sidecar still serves with best-effort metadata
		sum := md5.Sum(body)
		meta = &ObjectMeta{ETag: hex.EncodeToString(sum[:]), Size: int64(len(body))}
	}
	return body, meta, nil
}

func (s *Store) Exists(bucket, key string) bool {
	info, err := os.Stat(s.bodyPath(bucket, key))
	return err == nil && !info.IsDir()
}

// Delete removes body and sidecar; absent objects are a no-op.
func (s *Store) Delete(bucket, key string) error {
	if err := os.Remove(s.bodyPath(bucket, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing object body, %w", err)
	}
	if err := os.Remove(s.metaPath(bucket, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing object metadata, %w", err)
	}
	s.meta.Delete(bucket + "/" + key)
	return nil
}

// Keys walks the bucket directory and returns every object key in
// lexicographic order.
func (s *Store) Keys(bucket string) ([]string, error) {
	base := filepath.Join(s.root, bucket)
	var keys []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("walking bucket %s, %w", bucket, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Matches applies the rule's event list and prefix/suffix filter.
func (r NotificationRule) Matches(eventName, key string) bool {
	if r.Prefix != "" && !strings.HasPrefix(key, r.Prefix) {
		return false
	}
	if r.Suffix != "" && !strings.HasSuffix(key, r.Suffix) {
		return false
	}
	for _, e := range r.Events {
		if e == eventName {
			return true
		}
		if strings.HasSuffix(e, ":*") && strings.HasPrefix(eventName, strings.TrimSuffix(e, "*")) {
			return true
		}
	}
	return false
}
