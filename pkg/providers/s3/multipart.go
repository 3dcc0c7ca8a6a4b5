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
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/lws-dev/lws/pkg/awserr"
)

const (
	minPartNumber = 1
	maxPartNumber = 10000
)

type partInfo struct {
	Number       int
	ETag         string // bare hex
	Size         int64
	LastModified time.Time
}

// multipartUpload stages parts on disk until completed or aborted.
type multipartUpload struct {
	id          string
	bucket      string
	key         string
	contentType string
	dir         string

	mu    sync.Mutex
	parts map[int]partInfo
}

// uploads tracks in-flight multipart uploads; staging directories live under
// {root}/.uploads/{id}.
type uploads struct {
	root string

	mu      sync.Mutex
	pending map[string]*multipartUpload
}

func newUploads(dataDir string) *uploads {
	return &uploads{
		root:    filepath.Join(dataDir, "s3", ".uploads"),
		pending: map[string]*multipartUpload{},
	}
}

// Create starts an upload; the id is 32 random hex characters.
func (u *uploads) Create(bucket, key, contentType string) (*multipartUpload, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	up := &multipartUpload{
		id:          id,
		bucket:      bucket,
		key:         key,
		contentType: contentType,
		dir:         filepath.Join(u.root, id),
		parts:       map[int]partInfo{},
	}
	if err := os.MkdirAll(up.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload staging directory, %w", err)
	}
	u.mu.Lock()
	u.pending[id] = up
	u.mu.Unlock()
	return up, nil
}

func (u *uploads) Get(id string) (*multipartUpload, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	up, ok := u.pending[id]
	if !ok {
		return nil, awserr.NewS3("NoSuchUpload", "The specified upload does not exist.", id, http.StatusNotFound)
	}
	return up, nil
}

// Forget removes the upload from tracking and deletes its staging directory.
func (u *uploads) Forget(up *multipartUpload) error {
	u.mu.Lock()
	delete(u.pending, up.id)
	u.mu.Unlock()
	if err := os.RemoveAll(up.dir); err != nil {
		return fmt.Errorf("removing upload staging directory, %w", err)
	}
	return nil
}

// List returns in-flight uploads for a bucket, oldest id order.
func (u *uploads) List(bucket string) []*multipartUpload {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := lo.Filter(lo.Values(u.pending), func(up *multipartUpload, _ int) bool { return up.bucket == bucket })
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// PutPart stages one part body; re-uploading a part number replaces it.
func (up *multipartUpload) PutPart(number int, body []byte) (partInfo, error) {
	if number < minPartNumber || number > maxPartNumber {
		return partInfo{}, awserr.NewS3("InvalidArgument",
			fmt.Sprintf("Part number must be an integer between %d and %d, inclusive", minPartNumber, maxPartNumber),
			up.key, http.StatusBadRequest)
	}
	if err := os.WriteFile(up.partPath(number), body, 0644); err != nil {
		return partInfo{}, fmt.Errorf("staging part %d, %w", number, err)
	}
	sum := md5.Sum(body)
	info := partInfo{
		Number:       number,
		ETag:         hex.EncodeToString(sum[:]),
		Size:         int64(len(body)),
		LastModified: time.Now().UTC(),
	}
	up.mu.Lock()
	up.parts[number] = info
	up.mu.Unlock()
	return info, nil
}

func (up *multipartUpload) partPath(number int) string {
	return filepath.Join(up.dir, fmt.Sprintf("part-%05d", number))
}

// Parts returns staged parts in part-number order.
func (up *multipartUpload) Parts() []partInfo {
	up.mu.Lock()
	defer up.mu.Unlock()
	out := lo.Values(up.parts)
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// completedPart is the caller-supplied manifest entry.
type completedPart struct {
	Number int
	ETag   string
}

// Merge validates the manifest against staged parts and concatenates them in
// the supplied order into a merged staging file. The final ETag is the hex
// MD5 of the concatenated raw part digests with a -N part count suffix.
func (up *multipartUpload) Merge(manifest []completedPart) (mergedPath, etag string, err error) {
	if len(manifest) == 0 {
		return "", "", awserr.NewS3("InvalidRequest", "You must specify at least one part", up.key, http.StatusBadRequest)
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	digest := md5.New()
	merged := filepath.Join(up.dir, "merged")
	out, err := os.Create(merged)
	if err != nil {
		return "", "", fmt.Errorf("creating merged file, %w", err)
	}
	defer out.Close()
	prev := 0
	for _, entry := range manifest {
		if entry.Number <= prev {
			return "", "", awserr.NewS3("InvalidPartOrder",
				"The list of parts was not in ascending order.", up.key, http.StatusBadRequest)
		}
		prev = entry.Number
		staged, ok := up.parts[entry.Number]
		if !ok {
			return "", "", awserr.NewS3("InvalidPart",
				fmt.Sprintf("Part number %d has not been uploaded.", entry.Number), up.key, http.StatusBadRequest)
		}
		if strings.Trim(entry.ETag, `"`) != staged.ETag {
			return "", "", awserr.NewS3("InvalidPart",
				fmt.Sprintf("Part number %d etag does not match.", entry.Number), up.key, http.StatusBadRequest)
		}
		body, err := os.ReadFile(up.partPath(entry.Number))
		if err != nil {
			return "", "", fmt.Errorf("reading staged part %d, %w", entry.Number, err)
		}
		if _, err := out.Write(body); err != nil {
			return "", "", fmt.Errorf("appending part %d, %w", entry.Number, err)
		}
		raw, err := hex.DecodeString(staged.ETag)
		if err != nil {
			return "", "", fmt.Errorf("decoding part %d etag, %w", entry.Number, err)
		}
		digest.Write(raw)
	}
	etag = fmt.Sprintf("%s-%d", hex.EncodeToString(digest.Sum(nil)), len(manifest))
	return merged, etag, nil
}
