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
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/lws-dev/lws/pkg/awserr"
)

const defaultMaxKeys = 1000

// defaultBucketPolicy is returned when no policy has been set explicitly.
var defaultBucketPolicy = `{"Version":"2012-10-17","Statement":[{"Sid":"DefaultAllowAll","Effect":"Allow","Principal":"*","Action":"s3:*","Resource":"*"}]}`

func (p *Provider) handle(w http.ResponseWriter, r *http.Request) {
	bucket, key := splitPath(r.URL.Path)
	var err error
	switch {
	case bucket == "":
		err = p.handleRoot(w, r)
	case key == "":
		err = p.handleBucket(w, r, bucket)
	default:
		err = p.handleObject(w, r, bucket, key)
	}
	if err != nil {
		awserr.Write(w, awserr.FamilyS3, uuid.NewString(), err)
	}
}

func splitPath(p string) (bucket, key string) {
	trimmed := strings.TrimPrefix(p, "/")
	if trimmed == "" {
		return "", ""
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func writeXML(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return err
	}
	return xml.NewEncoder(w).Encode(v)
}

func noSuchBucket(bucket string) error {
	return awserr.NewS3("NoSuchBucket", "The specified bucket does not exist", bucket, http.StatusNotFound)
}

func noSuchKey(key string) error {
	return awserr.NewS3("NoSuchKey", "The specified key does not exist.", key, http.StatusNotFound)
}

func (p *Provider) handleRoot(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return awserr.NewS3("MethodNotAllowed", "The specified method is not allowed against this resource.", "/", http.StatusMethodNotAllowed)
	}
	buckets, err := p.store.Buckets()
	if err != nil {
		return err
	}
	result := listAllMyBucketsResult{Owner: ownerElement{ID: "000000000000", DisplayName: "lws"}}
	result.Buckets.Bucket = lo.Map(buckets, func(cfg *BucketConfig, _ int) bucketElement {
		return bucketElement{Name: cfg.Name, CreationDate: cfg.CreatedAt.Format(time.RFC3339)}
	})
	return writeXML(w, http.StatusOK, result)
}

func (p *Provider) handleBucket(w http.ResponseWriter, r *http.Request, bucket string) error {
	q := r.URL.Query()
	switch r.Method {
	case http.MethodPut:
		switch {
		case q.Has("website"):
			return p.putBucketWebsite(w, r, bucket)
		case q.Has("policy"):
			return p.putBucketPolicy(w, r, bucket)
		case q.Has("notification"):
			return p.putBucketNotification(w, r, bucket)
		default:
			return p.createBucket(w, bucket)
		}
	case http.MethodGet:
		switch {
		case q.Has("location"):
			if _, err := p.store.BucketConfig(bucket); err != nil {
				return noSuchBucket(bucket)
			}
			// us-east-1 renders as the empty constraint
			return writeXML(w, http.StatusOK, locationConstraint{})
		case q.Has("policy"):
			return p.getBucketPolicy(w, bucket)
		case q.Has("website"):
			return p.getBucketWebsite(w, bucket)
		case q.Has("uploads"):
			return p.listMultipartUploads(w, bucket)
		default:
			// a website-enabled bucket serves its index document at the root;
			// an explicit list-type=2 still lists
			if cfg, err := p.store.BucketConfig(bucket); err == nil && cfg.Website != nil && !q.Has("list-type") {
				return p.getObject(w, r, bucket, "", false)
			}
			return p.listObjectsV2(w, bucket, q)
		}
	case http.MethodDelete:
		if q.Has("website") {
			return p.deleteBucketWebsite(w, bucket)
		}
		if _, err := p.store.BucketConfig(bucket); err != nil {
			return noSuchBucket(bucket)
		}
		if err := p.store.DeleteBucket(bucket); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	case http.MethodPost:
		if q.Has("delete") {
			return p.deleteObjects(w, r, bucket)
		}
		return awserr.NewS3("MethodNotAllowed", "POST requires the delete sub-resource", bucket, http.StatusMethodNotAllowed)
	case http.MethodHead:
		if _, err := p.store.BucketConfig(bucket); err != nil {
			w.WriteHeader(http.StatusNotFound)
			return nil
		}
		w.WriteHeader(http.StatusOK)
		return nil
	default:
		return awserr.NewS3("MethodNotAllowed", "The specified method is not allowed against this resource.", bucket, http.StatusMethodNotAllowed)
	}
}

// createBucket repeated on an existing bucket is a no-op success.
func (p *Provider) createBucket(w http.ResponseWriter, bucket string) error {
	if _, err := p.store.CreateBucket(bucket); err != nil {
		return err
	}
	w.Header().Set("Location", "/"+bucket)
	w.WriteHeader(http.StatusOK)
	return nil
}

func (p *Provider) listObjectsV2(w http.ResponseWriter, bucket string, q url.Values) error {
	if _, err := p.store.BucketConfig(bucket); err != nil {
		return noSuchBucket(bucket)
	}
	keys, err := p.store.Keys(bucket)
	if err != nil {
		return err
	}
	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	continuation := q.Get("continuation-token")
	maxKeys := defaultMaxKeys
	if raw := q.Get("max-keys"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			maxKeys = n
		}
	}

	keys = lo.Filter(keys, func(k string, _ int) bool { return strings.HasPrefix(k, prefix) })
	// the continuation token is the last key of the previous page
	if continuation != "" {
		keys = lo.Filter(keys, func(k string, _ int) bool { return k > continuation })
	}

	result := listBucketResult{
		Name:              bucket,
		Prefix:            prefix,
		Delimiter:         delimiter,
		MaxKeys:           maxKeys,
		ContinuationToken: continuation,
	}
	prefixSeen := map[string]bool{}
	count := 0
	for _, k := range keys {
		if count >= maxKeys {
			result.IsTruncated = true
			break
		}
		if delimiter != "" {
			remainder := strings.TrimPrefix(k, prefix)
			if idx := strings.Index(remainder, delimiter); idx >= 0 {
				cp := prefix + remainder[:idx+len(delimiter)]
				if !prefixSeen[cp] {
					prefixSeen[cp] = true
					result.CommonPrefixes = append(result.CommonPrefixes, commonPrefix{Prefix: cp})
					count++
				}
				continue
			}
		}
		meta, err := p.store.Meta(bucket, k)
		if err != nil {
			continue
		}
		result.Contents = append(result.Contents, contents{
			Key:          k,
			LastModified: meta.LastModified.Format(time.RFC3339),
			ETag:         `"` + meta.ETag + `"`,
			Size:         meta.Size,
			StorageClass: "STANDARD",
		})
		result.NextContinuationToken = k
		count++
	}
	result.KeyCount = count
	if !result.IsTruncated {
		result.NextContinuationToken = ""
	}
	return writeXML(w, http.StatusOK, result)
}

func (p *Provider) getBucketPolicy(w http.ResponseWriter, bucket string) error {
	cfg, err := p.store.BucketConfig(bucket)
	if err != nil {
		return noSuchBucket(bucket)
	}
	policy := defaultBucketPolicy
	if len(cfg.Policy) > 0 {
		policy = string(cfg.Policy)
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write([]byte(policy))
	return err
}

func (p *Provider) putBucketPolicy(w http.ResponseWriter, r *http.Request, bucket string) error {
	cfg, err := p.store.BucketConfig(bucket)
	if err != nil {
		return noSuchBucket(bucket)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("reading policy body, %w", err)
	}
	if !json.Valid(body) {
		return awserr.NewS3("MalformedPolicy", "Policies must be valid JSON", bucket, http.StatusBadRequest)
	}
	cfg.Policy = body
	if err := p.store.PutBucketConfig(bucket, cfg); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (p *Provider) putBucketWebsite(w http.ResponseWriter, r *http.Request, bucket string) error {
	cfg, err := p.store.BucketConfig(bucket)
	if err != nil {
		return noSuchBucket(bucket)
	}
	var doc websiteConfiguration
	if err := xml.NewDecoder(r.Body).Decode(&doc); err != nil {
		return awserr.NewS3("MalformedXML", "The XML you provided was not well-formed", bucket, http.StatusBadRequest)
	}
	website := &WebsiteConfig{}
	if doc.IndexDocument != nil {
		website.IndexDocument = doc.IndexDocument.Suffix
	}
	if doc.ErrorDocument != nil {
		website.ErrorDocument = doc.ErrorDocument.Key
	}
	cfg.Website = website
	if err := p.store.PutBucketConfig(bucket, cfg); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (p *Provider) getBucketWebsite(w http.ResponseWriter, bucket string) error {
	cfg, err := p.store.BucketConfig(bucket)
	if err != nil {
		return noSuchBucket(bucket)
	}
	if cfg.Website == nil {
		return awserr.NewS3("NoSuchWebsiteConfiguration", "The specified bucket does not have a website configuration", bucket, http.StatusNotFound)
	}
	doc := websiteConfiguration{}
	if cfg.Website.IndexDocument != "" {
		doc.IndexDocument = &struct {
			Suffix string `xml:"Suffix"`
		}{Suffix: cfg.Website.IndexDocument}
	}
	if cfg.Website.ErrorDocument != "" {
		doc.ErrorDocument = &struct {
			Key string `xml:"Key"`
		}{Key: cfg.Website.ErrorDocument}
	}
	return writeXML(w, http.StatusOK, doc)
}

func (p *Provider) deleteBucketWebsite(w http.ResponseWriter, bucket string) error {
	cfg, err := p.store.BucketConfig(bucket)
	if err != nil {
		return noSuchBucket(bucket)
	}
	cfg.Website = nil
	if err := p.store.PutBucketConfig(bucket, cfg); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (p *Provider) putBucketNotification(w http.ResponseWriter, r *http.Request, bucket string) error {
	cfg, err := p.store.BucketConfig(bucket)
	if err != nil {
		return noSuchBucket(bucket)
	}
	var doc notificationConfiguration
	if err := xml.NewDecoder(r.Body).Decode(&doc); err != nil {
		return awserr.NewS3("MalformedXML", "The XML you provided was not well-formed", bucket, http.StatusBadRequest)
	}
	var rules []NotificationRule
	for _, t := range doc.Topics {
		prefix, suffix := t.Filter.rules()
		rules = append(rules, NotificationRule{TargetARN: t.Topic, Events: t.Events, Prefix: prefix, Suffix: suffix})
	}
	for _, qc := range doc.Queues {
		prefix, suffix := qc.Filter.rules()
		rules = append(rules, NotificationRule{TargetARN: qc.Queue, Events: qc.Events, Prefix: prefix, Suffix: suffix})
	}
	for _, l := range doc.Lambdas {
		prefix, suffix := l.Filter.rules()
		rules = append(rules, NotificationRule{TargetARN: l.CloudFunction, Events: l.Events, Prefix: prefix, Suffix: suffix})
	}
	cfg.Notifications = rules
	if err := p.store.PutBucketConfig(bucket, cfg); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (p *Provider) deleteObjects(w http.ResponseWriter, r *http.Request, bucket string) error {
	cfg, err := p.store.BucketConfig(bucket)
	if err != nil {
		return noSuchBucket(bucket)
	}
	var req deleteRequest
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		return awserr.NewS3("MalformedXML", "The XML you provided was not well-formed", bucket, http.StatusBadRequest)
	}
	result := deleteResult{}
	for _, obj := range req.Objects {
		if err := p.store.Delete(bucket, obj.Key); err != nil {
			result.Errors = append(result.Errors, deleteError{Key: obj.Key, Code: "InternalError", Message: err.Error()})
			continue
		}
		if !req.Quiet {
			result.Deleted = append(result.Deleted, deletedObject{Key: obj.Key})
		}
		p.notify(cfg, "s3:ObjectRemoved:Delete", bucket, obj.Key, "", 0)
	}
	return writeXML(w, http.StatusOK, result)
}

func (p *Provider) listMultipartUploads(w http.ResponseWriter, bucket string) error {
	if _, err := p.store.BucketConfig(bucket); err != nil {
		return noSuchBucket(bucket)
	}
	result := listMultipartUploadsResult{Bucket: bucket}
	result.Uploads = lo.Map(p.uploads.List(bucket), func(up *multipartUpload, _ int) uploadElement {
		return uploadElement{Key: up.key, UploadID: up.id}
	})
	return writeXML(w, http.StatusOK, result)
}

func (p *Provider) handleObject(w http.ResponseWriter, r *http.Request, bucket, key string) error {
	q := r.URL.Query()
	switch r.Method {
	case http.MethodPut:
		if q.Has("uploadId") {
			return p.uploadPart(w, r, q.Get("uploadId"), q.Get("partNumber"))
		}
		if source := r.Header.Get("X-Amz-Copy-Source"); source != "" {
			return p.copyObject(w, bucket, key, source)
		}
		return p.putObject(w, r, bucket, key)
	case http.MethodGet:
		if q.Has("uploadId") {
			return p.listParts(w, bucket, key, q.Get("uploadId"))
		}
		return p.getObject(w, r, bucket, key, false)
	case http.MethodHead:
		return p.getObject(w, r, bucket, key, true)
	case http.MethodDelete:
		if q.Has("uploadId") {
			return p.abortMultipartUpload(w, q.Get("uploadId"))
		}
		return p.deleteObject(w, bucket, key)
	case http.MethodPost:
		if q.Has("uploads") {
			return p.createMultipartUpload(w, r, bucket, key)
		}
		if q.Has("uploadId") {
			return p.completeMultipartUpload(w, r, bucket, key, q.Get("uploadId"))
		}
		return awserr.NewS3("MethodNotAllowed", "POST requires the uploads or uploadId sub-resource", key, http.StatusMethodNotAllowed)
	default:
		return awserr.NewS3("MethodNotAllowed", "The specified method is not allowed against this resource.", key, http.StatusMethodNotAllowed)
	}
}

// userMetadata extracts x-amz-meta-* headers.
func userMetadata(h http.Header) map[string]string {
	meta := map[string]string{}
	for name, values := range h {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-amz-meta-") && len(values) > 0 {
			meta[strings.TrimPrefix(lower, "x-amz-meta-")] = values[0]
		}
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func (p *Provider) putObject(w http.ResponseWriter, r *http.Request, bucket, key string) error {
	cfg, err := p.store.BucketConfig(bucket)
	if err != nil {
		return noSuchBucket(bucket)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("reading object body, %w", err)
	}
	meta, err := p.store.Put(bucket, key, body, r.Header.Get("Content-Type"), userMetadata(r.Header))
	if err != nil {
		return err
	}
	p.notify(cfg, "s3:ObjectCreated:Put", bucket, key, meta.ETag, meta.Size)
	w.Header().Set("ETag", `"`+meta.ETag+`"`)
	w.WriteHeader(http.StatusOK)
	return nil
}

func (p *Provider) copyObject(w http.ResponseWriter, bucket, key, source string) error {
	cfg, err := p.store.BucketConfig(bucket)
	if err != nil {
		return noSuchBucket(bucket)
	}
	srcBucket, srcKey := splitPath("/" + strings.TrimPrefix(source, "/"))
	body, srcMeta, err := p.store.Get(srcBucket, srcKey)
	if err != nil {
		if os.IsNotExist(err) {
			return noSuchKey(srcKey)
		}
		return err
	}
	meta, err := p.store.Put(bucket, key, body, srcMeta.ContentType, srcMeta.Metadata)
	if err != nil {
		return err
	}
	p.notify(cfg, "s3:ObjectCreated:Copy", bucket, key, meta.ETag, meta.Size)
	return writeXML(w, http.StatusOK, copyObjectResult{
		ETag:         `"` + meta.ETag + `"`,
		LastModified: meta.LastModified.Format(time.RFC3339),
	})
}

// getObject serves body and headers; head=true omits the body. Website
// buckets rewrite extensionless keys to the index document and serve the
// error document on misses.
func (p *Provider) getObject(w http.ResponseWriter, r *http.Request, bucket, key string, head bool) error {
	cfg, err := p.store.BucketConfig(bucket)
	if err != nil {
		return noSuchBucket(bucket)
	}
	var website *WebsiteConfig
	if cfg.Website != nil {
		website = cfg.Website
		key = websiteKey(website, key)
	}
	body, meta, err := p.store.Get(bucket, key)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if !head && website != nil && p.serveWebsiteError(w, bucket, website) {
			return nil
		}
		if head {
			w.WriteHeader(http.StatusNotFound)
			return nil
		}
		return noSuchKey(key)
	}
	status := http.StatusOK
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" && !head {
		sliced, contentRange, ok := sliceRange(body, rangeHeader)
		if !ok {
			return awserr.NewS3("InvalidRange", "The requested range is not satisfiable", key, http.StatusRequestedRangeNotSatisfiable)
		}
		w.Header().Set("Content-Range", contentRange)
		body = sliced
		status = http.StatusPartialContent
	}
	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	w.Header().Set("ETag", `"`+meta.ETag+`"`)
	w.Header().Set("Last-Modified", meta.LastModified.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Accept-Ranges", "bytes")
	for name, value := range meta.Metadata {
		w.Header().Set("x-amz-meta-"+name, value)
	}
	w.WriteHeader(status)
	if !head {
		_, _ = w.Write(body)
	}
	return nil
}

// sliceRange applies a bytes=start-end header with an inclusive end.
func sliceRange(body []byte, header string) (slice []byte, contentRange string, ok bool) {
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return nil, "", false
	}
	startRaw, endRaw, found := strings.Cut(spec, "-")
	if !found {
		return nil, "", false
	}
	total := len(body)
	start := 0
	end := total - 1
	if startRaw != "" {
		n, err := strconv.Atoi(startRaw)
		if err != nil {
			return nil, "", false
		}
		start = n
	} else if endRaw != "" {
		// suffix range: last N bytes
		n, err := strconv.Atoi(endRaw)
		if err != nil {
			return nil, "", false
		}
		if n > total {
			n = total
		}
		start = total - n
		endRaw = ""
	}
	if endRaw != "" {
		n, err := strconv.Atoi(endRaw)
		if err != nil {
			return nil, "", false
		}
		end = n
	}
	if end >= total {
		end = total - 1
	}
	if start < 0 || start > end {
		return nil, "", false
	}
	return body[start : end+1], fmt.Sprintf("bytes %d-%d/%d", start, end, total), true
}

// deleteObject returns 204 whether or not the key existed.
func (p *Provider) deleteObject(w http.ResponseWriter, bucket, key string) error {
	cfg, err := p.store.BucketConfig(bucket)
	if err != nil {
		return noSuchBucket(bucket)
	}
	existed := p.store.Exists(bucket, key)
	if err := p.store.Delete(bucket, key); err != nil {
		return err
	}
	if existed {
		p.notify(cfg, "s3:ObjectRemoved:Delete", bucket, key, "", 0)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (p *Provider) createMultipartUpload(w http.ResponseWriter, r *http.Request, bucket, key string) error {
	if _, err := p.store.BucketConfig(bucket); err != nil {
		return noSuchBucket(bucket)
	}
	up, err := p.uploads.Create(bucket, key, r.Header.Get("Content-Type"))
	if err != nil {
		return err
	}
	return writeXML(w, http.StatusOK, initiateMultipartUploadResult{Bucket: bucket, Key: key, UploadID: up.id})
}

func (p *Provider) uploadPart(w http.ResponseWriter, r *http.Request, uploadID, partNumberRaw string) error {
	up, err := p.uploads.Get(uploadID)
	if err != nil {
		return err
	}
	number, err := strconv.Atoi(partNumberRaw)
	if err != nil {
		return awserr.NewS3("InvalidArgument", "Part number must be an integer", up.key, http.StatusBadRequest)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("reading part body, %w", err)
	}
	info, err := up.PutPart(number, body)
	if err != nil {
		return err
	}
	w.Header().Set("ETag", `"`+info.ETag+`"`)
	w.WriteHeader(http.StatusOK)
	return nil
}

func (p *Provider) listParts(w http.ResponseWriter, bucket, key, uploadID string) error {
	up, err := p.uploads.Get(uploadID)
	if err != nil {
		return err
	}
	result := listPartsResult{Bucket: bucket, Key: key, UploadID: uploadID}
	result.Parts = lo.Map(up.Parts(), func(info partInfo, _ int) partElement {
		return partElement{
			PartNumber:   info.Number,
			LastModified: info.LastModified.Format(time.RFC3339),
			ETag:         `"` + info.ETag + `"`,
			Size:         info.Size,
		}
	})
	return writeXML(w, http.StatusOK, result)
}

func (p *Provider) completeMultipartUpload(w http.ResponseWriter, r *http.Request, bucket, key, uploadID string) error {
	cfg, err := p.store.BucketConfig(bucket)
	if err != nil {
		return noSuchBucket(bucket)
	}
	up, err := p.uploads.Get(uploadID)
	if err != nil {
		return err
	}
	var req completeMultipartUpload
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		return awserr.NewS3("MalformedXML", "The XML you provided was not well-formed", key, http.StatusBadRequest)
	}
	manifest := lo.Map(req.Parts, func(entry struct {
		PartNumber int    `xml:"PartNumber"`
		ETag       string `xml:"ETag"`
	}, _ int) completedPart {
		return completedPart{Number: entry.PartNumber, ETag: entry.ETag}
	})
	mergedPath, etag, err := up.Merge(manifest)
	if err != nil {
		return err
	}
	meta, err := p.store.PromoteFile(bucket, key, mergedPath, etag, up.contentType)
	if err != nil {
		return err
	}
	if err := p.uploads.Forget(up); err != nil {
		p.log.Warnw("cleaning upload staging directory", "uploadId", uploadID, "error", err)
	}
	p.notify(cfg, "s3:ObjectCreated:CompleteMultipartUpload", bucket, key, meta.ETag, meta.Size)
	return writeXML(w, http.StatusOK, completeMultipartUploadResult{
		Location: fmt.Sprintf("http://localhost:%d/%s/%s", p.port, bucket, key),
		Bucket:   bucket,
		Key:      key,
		ETag:     `"` + etag + `"`,
	})
}

func (p *Provider) abortMultipartUpload(w http.ResponseWriter, uploadID string) error {
	up, err := p.uploads.Get(uploadID)
	if err != nil {
		return err
	}
	if err := p.uploads.Forget(up); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
