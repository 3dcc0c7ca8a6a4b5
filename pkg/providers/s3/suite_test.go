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
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/Pallinder/go-randomdata"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/lws-dev/lws/pkg/awserr"
	"github.com/lws-dev/lws/pkg/middleware"
)

func TestS3(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "S3")
}

var _ = Describe("Store", func() {
	var store *Store
	var bucket string

	BeforeEach(func() {
		store = NewStore(GinkgoT().TempDir())
		bucket = strings.ToLower(randomdata.SillyName())
		existed, err := store.CreateBucket(bucket)
		Expect(err).ToNot(HaveOccurred())
		Expect(existed).To(BeFalse())
	})

	It("creates buckets idempotently", func() {
		existed, err := store.CreateBucket(bucket)
		Expect(err).ToNot(HaveOccurred())
		Expect(existed).To(BeTrue())
	})

	It("round-trips an object with its MD5 ETag", func() {
		body := []byte("hello world")
		meta, err := store.Put(bucket, "greeting.txt", body, "text/plain", nil)
		Expect(err).ToNot(HaveOccurred())
		sum := md5.Sum(body)
		Expect(meta.ETag).To(Equal(hex.EncodeToString(sum[:])))

		got, gotMeta, err := store.Get(bucket, "greeting.txt")
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(Equal(body))
		Expect(gotMeta.ContentType).To(Equal("text/plain"))
		Expect(gotMeta.Size).To(Equal(int64(len(body))))
	})

	It("stores nested keys and lists them in lexicographic order", func() {
		for _, key := range []string{"b/2.txt", "a/1.txt", "a/2.txt"} {
			_, err := store.Put(bucket, key, []byte("x"), "", nil)
			Expect(err).ToNot(HaveOccurred())
		}
		keys, err := store.Keys(bucket)
		Expect(err).ToNot(HaveOccurred())
		Expect(keys).To(Equal([]string{"a/1.txt", "a/2.txt", "b/2.txt"}))
	})

	It("keeps user metadata on the sidecar", func() {
		_, err := store.Put(bucket, "k", []byte("x"), "", map[string]string{"owner": "tests"})
		Expect(err).ToNot(HaveOccurred())
		meta, err := store.Meta(bucket, "k")
		Expect(err).ToNot(HaveOccurred())
		Expect(meta.Metadata).To(HaveKeyWithValue("owner", "tests"))
	})

	It("deletes objects idempotently", func() {
		_, err := store.Put(bucket, "k", []byte("x"), "", nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(store.Delete(bucket, "k")).To(Succeed())
		Expect(store.Delete(bucket, "k")).To(Succeed())
		Expect(store.Exists(bucket, "k")).To(BeFalse())
	})

	It("excludes the metadata sidecars from key listings", func() {
		_, err := store.Put(bucket, "k", []byte("x"), "", nil)
		Expect(err).ToNot(HaveOccurred())
		keys, err := store.Keys(bucket)
		Expect(err).ToNot(HaveOccurred())
		Expect(keys).To(Equal([]string{"k"}))
	})

	It("deletes a bucket with everything in it", func() {
		_, err := store.Put(bucket, "k", []byte("x"), "", nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(store.DeleteBucket(bucket)).To(Succeed())
		_, err = store.BucketConfig(bucket)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Multipart", func() {
	var store *Store
	var ups *uploads

	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		store = NewStore(dir)
		ups = newUploads(dir)
		_, err := store.CreateBucket("mp")
		Expect(err).ToNot(HaveOccurred())
	})

	It("merges parts in order and suffixes the ETag with the part count", func() {
		up, err := ups.Create("mp", "big.bin", "application/octet-stream")
		Expect(err).ToNot(HaveOccurred())
		p1, err := up.PutPart(1, []byte("hello "))
		Expect(err).ToNot(HaveOccurred())
		p2, err := up.PutPart(2, []byte("world"))
		Expect(err).ToNot(HaveOccurred())

		merged, etag, err := up.Merge([]completedPart{
			{Number: 1, ETag: p1.ETag},
			{Number: 2, ETag: p2.ETag},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(etag).To(MatchRegexp(`^[0-9a-f]{32}-2$`))

		meta, err := store.PromoteFile("mp", "big.bin", merged, etag, up.contentType)
		Expect(err).ToNot(HaveOccurred())
		Expect(meta.ETag).To(Equal(etag))
		body, _, err := store.Get("mp", "big.bin")
		Expect(err).ToNot(HaveOccurred())
		Expect(string(body)).To(Equal("hello world"))
	})

	It("accepts quoted manifest ETags", func() {
		up, err := ups.Create("mp", "k", "")
		Expect(err).ToNot(HaveOccurred())
		p1, err := up.PutPart(1, []byte("x"))
		Expect(err).ToNot(HaveOccurred())
		_, _, err = up.Merge([]completedPart{{Number: 1, ETag: `"` + p1.ETag + `"`}})
		Expect(err).ToNot(HaveOccurred())
	})

	It("rejects out-of-order, unknown and mismatched parts", func() {
		up, err := ups.Create("mp", "k", "")
		Expect(err).ToNot(HaveOccurred())
		p1, err := up.PutPart(1, []byte("a"))
		Expect(err).ToNot(HaveOccurred())
		p2, err := up.PutPart(2, []byte("b"))
		Expect(err).ToNot(HaveOccurred())

		_, _, err = up.Merge([]completedPart{{Number: 2, ETag: p2.ETag}, {Number: 1, ETag: p1.ETag}})
		Expect(s3Code(err)).To(Equal("InvalidPartOrder"))
		_, _, err = up.Merge([]completedPart{{Number: 3, ETag: "deadbeef"}})
		Expect(s3Code(err)).To(Equal("InvalidPart"))
		_, _, err = up.Merge([]completedPart{{Number: 1, ETag: p2.ETag}})
		Expect(s3Code(err)).To(Equal("InvalidPart"))
		_, _, err = up.Merge(nil)
		Expect(s3Code(err)).To(Equal("InvalidRequest"))
	})

	It("rejects part numbers outside the valid range", func() {
		up, err := ups.Create("mp", "k", "")
		Expect(err).ToNot(HaveOccurred())
		_, err = up.PutPart(0, []byte("x"))
		Expect(s3Code(err)).To(Equal("InvalidArgument"))
		_, err = up.PutPart(10001, []byte("x"))
		Expect(s3Code(err)).To(Equal("InvalidArgument"))
	})

	It("forgets aborted uploads", func() {
		up, err := ups.Create("mp", "k", "")
		Expect(err).ToNot(HaveOccurred())
		Expect(ups.Forget(up)).To(Succeed())
		_, err = ups.Get(up.id)
		Expect(s3Code(err)).To(Equal("NoSuchUpload"))
	})
})

func s3Code(err error) string {
	var s3Err *awserr.S3Error
	if errors.As(err, &s3Err) {
		return s3Err.Code
	}
	return ""
}

var _ = Describe("Notification rules", func() {
	It("matches events with wildcards and key filters", func() {
		rule := NotificationRule{
			TargetARN: "arn:aws:sqs:us-east-1:000000000000:uploads",
			Events:    []string{"s3:ObjectCreated:*"},
			Prefix:    "images/",
			Suffix:    ".png",
		}
		Expect(rule.Matches("s3:ObjectCreated:Put", "images/cat.png")).To(BeTrue())
		Expect(rule.Matches("s3:ObjectCreated:CompleteMultipartUpload", "images/cat.png")).To(BeTrue())
		Expect(rule.Matches("s3:ObjectRemoved:Delete", "images/cat.png")).To(BeFalse())
		Expect(rule.Matches("s3:ObjectCreated:Put", "docs/cat.png")).To(BeFalse())
		Expect(rule.Matches("s3:ObjectCreated:Put", "images/cat.jpg")).To(BeFalse())
	})

	It("matches exact event names", func() {
		rule := NotificationRule{Events: []string{"s3:ObjectRemoved:Delete"}}
		Expect(rule.Matches("s3:ObjectRemoved:Delete", "any")).To(BeTrue())
		Expect(rule.Matches("s3:ObjectRemoved:DeleteMarkerCreated", "any")).To(BeFalse())
	})
})

var _ = Describe("Website key resolution", func() {
	cfg := &WebsiteConfig{IndexDocument: "index.html", ErrorDocument: "404.html"}

	It("serves the index document for directory-shaped keys", func() {
		Expect(websiteKey(cfg, "")).To(Equal("index.html"))
		Expect(websiteKey(cfg, "blog/")).To(Equal("blog/index.html"))
		Expect(websiteKey(cfg, "blog")).To(Equal("blog/index.html"))
	})

	It("leaves keys with extensions alone", func() {
		Expect(websiteKey(cfg, "blog/post.html")).To(Equal("blog/post.html"))
	})
})

var _ = Describe("Website root serving", func() {
	var p *Provider
	var bucket string

	BeforeEach(func() {
		p = NewProvider(zap.NewNop().Sugar(), 0, GinkgoT().TempDir(), middleware.Config{})
		bucket = "site"
		_, err := p.store.CreateBucket(bucket)
		Expect(err).ToNot(HaveOccurred())
		_, err = p.store.Put(bucket, "index.html", []byte("<h1>welcome</h1>"), "text/html", nil)
		Expect(err).ToNot(HaveOccurred())
	})

	get := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		p.handle(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	enableWebsite := func() {
		cfg, err := p.store.BucketConfig(bucket)
		Expect(err).ToNot(HaveOccurred())
		cfg.Website = &WebsiteConfig{IndexDocument: "index.html"}
		Expect(p.store.PutBucketConfig(bucket, cfg)).To(Succeed())
	}

	It("serves the index document for a bare bucket GET", func() {
		enableWebsite()
		rec := get("/" + bucket)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("welcome"))
		Expect(rec.Header().Get("Content-Type")).To(Equal("text/html"))
	})

	It("still lists objects on an explicit list-type request", func() {
		enableWebsite()
		rec := get("/" + bucket + "?list-type=2")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("ListBucketResult"))
	})

	It("lists objects when no website configuration exists", func() {
		rec := get("/" + bucket)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("ListBucketResult"))
	})
})

var _ = Describe("Range requests", func() {
	body := []byte("0123456789")

	It("slices inclusive ranges", func() {
		slice, contentRange, ok := sliceRange(body, "bytes=2-4")
		Expect(ok).To(BeTrue())
		Expect(string(slice)).To(Equal("234"))
		Expect(contentRange).To(Equal("bytes 2-4/10"))
	})

	It("slices open-ended and suffix ranges", func() {
		slice, _, ok := sliceRange(body, "bytes=7-")
		Expect(ok).To(BeTrue())
		Expect(string(slice)).To(Equal("789"))

		slice, contentRange, ok := sliceRange(body, "bytes=-3")
		Expect(ok).To(BeTrue())
		Expect(string(slice)).To(Equal("789"))
		Expect(contentRange).To(Equal("bytes 7-9/10"))
	})

	It("clamps the end to the object size", func() {
		slice, contentRange, ok := sliceRange(body, "bytes=5-100")
		Expect(ok).To(BeTrue())
		Expect(string(slice)).To(Equal("56789"))
		Expect(contentRange).To(Equal("bytes 5-9/10"))
	})

	It("rejects unsatisfiable ranges", func() {
		_, _, ok := sliceRange(body, "bytes=50-60")
		Expect(ok).To(BeFalse())
		_, _, ok = sliceRange(body, "nonsense")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Continuation tokens", func() {
	It("uses opaque-looking but stable upload ids", func() {
		ups := newUploads(GinkgoT().TempDir())
		up, err := ups.Create("b", "k", "")
		Expect(err).ToNot(HaveOccurred())
		Expect(regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(up.id)).To(BeTrue())
	})
})
