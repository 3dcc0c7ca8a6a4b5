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
	"net/http"
	"path"
	"strings"
)

// websiteKey rewrites a request key per website rules: a trailing slash or
// an extensionless final segment resolves to the index document under that
// prefix. Keys with extensions pass through unchanged.
func websiteKey(cfg *WebsiteConfig, key string) string {
	if cfg == nil || cfg.IndexDocument == "" {
		return key
	}
	switch {
	case key == "" || strings.HasSuffix(key, "/"):
		return key + cfg.IndexDocument
	case path.Ext(key) == "":
		return key + "/" + cfg.IndexDocument
	default:
		return key
	}
}

// serveWebsiteError serves the configured error document with a 404 status,
// preserving its content type. Reports whether it handled the response.
func (p *Provider) serveWebsiteError(w http.ResponseWriter, bucket string, cfg *WebsiteConfig) bool {
	if cfg == nil || cfg.ErrorDocument == "" {
		return false
	}
	body, meta, err := p.store.Get(bucket, cfg.ErrorDocument)
	if err != nil {
		return false
	}
	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write(body)
	return true
}
