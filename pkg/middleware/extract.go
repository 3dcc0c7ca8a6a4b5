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

package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// TargetOperation extracts the Operation segment of an X-Amz-Target header
// ("DynamoDB_20120810.PutItem" -> "PutItem"), the json-1.1 wire style.
func TargetOperation(r *http.Request, _ []byte) string {
	target := r.Header.Get("X-Amz-Target")
	if target == "" {
		return ""
	}
	if idx := strings.LastIndex(target, "."); idx >= 0 {
		return target[idx+1:]
	}
	return target
}

// FormAction extracts the Action value of a form-encoded body (legacy query
// wire style), falling back to the query string.
func FormAction(r *http.Request, body []byte) string {
	if action := r.URL.Query().Get("Action"); action != "" {
		return action
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return ""
	}
	return values.Get("Action")
}

// RESTOperation derives an operation string from the method and the
// sub-resource query parameters, the S3 wire style.
func RESTOperation(r *http.Request, _ []byte) string {
	method := strings.ToLower(r.Method)
	query := r.URL.Query()
	bucket, key := splitS3Path(r.URL.Path)
	switch {
	case query.Has("uploads"):
		return method + "-multipart-uploads"
	case query.Has("uploadId"):
		return method + "-multipart-upload"
	case query.Has("website"):
		return method + "-bucket-website"
	case query.Has("policy"):
		return method + "-bucket-policy"
	case query.Has("notification"):
		return method + "-bucket-notification"
	case query.Has("delete"):
		return "delete-objects"
	case query.Has("location"):
		return "get-bucket-location"
	case key != "":
		return method + "-object"
	case bucket != "" && method == "get":
		return "list-objects-v2"
	case bucket != "":
		return method + "-bucket"
	default:
		return "list-buckets"
	}
}

// S3Resource names the bucket the request addresses; IAM resource matching
// for the object store runs against bucket ARNs.
func S3Resource(r *http.Request, _ []byte) string {
	bucket, _ := splitS3Path(r.URL.Path)
	return bucket
}

func splitS3Path(path string) (bucket, key string) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", ""
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
