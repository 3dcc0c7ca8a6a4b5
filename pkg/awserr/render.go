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

package awserr

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
)

type jsonEnvelope struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

type queryEnvelope struct {
	XMLName   xml.Name `xml:"ErrorResponse"`
	Type      string   `xml:"Error>Type"`
	Code      string   `xml:"Error>Code"`
	Message   string   `xml:"Error>Message"`
	RequestID string   `xml:"RequestId"`
}

type s3Envelope struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource,omitempty"`
	RequestID string   `xml:"RequestId"`
}

// Write renders err into the family-native envelope. Untagged errors become a
// 500 InternalServerError in the same family; they are never swallowed.
func Write(w http.ResponseWriter, family Family, requestID string, err error) {
	switch family {
	case FamilyQuery:
		writeQuery(w, requestID, asQuery(err))
	case FamilyS3:
		writeS3(w, requestID, asS3(err))
	default:
		writeJSON(w, requestID, asJSON(err))
	}
}

func asJSON(err error) *JSONError {
	var jsonErr *JSONError
	if errors.As(err, &jsonErr) {
		return jsonErr
	}
	return NewJSON("InternalServerError", err.Error(), http.StatusInternalServerError)
}

func asQuery(err error) *XMLError {
	var xmlErr *XMLError
	if errors.As(err, &xmlErr) {
		return xmlErr
	}
	var jsonErr *JSONError
	if errors.As(err, &jsonErr) {
		return NewQuery(jsonErr.Type, jsonErr.Message, jsonErr.Status)
	}
	return NewQuery("InternalFailure", err.Error(), http.StatusInternalServerError)
}

func asS3(err error) *S3Error {
	var s3Err *S3Error
	if errors.As(err, &s3Err) {
		return s3Err
	}
	var jsonErr *JSONError
	if errors.As(err, &jsonErr) {
		return NewS3(jsonErr.Type, jsonErr.Message, "", jsonErr.Status)
	}
	return NewS3("InternalError", err.Error(), "", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, _ string, e *JSONError) {
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(jsonEnvelope{Type: e.Type, Message: e.Message})
}

func writeQuery(w http.ResponseWriter, requestID string, e *XMLError) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(e.Status)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(queryEnvelope{Type: "Sender", Code: e.Code, Message: e.Message, RequestID: requestID})
}

func writeS3(w http.ResponseWriter, requestID string, e *S3Error) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(e.Status)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(s3Envelope{Code: e.Code, Message: e.Message, Resource: e.Resource, RequestID: requestID})
}
