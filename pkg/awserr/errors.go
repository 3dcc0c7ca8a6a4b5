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

// Package awserr carries the tagged error variants for each wire family and
// renders them into the family-native envelope at the HTTP edge. Handlers
// return these up through the chain instead of writing responses themselves.
package awserr

import (
	"errors"
	"fmt"
	"net/http"
)

// Family identifies the wire protocol a service speaks, which fixes the shape
// of its error envelope.
type Family string

const (
	// FamilyJSON is the json-1.1 protocol ({"__type": ..., "message": ...}).
	FamilyJSON Family = "json"
	// FamilyQuery is the legacy form-encoded protocol (<ErrorResponse> XML).
	FamilyQuery Family = "query"
	// FamilyS3 is the S3 REST dialect (<Error> XML).
	FamilyS3 Family = "s3"
)

// JSONError renders as {"__type": Type, "message": Message}.
type JSONError struct {
	Type    string
	Message string
	Status  int
}

func (e *JSONError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// XMLError renders as an <ErrorResponse> envelope.
type XMLError struct {
	Code    string
	Message string
	Status  int
}

func (e *XMLError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// S3Error renders as the flat <Error> envelope S3 uses.
type S3Error struct {
	Code     string
	Message  string
	Resource string
	Status   int
}

func (e *S3Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewJSON(errType, message string, status int) *JSONError {
	return &JSONError{Type: errType, Message: message, Status: status}
}

func NewQuery(code, message string, status int) *XMLError {
	return &XMLError{Code: code, Message: message, Status: status}
}

func NewS3(code, message, resource string, status int) *S3Error {
	return &S3Error{Code: code, Message: message, Resource: resource, Status: status}
}

// Common constructors; operation handlers use these rather than spelling the
// exception names everywhere.

func ValidationException(format string, a ...interface{}) *JSONError {
	return NewJSON("ValidationException", fmt.Sprintf(format, a...), http.StatusBadRequest)
}

func ResourceNotFoundException(format string, a ...interface{}) *JSONError {
	return NewJSON("ResourceNotFoundException", fmt.Sprintf(format, a...), http.StatusBadRequest)
}

func ResourceInUseException(format string, a ...interface{}) *JSONError {
	return NewJSON("ResourceInUseException", fmt.Sprintf(format, a...), http.StatusBadRequest)
}

func ConditionalCheckFailedException(message string) *JSONError {
	return NewJSON("ConditionalCheckFailedException", message, http.StatusBadRequest)
}

func AccessDeniedJSON(message string) *JSONError {
	return NewJSON("AccessDeniedException", message, http.StatusBadRequest)
}

func AccessDeniedQuery(message string) *XMLError {
	return NewQuery("AccessDenied", message, http.StatusForbidden)
}

func AccessDeniedS3(message, resource string) *S3Error {
	return NewS3("AccessDenied", message, resource, http.StatusForbidden)
}

// Status extracts the HTTP status carried by a tagged error, defaulting to 500
// for anything untagged.
func Status(err error) int {
	var jsonErr *JSONError
	if errors.As(err, &jsonErr) {
		return jsonErr.Status
	}
	var xmlErr *XMLError
	if errors.As(err, &xmlErr) {
		return xmlErr.Status
	}
	var s3Err *S3Error
	if errors.As(err, &s3Err) {
		return s3Err.Status
	}
	return http.StatusInternalServerError
}
