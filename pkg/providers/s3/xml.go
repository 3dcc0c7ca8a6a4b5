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

import "encoding/xml"

type listAllMyBucketsResult struct {
	XMLName xml.Name     `xml:"ListAllMyBucketsResult"`
	Owner   ownerElement `xml:"Owner"`
	Buckets struct {
		Bucket []bucketElement `xml:"Bucket"`
	} `xml:"Buckets"`
}

type ownerElement struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

type bucketElement struct {
	Name         string `xml:"Name"`
	CreationDate string `xml:"CreationDate"`
}

type listBucketResult struct {
	XMLName               xml.Name        `xml:"ListBucketResult"`
	Name                  string          `xml:"Name"`
	Prefix                string          `xml:"Prefix"`
	Delimiter             string          `xml:"Delimiter,omitempty"`
	KeyCount              int             `xml:"KeyCount"`
	MaxKeys               int             `xml:"MaxKeys"`
	IsTruncated           bool            `xml:"IsTruncated"`
	ContinuationToken     string          `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string          `xml:"NextContinuationToken,omitempty"`
	Contents              []contents      `xml:"Contents"`
	CommonPrefixes        []commonPrefix  `xml:"CommonPrefixes"`
}

type contents struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type commonPrefix struct {
	Prefix string `xml:"Prefix"`
}

type locationConstraint struct {
	XMLName xml.Name `xml:"LocationConstraint"`
	Value   string   `xml:",chardata"`
}

type copyObjectResult struct {
	XMLName      xml.Name `xml:"CopyObjectResult"`
	ETag         string   `xml:"ETag"`
	LastModified string   `xml:"LastModified"`
}

type initiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

type completeMultipartUpload struct {
	XMLName xml.Name `xml:"CompleteMultipartUpload"`
	Parts   []struct {
		PartNumber int    `xml:"PartNumber"`
		ETag       string `xml:"ETag"`
	} `xml:"Part"`
}

type completeMultipartUploadResult struct {
	XMLName  xml.Name `xml:"CompleteMultipartUploadResult"`
	Location string   `xml:"Location"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	ETag     string   `xml:"ETag"`
}

type listPartsResult struct {
	XMLName  xml.Name      `xml:"ListPartsResult"`
	Bucket   string        `xml:"Bucket"`
	Key      string        `xml:"Key"`
	UploadID string        `xml:"UploadId"`
	Parts    []partElement `xml:"Part"`
}

type partElement struct {
	PartNumber   int    `xml:"PartNumber"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
}

type listMultipartUploadsResult struct {
	XMLName xml.Name        `xml:"ListMultipartUploadsResult"`
	Bucket  string          `xml:"Bucket"`
	Uploads []uploadElement `xml:"Upload"`
}

type uploadElement struct {
	Key      string `xml:"Key"`
	UploadID string `xml:"UploadId"`
}

type deleteRequest struct {
	XMLName xml.Name `xml:"Delete"`
	Objects []struct {
		Key string `xml:"Key"`
	} `xml:"Object"`
	Quiet bool `xml:"Quiet"`
}

type deleteResult struct {
	XMLName xml.Name        `xml:"DeleteResult"`
	Deleted []deletedObject `xml:"Deleted"`
	Errors  []deleteError   `xml:"Error"`
}

type deletedObject struct {
	Key string `xml:"Key"`
}

type deleteError struct {
	Key     string `xml:"Key"`
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

type websiteConfiguration struct {
	XMLName       xml.Name `xml:"WebsiteConfiguration"`
	IndexDocument *struct {
		Suffix string `xml:"Suffix"`
	} `xml:"IndexDocument"`
	ErrorDocument *struct {
		Key string `xml:"Key"`
	} `xml:"ErrorDocument"`
}

// notificationConfiguration is the PUT ?notification document; each
// configuration kind carries its target in a different element.
type notificationConfiguration struct {
	XMLName xml.Name                 `xml:"NotificationConfiguration"`
	Topics  []notificationTopicCfg   `xml:"TopicConfiguration"`
	Queues  []notificationQueueCfg   `xml:"QueueConfiguration"`
	Lambdas []notificationLambdaCfg  `xml:"CloudFunctionConfiguration"`
}

type notificationTopicCfg struct {
	Topic  string   `xml:"Topic"`
	Events []string `xml:"Event"`
	Filter notificationFilter `xml:"Filter"`
}

type notificationQueueCfg struct {
	Queue  string   `xml:"Queue"`
	Events []string `xml:"Event"`
	Filter notificationFilter `xml:"Filter"`
}

type notificationLambdaCfg struct {
	CloudFunction string   `xml:"CloudFunction"`
	Events        []string `xml:"Event"`
	Filter        notificationFilter `xml:"Filter"`
}

type notificationFilter struct {
	S3Key struct {
		Rules []struct {
			Name  string `xml:"Name"`
			Value string `xml:"Value"`
		} `xml:"FilterRule"`
	} `xml:"S3Key"`
}

// rules converts a parsed filter into the stored prefix/suffix pair.
func (f notificationFilter) rules() (prefix, suffix string) {
	for _, r := range f.S3Key.Rules {
		switch r.Name {
		case "prefix":
			prefix = r.Value
		case "suffix":
			suffix = r.Value
		}
	}
	return prefix, suffix
}
