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

package sqs

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/lws-dev/lws/pkg/awserr"
)

func (p *Provider) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		awserr.Write(w, awserr.FamilyQuery, uuid.NewString(), awserr.NewQuery("InvalidParameterValue", "unparseable form body", http.StatusBadRequest))
		return
	}
	action := r.FormValue("Action")
	result, err := p.dispatch(action, r)
	if err != nil {
		awserr.Write(w, awserr.FamilyQuery, uuid.NewString(), err)
		return
	}
	writeXML(w, result)
}

//nolint:gocyclo // one arm per wire action
func (p *Provider) dispatch(action string, r *http.Request) (interface{}, error) {
	switch action {
	case "CreateQueue":
		return p.handleCreateQueue(r)
	case "GetQueueUrl":
		return p.handleGetQueueURL(r)
	case "ListQueues":
		return p.handleListQueues(r)
	case "DeleteQueue":
		return p.handleDeleteQueue(r)
	case "SendMessage":
		return p.handleSendMessage(r)
	case "SendMessageBatch":
		return p.handleSendMessageBatch(r)
	case "ReceiveMessage":
		return p.handleReceiveMessage(r)
	case "DeleteMessage":
		return p.handleDeleteMessage(r)
	case "DeleteMessageBatch":
		return p.handleDeleteMessageBatch(r)
	case "ChangeMessageVisibility":
		return p.handleChangeMessageVisibility(r)
	case "PurgeQueue":
		return p.handlePurgeQueue(r)
	case "GetQueueAttributes":
		return p.handleGetQueueAttributes(r)
	case "TagQueue":
		return p.handleTagQueue(r)
	case "ListQueueTags":
		return p.handleListQueueTags(r)
	default:
		return nil, awserr.NewQuery("InvalidAction", fmt.Sprintf("The action %s is not valid for this endpoint.", action), http.StatusBadRequest)
	}
}

type responseMetadata struct {
	RequestID string `xml:"RequestId"`
}

func metadata() responseMetadata {
	return responseMetadata{RequestID: uuid.NewString()}
}

func writeXML(w http.ResponseWriter, result interface{}) {
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(result)
}

type createQueueResponse struct {
	XMLName          xml.Name         `xml:"CreateQueueResponse"`
	QueueURL         string           `xml:"CreateQueueResult>QueueUrl"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleCreateQueue(r *http.Request) (interface{}, error) {
	name := r.FormValue("QueueName")
	if name == "" {
		return nil, awserr.NewQuery("InvalidParameterValue", "QueueName is required", http.StatusBadRequest)
	}
	q, err := p.CreateQueue(name, indexedPairs(r, "Attribute"))
	if err != nil {
		return nil, awserr.NewQuery("InvalidAttributeValue", err.Error(), http.StatusBadRequest)
	}
	return createQueueResponse{QueueURL: q.URL, ResponseMetadata: metadata()}, nil
}

type getQueueURLResponse struct {
	XMLName          xml.Name         `xml:"GetQueueUrlResponse"`
	QueueURL         string           `xml:"GetQueueUrlResult>QueueUrl"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleGetQueueURL(r *http.Request) (interface{}, error) {
	q, ok := p.QueueByName(r.FormValue("QueueName"))
	if !ok {
		return nil, awserr.NewQuery("AWS.SimpleQueueService.NonExistentQueue", "The specified queue does not exist.", http.StatusBadRequest)
	}
	return getQueueURLResponse{QueueURL: q.URL, ResponseMetadata: metadata()}, nil
}

type listQueuesResponse struct {
	XMLName          xml.Name         `xml:"ListQueuesResponse"`
	QueueURLs        []string         `xml:"ListQueuesResult>QueueUrl"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleListQueues(_ *http.Request) (interface{}, error) {
	p.mu.RLock()
	urls := lo.Map(lo.Values(p.queues), func(q *Queue, _ int) string { return q.URL })
	p.mu.RUnlock()
	return listQueuesResponse{QueueURLs: urls, ResponseMetadata: metadata()}, nil
}

type deleteQueueResponse struct {
	XMLName          xml.Name         `xml:"DeleteQueueResponse"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleDeleteQueue(r *http.Request) (interface{}, error) {
	q, err := p.queueFromRequest(r)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	delete(p.queues, q.Name)
	p.mu.Unlock()
	return deleteQueueResponse{ResponseMetadata: metadata()}, nil
}

type sendMessageResponse struct {
	XMLName          xml.Name         `xml:"SendMessageResponse"`
	MessageID        string           `xml:"SendMessageResult>MessageId"`
	MD5OfBody        string           `xml:"SendMessageResult>MD5OfMessageBody"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleSendMessage(r *http.Request) (interface{}, error) {
	q, err := p.queueFromRequest(r)
	if err != nil {
		return nil, err
	}
	body := r.FormValue("MessageBody")
	delay := time.Duration(formInt(r, "DelaySeconds", 0)) * time.Second
	msg := q.Send(body, delay, parseMessageAttributes(r, "MessageAttribute"))
	return sendMessageResponse{MessageID: msg.ID, MD5OfBody: bodyMD5(body), ResponseMetadata: metadata()}, nil
}

type batchResultEntry struct {
	ID        string `xml:"Id"`
	MessageID string `xml:"MessageId"`
	MD5OfBody string `xml:"MD5OfMessageBody"`
}

type sendMessageBatchResponse struct {
	XMLName          xml.Name           `xml:"SendMessageBatchResponse"`
	Entries          []batchResultEntry `xml:"SendMessageBatchResult>SendMessageBatchResultEntry"`
	ResponseMetadata responseMetadata   `xml:"ResponseMetadata"`
}

func (p *Provider) handleSendMessageBatch(r *http.Request) (interface{}, error) {
	q, err := p.queueFromRequest(r)
	if err != nil {
		return nil, err
	}
	var entries []batchResultEntry
	for i := 1; ; i++ {
		prefix := fmt.Sprintf("SendMessageBatchRequestEntry.%d", i)
		id := r.FormValue(prefix + ".Id")
		if id == "" {
			break
		}
		body := r.FormValue(prefix + ".MessageBody")
		delay := time.Duration(formInt(r, prefix+".DelaySeconds", 0)) * time.Second
		msg := q.Send(body, delay, parseMessageAttributes(r, prefix+".MessageAttribute"))
		entries = append(entries, batchResultEntry{ID: id, MessageID: msg.ID, MD5OfBody: bodyMD5(body)})
	}
	return sendMessageBatchResponse{Entries: entries, ResponseMetadata: metadata()}, nil
}

type wireAttribute struct {
	Name  string `xml:"Name"`
	Value string `xml:"Value"`
}

type wireMessageAttribute struct {
	Name        string `xml:"Name"`
	StringValue string `xml:"Value>StringValue,omitempty"`
	DataType    string `xml:"Value>DataType"`
}

type wireMessage struct {
	MessageID         string                 `xml:"MessageId"`
	ReceiptHandle     string                 `xml:"ReceiptHandle"`
	MD5OfBody         string                 `xml:"MD5OfBody"`
	Body              string                 `xml:"Body"`
	Attributes        []wireAttribute        `xml:"Attribute"`
	MessageAttributes []wireMessageAttribute `xml:"MessageAttribute"`
}

type receiveMessageResponse struct {
	XMLName          xml.Name         `xml:"ReceiveMessageResponse"`
	Messages         []wireMessage    `xml:"ReceiveMessageResult>Message"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleReceiveMessage(r *http.Request) (interface{}, error) {
	q, err := p.queueFromRequest(r)
	if err != nil {
		return nil, err
	}
	max := formInt(r, "MaxNumberOfMessages", 1)
	visibility := time.Duration(formInt(r, "VisibilityTimeout", -1)) * time.Second
	wait := time.Duration(formInt(r, "WaitTimeSeconds", 0)) * time.Second

	deadline := p.clk.Now().Add(wait)
	received := q.Receive(max, visibility)
	for len(received) == 0 && p.clk.Now().Before(deadline) {
		p.clk.Sleep(100 * time.Millisecond)
		received = q.Receive(max, visibility)
	}
	messages := lo.Map(received, func(rcv Received, _ int) wireMessage {
		return wireMessage{
			MessageID:     rcv.Message.ID,
			ReceiptHandle: rcv.ReceiptHandle,
			MD5OfBody:     bodyMD5(rcv.Message.Body),
			Body:          rcv.Message.Body,
			Attributes: lo.MapToSlice(rcv.Message.Attributes, func(k, v string) wireAttribute {
				return wireAttribute{Name: k, Value: v}
			}),
			MessageAttributes: lo.MapToSlice(rcv.Message.MessageAttributes, func(k string, v MessageAttribute) wireMessageAttribute {
				return wireMessageAttribute{Name: k, StringValue: v.StringValue, DataType: v.DataType}
			}),
		}
	})
	return receiveMessageResponse{Messages: messages, ResponseMetadata: metadata()}, nil
}

type deleteMessageResponse struct {
	XMLName          xml.Name         `xml:"DeleteMessageResponse"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleDeleteMessage(r *http.Request) (interface{}, error) {
	q, err := p.queueFromRequest(r)
	if err != nil {
		return nil, err
	}
	q.Delete(r.FormValue("ReceiptHandle"))
	return deleteMessageResponse{ResponseMetadata: metadata()}, nil
}

type deleteMessageBatchResponse struct {
	XMLName          xml.Name         `xml:"DeleteMessageBatchResponse"`
	IDs              []string         `xml:"DeleteMessageBatchResult>DeleteMessageBatchResultEntry>Id"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleDeleteMessageBatch(r *http.Request) (interface{}, error) {
	q, err := p.queueFromRequest(r)
	if err != nil {
		return nil, err
	}
	var ids []string
	for i := 1; ; i++ {
		prefix := fmt.Sprintf("DeleteMessageBatchRequestEntry.%d", i)
		id := r.FormValue(prefix + ".Id")
		if id == "" {
			break
		}
		q.Delete(r.FormValue(prefix + ".ReceiptHandle"))
		ids = append(ids, id)
	}
	return deleteMessageBatchResponse{IDs: ids, ResponseMetadata: metadata()}, nil
}

type changeMessageVisibilityResponse struct {
	XMLName          xml.Name         `xml:"ChangeMessageVisibilityResponse"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleChangeMessageVisibility(r *http.Request) (interface{}, error) {
	q, err := p.queueFromRequest(r)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(formInt(r, "VisibilityTimeout", 0)) * time.Second
	if !q.ChangeVisibility(r.FormValue("ReceiptHandle"), timeout) {
		return nil, awserr.NewQuery("ReceiptHandleIsInvalid", "The receipt handle is not valid.", http.StatusBadRequest)
	}
	return changeMessageVisibilityResponse{ResponseMetadata: metadata()}, nil
}

type purgeQueueResponse struct {
	XMLName          xml.Name         `xml:"PurgeQueueResponse"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handlePurgeQueue(r *http.Request) (interface{}, error) {
	q, err := p.queueFromRequest(r)
	if err != nil {
		return nil, err
	}
	q.Purge()
	return purgeQueueResponse{ResponseMetadata: metadata()}, nil
}

type getQueueAttributesResponse struct {
	XMLName          xml.Name         `xml:"GetQueueAttributesResponse"`
	Attributes       []wireAttribute  `xml:"GetQueueAttributesResult>Attribute"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleGetQueueAttributes(r *http.Request) (interface{}, error) {
	q, err := p.queueFromRequest(r)
	if err != nil {
		return nil, err
	}
	attrs := lo.Assign(map[string]string{
		"QueueArn":                              q.ARN,
		"ApproximateNumberOfMessages":           strconv.Itoa(q.Depth()),
		"CreatedTimestamp":                      strconv.FormatInt(q.CreatedAt.Unix(), 10),
		"VisibilityTimeout":                     strconv.Itoa(int(q.defaultVisibility.Seconds())),
	}, q.Attributes)
	return getQueueAttributesResponse{
		Attributes: lo.MapToSlice(attrs, func(k, v string) wireAttribute {
			return wireAttribute{Name: k, Value: v}
		}),
		ResponseMetadata: metadata(),
	}, nil
}

type tagQueueResponse struct {
	XMLName          xml.Name         `xml:"TagQueueResponse"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleTagQueue(r *http.Request) (interface{}, error) {
	q, err := p.queueFromRequest(r)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	for key, value := range indexedPairs(r, "Tag") {
		q.Tags[key] = value
	}
	q.mu.Unlock()
	return tagQueueResponse{ResponseMetadata: metadata()}, nil
}

type listQueueTagsResponse struct {
	XMLName          xml.Name         `xml:"ListQueueTagsResponse"`
	Tags             []wireAttribute  `xml:"ListQueueTagsResult>Tag"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleListQueueTags(r *http.Request) (interface{}, error) {
	q, err := p.queueFromRequest(r)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	tags := lo.MapToSlice(q.Tags, func(k, v string) wireAttribute { return wireAttribute{Name: k, Value: v} })
	q.mu.Unlock()
	return listQueueTagsResponse{Tags: tags, ResponseMetadata: metadata()}, nil
}

// indexedPairs collects the legacy query protocol's Name/Value pair lists
// ("Attribute.1.Name", "Attribute.1.Value", ...).
func indexedPairs(r *http.Request, prefix string) map[string]string {
	pairs := map[string]string{}
	for i := 1; ; i++ {
		name := r.FormValue(fmt.Sprintf("%s.%d.Name", prefix, i))
		if name == "" {
			// some SDKs send the singular "Key" form for tags
			name = r.FormValue(fmt.Sprintf("%s.%d.Key", prefix, i))
		}
		if name == "" {
			return pairs
		}
		pairs[name] = r.FormValue(fmt.Sprintf("%s.%d.Value", prefix, i))
	}
}

func parseMessageAttributes(r *http.Request, prefix string) map[string]MessageAttribute {
	attrs := map[string]MessageAttribute{}
	for i := 1; ; i++ {
		name := r.FormValue(fmt.Sprintf("%s.%d.Name", prefix, i))
		if name == "" {
			return attrs
		}
		attrs[name] = MessageAttribute{
			DataType:    r.FormValue(fmt.Sprintf("%s.%d.Value.DataType", prefix, i)),
			StringValue: r.FormValue(fmt.Sprintf("%s.%d.Value.StringValue", prefix, i)),
		}
	}
}

func formInt(r *http.Request, key string, def int) int {
	raw := r.FormValue(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
