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

package sns

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/lws-dev/lws/pkg/awserr"
)

func (p *Provider) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		awserr.Write(w, awserr.FamilyQuery, uuid.NewString(), awserr.NewQuery("InvalidParameterValue", "unparseable form body", http.StatusBadRequest))
		return
	}
	result, err := p.dispatch(r.FormValue("Action"), r)
	if err != nil {
		awserr.Write(w, awserr.FamilyQuery, uuid.NewString(), err)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(result)
}

func (p *Provider) dispatch(action string, r *http.Request) (interface{}, error) {
	switch action {
	case "CreateTopic":
		return p.handleCreateTopic(r)
	case "DeleteTopic":
		return p.handleDeleteTopic(r)
	case "ListTopics":
		return p.handleListTopics(r)
	case "Subscribe":
		return p.handleSubscribe(r)
	case "Unsubscribe":
		return p.handleUnsubscribe(r)
	case "ListSubscriptionsByTopic":
		return p.handleListSubscriptionsByTopic(r)
	case "SetSubscriptionAttributes":
		return p.handleSetSubscriptionAttributes(r)
	case "Publish":
		return p.handlePublish(r)
	case "TagResource":
		return p.handleTagResource(r)
	case "UntagResource":
		return p.handleUntagResource(r)
	case "ListTagsForResource":
		return p.handleListTagsForResource(r)
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

type createTopicResponse struct {
	XMLName          xml.Name         `xml:"CreateTopicResponse"`
	TopicARN         string           `xml:"CreateTopicResult>TopicArn"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleCreateTopic(r *http.Request) (interface{}, error) {
	name := r.FormValue("Name")
	if name == "" {
		return nil, awserr.NewQuery("InvalidParameter", "Name is required", http.StatusBadRequest)
	}
	topic := p.CreateTopic(name)
	return createTopicResponse{TopicARN: topic.ARN, ResponseMetadata: metadata()}, nil
}

type deleteTopicResponse struct {
	XMLName          xml.Name         `xml:"DeleteTopicResponse"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleDeleteTopic(r *http.Request) (interface{}, error) {
	topic, ok := p.topicByARN(r.FormValue("TopicArn"))
	if !ok {
		return nil, awserr.NewQuery("NotFound", "Topic does not exist", http.StatusNotFound)
	}
	p.mu.Lock()
	for _, sub := range topic.Subscriptions {
		if sub.ch != nil {
			close(sub.ch)
			sub.ch = nil
		}
	}
	delete(p.topics, topic.Name)
	p.mu.Unlock()
	return deleteTopicResponse{ResponseMetadata: metadata()}, nil
}

type listTopicsResponse struct {
	XMLName          xml.Name         `xml:"ListTopicsResponse"`
	TopicARNs        []string         `xml:"ListTopicsResult>Topics>member>TopicArn"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleListTopics(_ *http.Request) (interface{}, error) {
	p.mu.RLock()
	arns := lo.Map(lo.Values(p.topics), func(t *Topic, _ int) string { return t.ARN })
	p.mu.RUnlock()
	return listTopicsResponse{TopicARNs: arns, ResponseMetadata: metadata()}, nil
}

type subscribeResponse struct {
	XMLName          xml.Name         `xml:"SubscribeResponse"`
	SubscriptionARN  string           `xml:"SubscribeResult>SubscriptionArn"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleSubscribe(r *http.Request) (interface{}, error) {
	sub, err := p.Subscribe(r.FormValue("TopicArn"), r.FormValue("Protocol"), r.FormValue("Endpoint"))
	if err != nil {
		return nil, err
	}
	// attributes may ride along on Subscribe itself
	for i := 1; ; i++ {
		name := r.FormValue(fmt.Sprintf("Attributes.entry.%d.key", i))
		if name == "" {
			break
		}
		if err := p.setSubscriptionAttribute(sub, name, r.FormValue(fmt.Sprintf("Attributes.entry.%d.value", i))); err != nil {
			return nil, err
		}
	}
	return subscribeResponse{SubscriptionARN: sub.ARN, ResponseMetadata: metadata()}, nil
}

type unsubscribeResponse struct {
	XMLName          xml.Name         `xml:"UnsubscribeResponse"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleUnsubscribe(r *http.Request) (interface{}, error) {
	topic, sub, ok := p.subscriptionByARN(r.FormValue("SubscriptionArn"))
	if !ok {
		return nil, awserr.NewQuery("NotFound", "Subscription does not exist", http.StatusNotFound)
	}
	p.mu.Lock()
	if sub.ch != nil {
		close(sub.ch)
		sub.ch = nil
	}
	topic.Subscriptions = lo.Reject(topic.Subscriptions, func(s *Subscription, _ int) bool { return s.ARN == sub.ARN })
	p.mu.Unlock()
	return unsubscribeResponse{ResponseMetadata: metadata()}, nil
}

type wireSubscription struct {
	SubscriptionARN string `xml:"SubscriptionArn"`
	TopicARN        string `xml:"TopicArn"`
	Protocol        string `xml:"Protocol"`
	Endpoint        string `xml:"Endpoint"`
}

type listSubscriptionsByTopicResponse struct {
	XMLName          xml.Name           `xml:"ListSubscriptionsByTopicResponse"`
	Subscriptions    []wireSubscription `xml:"ListSubscriptionsByTopicResult>Subscriptions>member"`
	ResponseMetadata responseMetadata   `xml:"ResponseMetadata"`
}

func (p *Provider) handleListSubscriptionsByTopic(r *http.Request) (interface{}, error) {
	topic, ok := p.topicByARN(r.FormValue("TopicArn"))
	if !ok {
		return nil, awserr.NewQuery("NotFound", "Topic does not exist", http.StatusNotFound)
	}
	p.mu.RLock()
	subs := lo.Map(topic.Subscriptions, func(s *Subscription, _ int) wireSubscription {
		return wireSubscription{SubscriptionARN: s.ARN, TopicARN: s.TopicARN, Protocol: s.Protocol, Endpoint: s.Endpoint}
	})
	p.mu.RUnlock()
	return listSubscriptionsByTopicResponse{Subscriptions: subs, ResponseMetadata: metadata()}, nil
}

type setSubscriptionAttributesResponse struct {
	XMLName          xml.Name         `xml:"SetSubscriptionAttributesResponse"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleSetSubscriptionAttributes(r *http.Request) (interface{}, error) {
	_, sub, ok := p.subscriptionByARN(r.FormValue("SubscriptionArn"))
	if !ok {
		return nil, awserr.NewQuery("NotFound", "Subscription does not exist", http.StatusNotFound)
	}
	if err := p.setSubscriptionAttribute(sub, r.FormValue("AttributeName"), r.FormValue("AttributeValue")); err != nil {
		return nil, err
	}
	return setSubscriptionAttributesResponse{ResponseMetadata: metadata()}, nil
}

func (p *Provider) setSubscriptionAttribute(sub *Subscription, name, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch name {
	case "RawMessageDelivery":
		sub.RawMessageDelivery = value == "true"
	case "FilterPolicy":
		var policy map[string]interface{}
		if err := json.Unmarshal([]byte(value), &policy); err != nil {
			return awserr.NewQuery("InvalidParameter", fmt.Sprintf("FilterPolicy is not valid JSON: %s", err), http.StatusBadRequest)
		}
		sub.FilterPolicy = policy
	default:
		return awserr.NewQuery("InvalidParameter", fmt.Sprintf("attribute %s is not supported", name), http.StatusBadRequest)
	}
	return nil
}

type publishResponse struct {
	XMLName          xml.Name         `xml:"PublishResponse"`
	MessageID        string           `xml:"PublishResult>MessageId"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handlePublish(r *http.Request) (interface{}, error) {
	attrs := map[string]publishedAttribute{}
	for i := 1; ; i++ {
		prefix := fmt.Sprintf("MessageAttributes.entry.%d", i)
		name := r.FormValue(prefix + ".Name")
		if name == "" {
			break
		}
		attrs[name] = publishedAttribute{
			DataType:    r.FormValue(prefix + ".Value.DataType"),
			StringValue: r.FormValue(prefix + ".Value.StringValue"),
		}
	}
	messageID, err := p.Publish(r.FormValue("TopicArn"), r.FormValue("Message"), r.FormValue("Subject"), attrs)
	if err != nil {
		return nil, err
	}
	return publishResponse{MessageID: messageID, ResponseMetadata: metadata()}, nil
}

type tagResourceResponse struct {
	XMLName          xml.Name         `xml:"TagResourceResponse"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleTagResource(r *http.Request) (interface{}, error) {
	topic, ok := p.topicByARN(r.FormValue("ResourceArn"))
	if !ok {
		return nil, awserr.NewQuery("ResourceNotFound", "Resource does not exist", http.StatusNotFound)
	}
	p.mu.Lock()
	for i := 1; ; i++ {
		key := r.FormValue(fmt.Sprintf("Tags.member.%d.Key", i))
		if key == "" {
			break
		}
		topic.Tags[key] = r.FormValue(fmt.Sprintf("Tags.member.%d.Value", i))
	}
	p.mu.Unlock()
	return tagResourceResponse{ResponseMetadata: metadata()}, nil
}

type untagResourceResponse struct {
	XMLName          xml.Name         `xml:"UntagResourceResponse"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleUntagResource(r *http.Request) (interface{}, error) {
	topic, ok := p.topicByARN(r.FormValue("ResourceArn"))
	if !ok {
		return nil, awserr.NewQuery("ResourceNotFound", "Resource does not exist", http.StatusNotFound)
	}
	p.mu.Lock()
	for i := 1; ; i++ {
		key := r.FormValue(fmt.Sprintf("TagKeys.member.%d", i))
		if key == "" {
			break
		}
		delete(topic.Tags, key)
	}
	p.mu.Unlock()
	return untagResourceResponse{ResponseMetadata: metadata()}, nil
}

type wireTag struct {
	Key   string `xml:"Key"`
	Value string `xml:"Value"`
}

type listTagsForResourceResponse struct {
	XMLName          xml.Name         `xml:"ListTagsForResourceResponse"`
	Tags             []wireTag        `xml:"ListTagsForResourceResult>Tags>member"`
	ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *Provider) handleListTagsForResource(r *http.Request) (interface{}, error) {
	topic, ok := p.topicByARN(r.FormValue("ResourceArn"))
	if !ok {
		return nil, awserr.NewQuery("ResourceNotFound", "Resource does not exist", http.StatusNotFound)
	}
	p.mu.RLock()
	tags := lo.MapToSlice(topic.Tags, func(k, v string) wireTag { return wireTag{Key: k, Value: v} })
	p.mu.RUnlock()
	return listTagsForResourceResponse{Tags: tags, ResponseMetadata: metadata()}, nil
}
