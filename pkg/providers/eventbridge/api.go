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

package eventbridge

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/lws-dev/lws/pkg/awserr"
	"github.com/lws-dev/lws/pkg/middleware"
)

func (p *Provider) handle(w http.ResponseWriter, r *http.Request) {
	operation := middleware.TargetOperation(r, nil)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		awserr.Write(w, awserr.FamilyJSON, uuid.NewString(), awserr.ValidationException("unreadable body"))
		return
	}
	result, opErr := p.dispatch(operation, body)
	if opErr != nil {
		awserr.Write(w, awserr.FamilyJSON, uuid.NewString(), opErr)
		return
	}
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	_ = json.NewEncoder(w).Encode(result)
}

func (p *Provider) dispatch(operation string, body []byte) (interface{}, error) {
	switch operation {
	case "PutRule":
		return p.handlePutRule(body)
	case "DeleteRule":
		return p.handleDeleteRule(body)
	case "DescribeRule":
		return p.handleDescribeRule(body)
	case "ListRules":
		return p.handleListRules(body)
	case "EnableRule":
		return p.handleSetRuleState(body, RuleEnabled)
	case "DisableRule":
		return p.handleSetRuleState(body, RuleDisabled)
	case "PutTargets":
		return p.handlePutTargets(body)
	case "RemoveTargets":
		return p.handleRemoveTargets(body)
	case "ListTargetsByRule":
		return p.handleListTargetsByRule(body)
	case "PutEvents":
		return p.handlePutEvents(body)
	default:
		return nil, awserr.NewJSON("UnknownOperationException", "unknown operation "+operation, http.StatusBadRequest)
	}
}

type putRuleInput struct {
	Name               string `json:"Name"`
	EventBusName       string `json:"EventBusName"`
	State              string `json:"State"`
	EventPattern       string `json:"EventPattern"`
	ScheduleExpression string `json:"ScheduleExpression"`
}

func (p *Provider) handlePutRule(body []byte) (interface{}, error) {
	var input putRuleInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable PutRule input: %s", err)
	}
	if input.Name == "" {
		return nil, awserr.ValidationException("Name is required")
	}
	rule := &Rule{
		Name:               input.Name,
		EventBus:           input.EventBusName,
		State:              RuleState(input.State),
		ScheduleExpression: input.ScheduleExpression,
	}
	if input.EventPattern != "" {
		if err := json.Unmarshal([]byte(input.EventPattern), &rule.EventPattern); err != nil {
			return nil, awserr.ValidationException("EventPattern is not valid JSON: %s", err)
		}
	}
	if err := p.PutRule(rule); err != nil {
		return nil, err
	}
	return map[string]string{"RuleArn": rule.ARN}, nil
}

type ruleNameInput struct {
	Name string `json:"Name"`
	Rule string `json:"Rule"`
}

func (i ruleNameInput) name() string {
	return lo.Ternary(i.Name != "", i.Name, i.Rule)
}

func (p *Provider) handleDeleteRule(body []byte) (interface{}, error) {
	var input ruleNameInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable DeleteRule input: %s", err)
	}
	p.mu.Lock()
	delete(p.rules, input.name())
	p.mu.Unlock()
	p.sched.Remove(input.name())
	return map[string]string{}, nil
}

func (p *Provider) handleDescribeRule(body []byte) (interface{}, error) {
	var input ruleNameInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable DescribeRule input: %s", err)
	}
	rule, ok := p.rule(input.name())
	if !ok {
		return nil, awserr.ResourceNotFoundException("Rule %s does not exist.", input.name())
	}
	out := map[string]interface{}{
		"Name":         rule.Name,
		"Arn":          rule.ARN,
		"EventBusName": rule.EventBus,
		"State":        string(rule.State),
	}
	if rule.ScheduleExpression != "" {
		out["ScheduleExpression"] = rule.ScheduleExpression
	}
	if len(rule.EventPattern) > 0 {
		out["EventPattern"] = string(mustJSON(rule.EventPattern))
	}
	return out, nil
}

func (p *Provider) handleListRules(_ []byte) (interface{}, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rules := lo.Map(lo.Values(p.rules), func(r *Rule, _ int) map[string]interface{} {
		return map[string]interface{}{
			"Name":         r.Name,
			"Arn":          r.ARN,
			"EventBusName": r.EventBus,
			"State":        string(r.State),
		}
	})
	return map[string]interface{}{"Rules": rules}, nil
}

func (p *Provider) handleSetRuleState(body []byte, state RuleState) (interface{}, error) {
	var input ruleNameInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable input: %s", err)
	}
	rule, ok := p.rule(input.name())
	if !ok {
		return nil, awserr.ResourceNotFoundException("Rule %s does not exist.", input.name())
	}
	p.mu.Lock()
	rule.State = state
	p.mu.Unlock()
	if rule.ScheduleExpression != "" {
		if state == RuleEnabled {
			if schedule, err := ParseSchedule(rule.ScheduleExpression); err == nil {
				p.sched.Add(rule.Name, schedule)
			}
		} else {
			p.sched.Remove(rule.Name)
		}
	}
	return map[string]string{}, nil
}

type putTargetsInput struct {
	Rule    string   `json:"Rule"`
	Targets []Target `json:"Targets"`
}

func (p *Provider) handlePutTargets(body []byte) (interface{}, error) {
	var input putTargetsInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable PutTargets input: %s", err)
	}
	rule, ok := p.rule(input.Rule)
	if !ok {
		return nil, awserr.ResourceNotFoundException("Rule %s does not exist.", input.Rule)
	}
	p.mu.Lock()
	for _, target := range input.Targets {
		rule.Targets = lo.Reject(rule.Targets, func(t Target, _ int) bool { return t.ID == target.ID })
		rule.Targets = append(rule.Targets, target)
	}
	p.mu.Unlock()
	return map[string]interface{}{"FailedEntryCount": 0}, nil
}

type removeTargetsInput struct {
	Rule string   `json:"Rule"`
	IDs  []string `json:"Ids"`
}

func (p *Provider) handleRemoveTargets(body []byte) (interface{}, error) {
	var input removeTargetsInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable RemoveTargets input: %s", err)
	}
	rule, ok := p.rule(input.Rule)
	if !ok {
		return nil, awserr.ResourceNotFoundException("Rule %s does not exist.", input.Rule)
	}
	p.mu.Lock()
	rule.Targets = lo.Reject(rule.Targets, func(t Target, _ int) bool { return lo.Contains(input.IDs, t.ID) })
	p.mu.Unlock()
	return map[string]interface{}{"FailedEntryCount": 0}, nil
}

func (p *Provider) handleListTargetsByRule(body []byte) (interface{}, error) {
	var input ruleNameInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable ListTargetsByRule input: %s", err)
	}
	rule, ok := p.rule(input.name())
	if !ok {
		return nil, awserr.ResourceNotFoundException("Rule %s does not exist.", input.name())
	}
	p.mu.RLock()
	targets := append([]Target{}, rule.Targets...)
	p.mu.RUnlock()
	return map[string]interface{}{"Targets": targets}, nil
}

type putEventsInput struct {
	Entries []struct {
		Source     string   `json:"Source"`
		DetailType string   `json:"DetailType"`
		Detail     string   `json:"Detail"`
		Resources  []string `json:"Resources"`
	} `json:"Entries"`
}

func (p *Provider) handlePutEvents(body []byte) (interface{}, error) {
	var input putEventsInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable PutEvents input: %s", err)
	}
	entries := lo.Map(input.Entries, func(e struct {
		Source     string   `json:"Source"`
		DetailType string   `json:"DetailType"`
		Detail     string   `json:"Detail"`
		Resources  []string `json:"Resources"`
	}, _ int) map[string]string {
		detail := map[string]interface{}{}
		if e.Detail != "" {
			_ = json.Unmarshal([]byte(e.Detail), &detail)
		}
		id := p.PutEvent(e.Source, e.DetailType, detail, e.Resources)
		return map[string]string{"EventId": id}
	})
	return map[string]interface{}{"FailedEntryCount": 0, "Entries": entries}, nil
}
