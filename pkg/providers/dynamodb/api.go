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

package dynamodb

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/lws-dev/lws/pkg/awserr"
	"github.com/lws-dev/lws/pkg/middleware"
	"github.com/lws-dev/lws/pkg/providers/dynamodb/attr"
	"github.com/lws-dev/lws/pkg/providers/dynamodb/expression"
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
	case "CreateTable":
		return p.handleCreateTable(body)
	case "DeleteTable":
		return p.handleDeleteTable(body)
	case "DescribeTable":
		return p.handleDescribeTable(body)
	case "ListTables":
		return p.handleListTables(body)
	case "PutItem":
		return p.handlePutItem(body)
	case "GetItem":
		return p.handleGetItem(body)
	case "DeleteItem":
		return p.handleDeleteItem(body)
	case "UpdateItem":
		return p.handleUpdateItem(body)
	case "Query":
		return p.handleQuery(body)
	case "Scan":
		return p.handleScan(body)
	case "BatchGetItem":
		return p.handleBatchGetItem(body)
	case "BatchWriteItem":
		return p.handleBatchWriteItem(body)
	case "TransactGetItems":
		return p.handleTransactGetItems(body)
	case "TransactWriteItems":
		return p.handleTransactWriteItems(body)
	default:
		return nil, awserr.NewJSON("UnknownOperationException", "unknown operation "+operation, http.StatusBadRequest)
	}
}

// expressionInput is the shared request surface for expression-bearing
// operations.
type expressionInput struct {
	ConditionExpression       string                `json:"ConditionExpression"`
	ExpressionAttributeNames  map[string]string     `json:"ExpressionAttributeNames"`
	ExpressionAttributeValues map[string]attr.Value `json:"ExpressionAttributeValues"`
}

func (in expressionInput) bindings() expression.Bindings {
	return expression.Bindings{Names: in.ExpressionAttributeNames, Values: in.ExpressionAttributeValues}
}

type keySchemaElement struct {
	AttributeName string `json:"AttributeName"`
	KeyType       string `json:"KeyType"` // HASH or RANGE
}

type attributeDefinition struct {
	AttributeName string `json:"AttributeName"`
	AttributeType string `json:"AttributeType"` // S, N or B
}

type createTableInput struct {
	TableName              string                `json:"TableName"`
	KeySchema              []keySchemaElement    `json:"KeySchema"`
	AttributeDefinitions   []attributeDefinition `json:"AttributeDefinitions"`
	GlobalSecondaryIndexes []struct {
		IndexName  string             `json:"IndexName"`
		KeySchema  []keySchemaElement `json:"KeySchema"`
		Projection *struct {
			ProjectionType   string   `json:"ProjectionType"`
			NonKeyAttributes []string `json:"NonKeyAttributes"`
		} `json:"Projection"`
	} `json:"GlobalSecondaryIndexes"`
	StreamSpecification *struct {
		StreamEnabled  bool   `json:"StreamEnabled"`
		StreamViewType string `json:"StreamViewType"`
	} `json:"StreamSpecification"`
}

// resolveKeySchema pairs the key schema with attribute definitions to get
// typed key elements.
func resolveKeySchema(schema []keySchemaElement, defs []attributeDefinition) (KeyElement, *KeyElement, error) {
	typeOf := func(name string) (string, error) {
		for _, d := range defs {
			if d.AttributeName == name {
				return d.AttributeType, nil
			}
		}
		return "", awserr.ValidationException("key attribute %s has no attribute definition", name)
	}
	var hash KeyElement
	var rng *KeyElement
	for _, e := range schema {
		attrType, err := typeOf(e.AttributeName)
		if err != nil {
			return KeyElement{}, nil, err
		}
		switch e.KeyType {
		case "HASH":
			hash = KeyElement{Name: e.AttributeName, Type: attrType}
		case "RANGE":
			rng = &KeyElement{Name: e.AttributeName, Type: attrType}
		default:
			return KeyElement{}, nil, awserr.ValidationException("unknown key type %s", e.KeyType)
		}
	}
	if hash.Name == "" {
		return KeyElement{}, nil, awserr.ValidationException("key schema must declare a HASH key")
	}
	return hash, rng, nil
}

func (p *Provider) handleCreateTable(body []byte) (interface{}, error) {
	var input createTableInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable CreateTable input: %s", err)
	}
	if input.TableName == "" {
		return nil, awserr.ValidationException("TableName is required")
	}
	hash, rng, err := resolveKeySchema(input.KeySchema, input.AttributeDefinitions)
	if err != nil {
		return nil, err
	}
	indexes := make([]IndexSpec, 0, len(input.GlobalSecondaryIndexes))
	for _, gsi := range input.GlobalSecondaryIndexes {
		ihash, irng, err := resolveKeySchema(gsi.KeySchema, input.AttributeDefinitions)
		if err != nil {
			return nil, err
		}
		spec := IndexSpec{Name: gsi.IndexName, HashKey: ihash, RangeKey: irng}
		if gsi.Projection != nil {
			switch gsi.Projection.ProjectionType {
			case "", "ALL", "KEYS_ONLY", "INCLUDE":
			default:
				return nil, awserr.ValidationException("unknown projection type %s on index %s", gsi.Projection.ProjectionType, gsi.IndexName)
			}
			spec.Projection = Projection{
				Type:             gsi.Projection.ProjectionType,
				NonKeyAttributes: gsi.Projection.NonKeyAttributes,
			}
		}
		indexes = append(indexes, spec)
	}
	streamSpec := StreamSpec{}
	if input.StreamSpecification != nil && input.StreamSpecification.StreamEnabled {
		streamSpec = StreamSpec{Enabled: true, ViewType: input.StreamSpecification.StreamViewType}
	}
	t, err := p.CreateTable(input.TableName, hash, rng, indexes, streamSpec)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"TableDescription": p.describeTable(t)}, nil
}

func (p *Provider) describeTable(t *table) map[string]interface{} {
	desc := map[string]interface{}{
		"TableName":   t.name,
		"TableArn":    tableARN(t.name),
		"TableStatus": "ACTIVE",
		"ItemCount":   t.count(),
	}
	schema := []keySchemaElement{{AttributeName: t.hashKey.Name, KeyType: "HASH"}}
	if t.rangeKey != nil {
		schema = append(schema, keySchemaElement{AttributeName: t.rangeKey.Name, KeyType: "RANGE"})
	}
	desc["KeySchema"] = schema
	if t.stream.Enabled {
		desc["LatestStreamArn"] = tableARN(t.name) + "/stream"
		desc["StreamSpecification"] = map[string]interface{}{
			"StreamEnabled":  true,
			"StreamViewType": t.stream.ViewType,
		}
	}
	return desc
}

type tableNameInput struct {
	TableName string `json:"TableName"`
}

func (p *Provider) handleDeleteTable(body []byte) (interface{}, error) {
	var input tableNameInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable DeleteTable input: %s", err)
	}
	t, err := p.table(input.TableName)
	if err != nil {
		return nil, err
	}
	desc := p.describeTable(t)
	if err := p.DeleteTable(input.TableName); err != nil {
		return nil, err
	}
	desc["TableStatus"] = "DELETING"
	return map[string]interface{}{"TableDescription": desc}, nil
}

func (p *Provider) handleDescribeTable(body []byte) (interface{}, error) {
	var input tableNameInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable DescribeTable input: %s", err)
	}
	t, err := p.table(input.TableName)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"Table": p.describeTable(t)}, nil
}

func (p *Provider) handleListTables(_ []byte) (interface{}, error) {
	p.mu.RLock()
	names := lo.Keys(p.tables)
	p.mu.RUnlock()
	sort.Strings(names)
	return map[string]interface{}{"TableNames": names}, nil
}

type putItemInput struct {
	expressionInput
	TableName    string    `json:"TableName"`
	Item         attr.Item `json:"Item"`
	ReturnValues string    `json:"ReturnValues"`
}

func (p *Provider) handlePutItem(body []byte) (interface{}, error) {
	var input putItemInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable PutItem input: %s", err)
	}
	t, err := p.table(input.TableName)
	if err != nil {
		return nil, err
	}
	c, err := t.Put(input.Item, input.ConditionExpression, input.bindings())
	if err != nil {
		return nil, err
	}
	p.emit(t.name, c)
	out := map[string]interface{}{}
	if input.ReturnValues == "ALL_OLD" && c != nil && c.old != nil {
		out["Attributes"] = c.old
	}
	return out, nil
}

type keyInput struct {
	expressionInput
	TableName    string    `json:"TableName"`
	Key          attr.Item `json:"Key"`
	ReturnValues string    `json:"ReturnValues"`
}

func (p *Provider) handleGetItem(body []byte) (interface{}, error) {
	var input keyInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable GetItem input: %s", err)
	}
	t, err := p.table(input.TableName)
	if err != nil {
		return nil, err
	}
	item, err := t.Get(input.Key)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if item != nil {
		out["Item"] = item
	}
	return out, nil
}

func (p *Provider) handleDeleteItem(body []byte) (interface{}, error) {
	var input keyInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable DeleteItem input: %s", err)
	}
	t, err := p.table(input.TableName)
	if err != nil {
		return nil, err
	}
	c, err := t.Delete(input.Key, input.ConditionExpression, input.bindings())
	if err != nil {
		return nil, err
	}
	p.emit(t.name, c)
	out := map[string]interface{}{}
	if input.ReturnValues == "ALL_OLD" && c != nil && c.old != nil {
		out["Attributes"] = c.old
	}
	return out, nil
}

type updateItemInput struct {
	expressionInput
	TableName        string    `json:"TableName"`
	Key              attr.Item `json:"Key"`
	UpdateExpression string    `json:"UpdateExpression"`
	ReturnValues     string    `json:"ReturnValues"`
}

func (p *Provider) handleUpdateItem(body []byte) (interface{}, error) {
	var input updateItemInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable UpdateItem input: %s", err)
	}
	t, err := p.table(input.TableName)
	if err != nil {
		return nil, err
	}
	update, err := expression.ParseUpdate(input.UpdateExpression)
	if err != nil {
		return nil, awserr.ValidationException("invalid update expression: %s", err)
	}
	c, newImage, err := t.Update(input.Key, update, input.ConditionExpression, input.bindings())
	if err != nil {
		return nil, err
	}
	p.emit(t.name, c)
	out := map[string]interface{}{}
	switch input.ReturnValues {
	case "ALL_NEW":
		out["Attributes"] = newImage
	case "ALL_OLD":
		if c.old != nil {
			out["Attributes"] = c.old
		}
	case "UPDATED_OLD":
		if attrs := projectUpdated(c.old, update, input.bindings()); len(attrs) > 0 {
			out["Attributes"] = attrs
		}
	case "UPDATED_NEW":
		if attrs := projectUpdated(newImage, update, input.bindings()); len(attrs) > 0 {
			out["Attributes"] = attrs
		}
	}
	return out, nil
}

// projectUpdated narrows an image to the top-level attributes the update
// expression touched.
func projectUpdated(image attr.Item, update *expression.Update, b expression.Bindings) attr.Item {
	if image == nil {
		return nil
	}
	names, err := update.TouchedAttributes(b)
	if err != nil {
		return nil
	}
	projected := attr.Item{}
	for _, name := range names {
		if value, ok := image[name]; ok {
			projected[name] = value
		}
	}
	return projected
}

type queryInput struct {
	expressionInput
	TableName              string    `json:"TableName"`
	IndexName              string    `json:"IndexName"`
	KeyConditionExpression string    `json:"KeyConditionExpression"`
	FilterExpression       string    `json:"FilterExpression"`
	ScanIndexForward       *bool     `json:"ScanIndexForward"`
	Limit                  int       `json:"Limit"`
	ExclusiveStartKey      attr.Item `json:"ExclusiveStartKey"`
	Segment                int       `json:"Segment"`
	TotalSegments          int       `json:"TotalSegments"`
}

func (in queryInput) pageInput() pageInput {
	return pageInput{
		indexName:         in.IndexName,
		filterExpr:        in.FilterExpression,
		limit:             in.Limit,
		forward:           in.ScanIndexForward == nil || *in.ScanIndexForward,
		exclusiveStartKey: in.ExclusiveStartKey,
		segment:           in.Segment,
		totalSegments:     in.TotalSegments,
	}
}

func pageResponse(out *pageOutput) map[string]interface{} {
	resp := map[string]interface{}{
		"Items":        out.items,
		"Count":        len(out.items),
		"ScannedCount": out.scannedCount,
	}
	if out.items == nil {
		resp["Items"] = []attr.Item{}
	}
	if out.lastEvaluatedKey != nil {
		resp["LastEvaluatedKey"] = out.lastEvaluatedKey
	}
	return resp
}

func (p *Provider) handleQuery(body []byte) (interface{}, error) {
	var input queryInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable Query input: %s", err)
	}
	t, err := p.table(input.TableName)
	if err != nil {
		return nil, err
	}
	out, err := t.query(input.KeyConditionExpression, input.pageInput(), input.bindings())
	if err != nil {
		return nil, err
	}
	return pageResponse(out), nil
}

func (p *Provider) handleScan(body []byte) (interface{}, error) {
	var input queryInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable Scan input: %s", err)
	}
	t, err := p.table(input.TableName)
	if err != nil {
		return nil, err
	}
	if input.TotalSegments > 0 && input.Segment >= input.TotalSegments {
		return nil, awserr.ValidationException("Segment must be less than TotalSegments")
	}
	out, err := t.scan(input.pageInput(), input.bindings())
	if err != nil {
		return nil, err
	}
	return pageResponse(out), nil
}

type batchGetInput struct {
	RequestItems map[string]struct {
		Keys []attr.Item `json:"Keys"`
	} `json:"RequestItems"`
}

func (p *Provider) handleBatchGetItem(body []byte) (interface{}, error) {
	var input batchGetInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable BatchGetItem input: %s", err)
	}
	responses := map[string][]attr.Item{}
	for tableName, req := range input.RequestItems {
		t, err := p.table(tableName)
		if err != nil {
			return nil, err
		}
		items := []attr.Item{}
		for _, key := range req.Keys {
			item, err := t.Get(key)
			if err != nil {
				return nil, err
			}
			if item != nil {
				items = append(items, item)
			}
		}
		responses[tableName] = items
	}
	return map[string]interface{}{
		"Responses":       responses,
		"UnprocessedKeys": map[string]interface{}{},
	}, nil
}

type batchWriteInput struct {
	RequestItems map[string][]struct {
		PutRequest *struct {
			Item attr.Item `json:"Item"`
		} `json:"PutRequest"`
		DeleteRequest *struct {
			Key attr.Item `json:"Key"`
		} `json:"DeleteRequest"`
	} `json:"RequestItems"`
}

func (p *Provider) handleBatchWriteItem(body []byte) (interface{}, error) {
	var input batchWriteInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable BatchWriteItem input: %s", err)
	}
	for tableName, requests := range input.RequestItems {
		t, err := p.table(tableName)
		if err != nil {
			return nil, err
		}
		for _, req := range requests {
			switch {
			case req.PutRequest != nil:
				c, err := t.Put(req.PutRequest.Item, "", expression.Bindings{})
				if err != nil {
					return nil, err
				}
				p.emit(t.name, c)
			case req.DeleteRequest != nil:
				c, err := t.Delete(req.DeleteRequest.Key, "", expression.Bindings{})
				if err != nil {
					return nil, err
				}
				p.emit(t.name, c)
			default:
				return nil, awserr.ValidationException("batch write entry must carry PutRequest or DeleteRequest")
			}
		}
	}
	return map[string]interface{}{"UnprocessedItems": map[string]interface{}{}}, nil
}

type transactGetInput struct {
	TransactItems []struct {
		Get struct {
			TableName string    `json:"TableName"`
			Key       attr.Item `json:"Key"`
		} `json:"Get"`
	} `json:"TransactItems"`
}

func (p *Provider) handleTransactGetItems(body []byte) (interface{}, error) {
	var input transactGetInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable TransactGetItems input: %s", err)
	}
	responses := make([]map[string]interface{}, 0, len(input.TransactItems))
	for _, entry := range input.TransactItems {
		t, err := p.table(entry.Get.TableName)
		if err != nil {
			return nil, err
		}
		item, err := t.Get(entry.Get.Key)
		if err != nil {
			return nil, err
		}
		resp := map[string]interface{}{}
		if item != nil {
			resp["Item"] = item
		}
		responses = append(responses, resp)
	}
	return map[string]interface{}{"Responses": responses}, nil
}

type transactWriteItem struct {
	Put *struct {
		expressionInput
		TableName string    `json:"TableName"`
		Item      attr.Item `json:"Item"`
	} `json:"Put"`
	Update *struct {
		expressionInput
		TableName        string    `json:"TableName"`
		Key              attr.Item `json:"Key"`
		UpdateExpression string    `json:"UpdateExpression"`
	} `json:"Update"`
	Delete *struct {
		expressionInput
		TableName string    `json:"TableName"`
		Key       attr.Item `json:"Key"`
	} `json:"Delete"`
	ConditionCheck *struct {
		expressionInput
		TableName string    `json:"TableName"`
		Key       attr.Item `json:"Key"`
	} `json:"ConditionCheck"`
}

type transactWriteInput struct {
	TransactItems []transactWriteItem `json:"TransactItems"`
}

// handleTransactWriteItems checks every entry's condition against the
// current state, then applies all writes. A failed condition cancels the
// whole transaction with per-entry reasons and no partial effects.
func (p *Provider) handleTransactWriteItems(body []byte) (interface{}, error) {
	var input transactWriteInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, awserr.ValidationException("unparseable TransactWriteItems input: %s", err)
	}
	reasons, failed, err := p.checkTransactConditions(input.TransactItems)
	if err != nil {
		return nil, err
	}
	if failed {
		return nil, awserr.NewJSON("TransactionCanceledException",
			"Transaction cancelled, please refer cancellation reasons for specific reasons ["+reasons+"]",
			http.StatusBadRequest)
	}
	for _, entry := range input.TransactItems {
		switch {
		case entry.Put != nil:
			t, err := p.table(entry.Put.TableName)
			if err != nil {
				return nil, err
			}
			c, err := t.Put(entry.Put.Item, "", expression.Bindings{})
			if err != nil {
				return nil, err
			}
			p.emit(t.name, c)
		case entry.Update != nil:
			t, err := p.table(entry.Update.TableName)
			if err != nil {
				return nil, err
			}
			update, err := expression.ParseUpdate(entry.Update.UpdateExpression)
			if err != nil {
				return nil, awserr.ValidationException("invalid update expression: %s", err)
			}
			c, _, err := t.Update(entry.Update.Key, update, "", entry.Update.bindings())
			if err != nil {
				return nil, err
			}
			p.emit(t.name, c)
		case entry.Delete != nil:
			t, err := p.table(entry.Delete.TableName)
			if err != nil {
				return nil, err
			}
			c, err := t.Delete(entry.Delete.Key, "", expression.Bindings{})
			if err != nil {
				return nil, err
			}
			p.emit(t.name, c)
		case entry.ConditionCheck != nil:
			// already verified in the pre-pass
		default:
			return nil, awserr.ValidationException("transact entry must carry Put, Update, Delete or ConditionCheck")
		}
	}
	return map[string]interface{}{}, nil
}

// checkTransactConditions runs the validation pre-pass; it returns the
// joined per-entry reasons and whether any condition failed.
func (p *Provider) checkTransactConditions(items []transactWriteItem) (string, bool, error) {
	reasons := ""
	failed := false
	appendReason := func(reason string) {
		if reasons != "" {
			reasons += ", "
		}
		reasons += reason
	}
	check := func(tableName string, subject attr.Item, conditionExpr string, b expression.Bindings) error {
		t, err := p.table(tableName)
		if err != nil {
			return err
		}
		if conditionExpr == "" {
			appendReason("None")
			return nil
		}
		current, err := t.Get(subject)
		if err != nil {
			return err
		}
		if err := t.checkCondition(conditionExpr, current, b); err != nil {
			var jsonErr *awserr.JSONError
			if errors.As(err, &jsonErr) && jsonErr.Type == "ConditionalCheckFailedException" {
				appendReason("ConditionalCheckFailed")
				failed = true
				return nil
			}
			return err
		}
		appendReason("None")
		return nil
	}
	for _, entry := range items {
		var err error
		switch {
		case entry.Put != nil:
			err = check(entry.Put.TableName, entry.Put.Item, entry.Put.ConditionExpression, entry.Put.bindings())
		case entry.Update != nil:
			err = check(entry.Update.TableName, entry.Update.Key, entry.Update.ConditionExpression, entry.Update.bindings())
		case entry.Delete != nil:
			err = check(entry.Delete.TableName, entry.Delete.Key, entry.Delete.ConditionExpression, entry.Delete.bindings())
		case entry.ConditionCheck != nil:
			err = check(entry.ConditionCheck.TableName, entry.ConditionCheck.Key, entry.ConditionCheck.ConditionExpression, entry.ConditionCheck.bindings())
		}
		if err != nil {
			return "", false, err
		}
	}
	return reasons, failed, nil
}
