// Package store provides DynamoDB persistence for conversations, messages
// and tenant configuration. Every operation carries a tenant schema and
// touches only that tenant's table; all mutations are single atomic
// conditional writes, never read-modify-write.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamoAPI is the minimal DynamoDB surface the store needs. Defined here
// for testability.
type dynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store wraps DynamoDB access for all tenant partitions.
type Store struct {
	api         dynamoAPI
	tablePrefix string
}

// New creates a Store. tablePrefix is prepended to every tenant schema to
// form the physical table name.
func New(api dynamoAPI, tablePrefix string) (*Store, error) {
	if api == nil {
		return nil, errors.New("store: api must not be nil")
	}
	if strings.TrimSpace(tablePrefix) == "" {
		return nil, errors.New("store: table prefix must not be empty")
	}
	return &Store{api: api, tablePrefix: tablePrefix}, nil
}

// tableFor returns the physical table name for a tenant schema.
func (s *Store) tableFor(schema string) string {
	return s.tablePrefix + schema
}

// registryTable is the global tenant registry, outside any tenant partition.
func (s *Store) registryTable() string {
	return s.tablePrefix + "tenants"
}

// upsert performs one atomic insert-or-merge. Fields in insertOnly are
// applied through if_not_exists and never re-applied on the update path;
// fields in refresh are set unconditionally. Returns the item after the
// write.
func (s *Store) upsert(ctx context.Context, table string, key map[string]types.AttributeValue, insertOnly, refresh map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	var clauses []string

	add := func(field string, value types.AttributeValue, seedOnly bool, i int) {
		nameRef := fmt.Sprintf("#f%d", i)
		valueRef := fmt.Sprintf(":v%d", i)
		names[nameRef] = field
		values[valueRef] = value
		if seedOnly {
			clauses = append(clauses, fmt.Sprintf("%s = if_not_exists(%s, %s)", nameRef, nameRef, valueRef))
		} else {
			clauses = append(clauses, fmt.Sprintf("%s = %s", nameRef, valueRef))
		}
	}

	i := 0
	for _, field := range sortedKeys(insertOnly) {
		add(field, insertOnly[field], true, i)
		i++
	}
	for _, field := range sortedKeys(refresh) {
		add(field, refresh[field], false, i)
		i++
	}

	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       key,
		UpdateExpression:          aws.String("SET " + strings.Join(clauses, ", ")),
		ExpressionAttributeNames:  expressionNames(names),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("store: upsert: %w", err)
	}
	return out.Attributes, nil
}

func expressionNames(names map[string]string) map[string]string {
	if len(names) == 0 {
		return nil
	}
	return names
}

func sortedKeys(m map[string]types.AttributeValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// isConditionalCheckFailed reports whether err is a conditional write
// rejection, including one inside a cancelled transaction.
func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

// Attribute constructors and readers, shared by the item codecs.

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func num(v int) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(v)}
}

func boolean(v bool) types.AttributeValue {
	return &types.AttributeValueMemberBOOL{Value: v}
}

func timestamp(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: t.UTC().Format(time.RFC3339Nano)}
}

func strAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func intAttr(item map[string]types.AttributeValue, key string) int {
	if v, ok := item[key].(*types.AttributeValueMemberN); ok {
		if n, err := strconv.Atoi(v.Value); err == nil {
			return n
		}
	}
	return 0
}

func boolAttr(item map[string]types.AttributeValue, key string) bool {
	if v, ok := item[key].(*types.AttributeValueMemberBOOL); ok {
		return v.Value
	}
	return false
}

func timeAttr(item map[string]types.AttributeValue, key string) time.Time {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339Nano, v.Value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func timePtrAttr(item map[string]types.AttributeValue, key string) *time.Time {
	t := timeAttr(item, key)
	if t.IsZero() {
		return nil
	}
	return &t
}
