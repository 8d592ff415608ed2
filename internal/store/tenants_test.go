package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
)

func testTenant() *model.TenantConfig {
	return &model.TenantConfig{
		TenantID: "t1",
		Schema:   "acme",
		Name:     "Acme Stores",
		Channel:  model.ChannelCredentials{AccessToken: "tok", PhoneNumberID: "555000"},
	}
}

func TestSaveTenantWritesBothRegistryKeys(t *testing.T) {
	var transact *dynamodb.TransactWriteItemsInput
	var put *dynamodb.PutItemInput
	api := &fakeDynamo{
		transactWrite: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			transact = in
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
		putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			put = in
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	s := newTestStore(t, api)

	require.NoError(t, s.SaveTenant(context.Background(), testTenant()))

	require.Len(t, transact.TransactItems, 2)
	pks := []string{
		transact.TransactItems[0].Put.Item["PK"].(*types.AttributeValueMemberS).Value,
		transact.TransactItems[1].Put.Item["PK"].(*types.AttributeValueMemberS).Value,
	}
	require.Contains(t, pks, "TENANT#t1")
	require.Contains(t, pks, "CHANNEL#555000")

	// Partition mirror lands in the tenant table.
	require.Equal(t, "test_acme", *put.TableName)
}

func TestGetTenantByChannel(t *testing.T) {
	doc, err := json.Marshal(testTenant())
	require.NoError(t, err)

	api := &fakeDynamo{
		getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			require.Equal(t, "test_tenants", *in.TableName)
			require.Equal(t, "CHANNEL#555000", in.Key["PK"].(*types.AttributeValueMemberS).Value)
			return &dynamodb.GetItemOutput{Item: tenantItem("CHANNEL#555000", string(doc))}, nil
		},
	}
	s := newTestStore(t, api)

	cfg, err := s.GetTenantByChannel(context.Background(), "555000")
	require.NoError(t, err)
	require.Equal(t, "t1", cfg.TenantID)
	require.Equal(t, "acme", cfg.Schema)
}

func TestGetTenantAbsent(t *testing.T) {
	s := newTestStore(t, &fakeDynamo{})
	cfg, err := s.GetTenant(context.Background(), "ghost")
	require.NoError(t, err)
	require.Nil(t, cfg)
}

func TestDeleteTenantRemovesRegistryAndMirror(t *testing.T) {
	var transact *dynamodb.TransactWriteItemsInput
	var deleted *dynamodb.DeleteItemInput
	api := &fakeDynamo{
		transactWrite: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			transact = in
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
		deleteItem: func(in *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
			deleted = in
			return &dynamodb.DeleteItemOutput{}, nil
		},
	}
	s := newTestStore(t, api)

	require.NoError(t, s.DeleteTenant(context.Background(), "t1", "acme", "555000"))
	require.Len(t, transact.TransactItems, 2)
	require.Equal(t, "test_acme", *deleted.TableName)
}
