package store

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/capitalize-ai/conversation-orchestrator/internal/apperr"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
)

const (
	tenantPKPrefix  = "TENANT#"
	channelPKPrefix = "CHANNEL#"
	tenantSK        = "CONFIG"
)

// SaveTenant persists a tenant configuration to the global registry, keyed
// both by tenant id and by channel phone-number id (the webhook lookup key),
// and mirrors it into the tenant's own partition so webhook processing for
// that tenant sees it without a registry hop.
func (s *Store) SaveTenant(ctx context.Context, cfg *model.TenantConfig) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return apperr.New(apperr.CodeValidation, "tenant_config_encode", err)
	}

	registry := s.registryTable()
	items := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName: aws.String(registry),
				Item:      tenantItem(tenantPKPrefix+cfg.TenantID, string(doc)),
			},
		},
	}
	if cfg.Channel.PhoneNumberID != "" {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(registry),
				Item:      tenantItem(channelPKPrefix+cfg.Channel.PhoneNumberID, string(doc)),
			},
		})
	}

	if _, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return apperr.New(apperr.CodeTransientIO, "tenant_registry_write", err)
	}

	// Partition mirror. Written second; the registry is the source of truth.
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableFor(cfg.Schema)),
		Item:      tenantItem(tenantPKPrefix+cfg.TenantID, string(doc)),
	})
	if err != nil {
		return apperr.New(apperr.CodeTransientIO, "tenant_partition_write", err)
	}
	return nil
}

// DeleteTenant removes a tenant configuration from the registry and the
// tenant partition mirror.
func (s *Store) DeleteTenant(ctx context.Context, tenantID, schema, phoneNumberID string) error {
	registry := s.registryTable()
	items := []types.TransactWriteItem{
		{
			Delete: &types.Delete{
				TableName: aws.String(registry),
				Key: map[string]types.AttributeValue{
					"PK": str(tenantPKPrefix + tenantID),
					"SK": str(tenantSK),
				},
			},
		},
	}
	if phoneNumberID != "" {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(registry),
				Key: map[string]types.AttributeValue{
					"PK": str(channelPKPrefix + phoneNumberID),
					"SK": str(tenantSK),
				},
			},
		})
	}

	if _, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return apperr.New(apperr.CodeTransientIO, "tenant_registry_delete", err)
	}

	if schema != "" {
		_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableFor(schema)),
			Key: map[string]types.AttributeValue{
				"PK": str(tenantPKPrefix + tenantID),
				"SK": str(tenantSK),
			},
		})
		if err != nil {
			return apperr.New(apperr.CodeTransientIO, "tenant_partition_delete", err)
		}
	}
	return nil
}

// GetTenantByChannel resolves a tenant configuration by the channel
// phone-number id carried on webhook deliveries. Returns nil when unknown.
func (s *Store) GetTenantByChannel(ctx context.Context, phoneNumberID string) (*model.TenantConfig, error) {
	return s.getTenant(ctx, channelPKPrefix+phoneNumberID)
}

// GetTenant resolves a tenant configuration by tenant id.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*model.TenantConfig, error) {
	return s.getTenant(ctx, tenantPKPrefix+tenantID)
}

func (s *Store) getTenant(ctx context.Context, pk string) (*model.TenantConfig, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.registryTable()),
		Key: map[string]types.AttributeValue{
			"PK": str(pk),
			"SK": str(tenantSK),
		},
	})
	if err != nil {
		return nil, apperr.New(apperr.CodeTransientIO, "tenant_get", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var cfg model.TenantConfig
	if err := json.Unmarshal([]byte(strAttr(out.Item, "config")), &cfg); err != nil {
		return nil, apperr.New(apperr.CodeUnknown, "tenant_config_decode", err)
	}
	return &cfg, nil
}

func tenantItem(pk, doc string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":     str(pk),
		"SK":     str(tenantSK),
		"config": str(doc),
	}
}
