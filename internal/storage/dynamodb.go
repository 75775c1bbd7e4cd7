// Package storage provides persistence implementations for the sync pipeline.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/peteski22/creatorsync/internal/creator"
)

const (
	// creatorPrefix prefixes the partition key of creator and fan items.
	creatorPrefix = "CREATOR#"

	// fanPrefix prefixes the sort key of fan items.
	fanPrefix = "FAN#"

	// profileSortKey is the sort key of a creator's own item.
	profileSortKey = "PROFILE"

	// transactionPrefix prefixes the partition key of transaction items.
	transactionPrefix = "TX#"

	// transactionSortKey is the sort key of transaction items.
	transactionSortKey = "TX"
)

// DynamoDBAPI defines the DynamoDB operations used by the store.
type DynamoDBAPI interface {
	// GetItem retrieves an item from DynamoDB.
	GetItem(
		ctx context.Context,
		params *dynamodb.GetItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.GetItemOutput, error)

	// PutItem stores an item in DynamoDB.
	PutItem(
		ctx context.Context,
		params *dynamodb.PutItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.PutItemOutput, error)

	// Scan reads every item matching a filter.
	Scan(
		ctx context.Context,
		params *dynamodb.ScanInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.ScanOutput, error)

	// UpdateItem modifies attributes of an existing item.
	UpdateItem(
		ctx context.Context,
		params *dynamodb.UpdateItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.UpdateItemOutput, error)
}

// DynamoDBStore persists creators, fans and transactions in a single DynamoDB table keyed by pk and sk.
//
// Creators live at (CREATOR#id, PROFILE), fans at (CREATOR#id, FAN#externalID) and transactions at
// (TX#externalID, TX). Fans are upserted on their key; transactions use conditional puts.
type DynamoDBStore struct {
	// client is the DynamoDB API client.
	client DynamoDBAPI

	// now returns the current time.
	now func() time.Time

	// tableName is the name of the DynamoDB table.
	tableName string
}

// NewDynamoDBStore creates a new DynamoDB-backed store.
func NewDynamoDBStore(client DynamoDBAPI, tableName string) (*DynamoDBStore, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if tableName == "" {
		return nil, errors.New("table name is required")
	}

	return &DynamoDBStore{
		client:    client,
		now:       time.Now,
		tableName: tableName,
	}, nil
}

// UpsertFans writes each fan's mutable attributes unconditionally, keeping the internal ID of known fans.
func (d *DynamoDBStore) UpsertFans(ctx context.Context, fans []creator.Fan) (int, error) {
	inserted := 0
	for _, f := range fans {
		output, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(d.tableName),
			Key: map[string]types.AttributeValue{
				"pk": stringAttr(creatorPrefix + f.CreatorID),
				"sk": stringAttr(fanPrefix + f.ExternalID),
			},
			UpdateExpression: aws.String("SET id = if_not_exists(id, :id), creator_id = :creator_id, " +
				"external_id = :external_id, username = :username, display_name = :display_name, " +
				"subscribed_at = :subscribed_at, expires_at = :expires_at, is_active = :is_active, " +
				"total_spent = :total_spent"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":id":            stringAttr(f.ID),
				":creator_id":    stringAttr(f.CreatorID),
				":external_id":   stringAttr(f.ExternalID),
				":username":      stringAttr(f.Username),
				":display_name":  stringAttr(f.DisplayName),
				":subscribed_at": stringAttr(formatTime(f.SubscribedAt)),
				":expires_at":    stringAttr(formatTime(f.ExpiresAt)),
				":is_active":     &types.AttributeValueMemberBOOL{Value: f.IsActive},
				":total_spent":   floatAttr(f.TotalSpent),
			},
			ReturnValues: types.ReturnValueAllOld,
		})
		if err != nil {
			return inserted, fmt.Errorf("upserting fan %s: %w", f.ExternalID, err)
		}
		if len(output.Attributes) == 0 {
			inserted++
		}
	}

	return inserted, nil
}

// AppendTransactions stores transactions not already known.
func (d *DynamoDBStore) AppendTransactions(ctx context.Context, transactions []creator.Transaction) (int, error) {
	inserted := 0
	for _, t := range transactions {
		ok, err := d.putIfAbsent(ctx, map[string]types.AttributeValue{
			"pk":          stringAttr(transactionPrefix + t.ExternalID),
			"sk":          stringAttr(transactionSortKey),
			"id":          stringAttr(t.ID),
			"creator_id":  stringAttr(t.CreatorID),
			"fan_id":      stringAttr(t.FanID),
			"external_id": stringAttr(t.ExternalID),
			"type":        stringAttr(string(t.Type)),
			"amount":      floatAttr(t.Amount),
			"currency":    stringAttr(t.Currency),
			"created_at":  stringAttr(formatTime(t.CreatedAt)),
		})
		if err != nil {
			return inserted, fmt.Errorf("putting transaction %s: %w", t.ExternalID, err)
		}
		if ok {
			inserted++
		}
	}

	return inserted, nil
}

// Creator returns the creator with the given ID, or creator.ErrNotFound.
func (d *DynamoDBStore) Creator(ctx context.Context, id string) (*creator.Creator, error) {
	if id == "" {
		return nil, errors.New("creator ID is required")
	}

	output, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       creatorKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("getting item from DynamoDB: %w", err)
	}

	if output.Item == nil {
		return nil, creator.ErrNotFound
	}

	c, err := parseCreator(output.Item)
	if err != nil {
		return nil, fmt.Errorf("parsing creator: %w", err)
	}

	return c, nil
}

// Creators returns every stored creator.
func (d *DynamoDBStore) Creators(ctx context.Context) ([]creator.Creator, error) {
	var (
		creators []creator.Creator
		startKey map[string]types.AttributeValue
	)

	for {
		output, err := d.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(d.tableName),
			ExclusiveStartKey: startKey,
			FilterExpression:  aws.String("sk = :profile"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":profile": stringAttr(profileSortKey),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("scanning DynamoDB: %w", err)
		}

		for _, item := range output.Items {
			c, err := parseCreator(item)
			if err != nil {
				return nil, fmt.Errorf("parsing creator: %w", err)
			}
			creators = append(creators, *c)
		}

		if len(output.LastEvaluatedKey) == 0 {
			return creators, nil
		}
		startKey = output.LastEvaluatedKey
	}
}

// LastSyncTime returns when the creator's last successful sync started, zero if never.
func (d *DynamoDBStore) LastSyncTime(ctx context.Context, creatorID string) (time.Time, error) {
	output, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(d.tableName),
		Key:                  creatorKey(creatorID),
		ProjectionExpression: aws.String("last_synced_at"),
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("getting item from DynamoDB: %w", err)
	}

	v, ok := output.Item["last_synced_at"].(*types.AttributeValueMemberS)
	if !ok {
		return time.Time{}, nil
	}

	return parseTime(v.Value)
}

// SaveCreator inserts a creator or updates its name and handle. Metrics and sync state are kept.
func (d *DynamoDBStore) SaveCreator(ctx context.Context, c creator.Creator) error {
	if c.ID == "" {
		return errors.New("creator ID is required")
	}
	if c.ExternalHandle == "" {
		return errors.New("external handle is required")
	}

	now := stringAttr(formatTime(d.now()))
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key:       creatorKey(c.ID),
		UpdateExpression: aws.String("SET creator_id = :id, #name = :name, external_handle = :handle, " +
			"updated_at = :now, created_at = if_not_exists(created_at, :now)"),
		ExpressionAttributeNames: map[string]string{"#name": "name"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":     stringAttr(c.ID),
			":name":   stringAttr(c.Name),
			":handle": stringAttr(c.ExternalHandle),
			":now":    now,
		},
	})
	if err != nil {
		return fmt.Errorf("updating creator in DynamoDB: %w", err)
	}

	return nil
}

// SetLastSyncTime records the start of the creator's last successful sync.
func (d *DynamoDBStore) SetLastSyncTime(ctx context.Context, creatorID string, t time.Time) error {
	return d.updateExisting(ctx, creatorID, "SET last_synced_at = :t", map[string]types.AttributeValue{
		":t": stringAttr(formatTime(t)),
	})
}

// UpdateCreatorMetrics replaces the creator's derived metrics.
func (d *DynamoDBStore) UpdateCreatorMetrics(ctx context.Context, creatorID string, m creator.Metrics) error {
	return d.updateExisting(ctx, creatorID,
		"SET total_revenue = :revenue, total_fans = :total, active_fans = :active, updated_at = :now",
		map[string]types.AttributeValue{
			":revenue": floatAttr(m.TotalRevenue),
			":total":   intAttr(m.TotalFans),
			":active":  intAttr(m.ActiveFans),
			":now":     stringAttr(formatTime(d.now())),
		})
}

// putIfAbsent writes an item unless one with the same key exists, reporting whether it was written.
func (d *DynamoDBStore) putIfAbsent(ctx context.Context, item map[string]types.AttributeValue) (bool, error) {
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var conditionErr *types.ConditionalCheckFailedException
		if errors.As(err, &conditionErr) {
			return false, nil
		}
		return false, fmt.Errorf("putting item to DynamoDB: %w", err)
	}

	return true, nil
}

// updateExisting applies an update to a creator item, returning creator.ErrNotFound if it does not exist.
func (d *DynamoDBStore) updateExisting(
	ctx context.Context,
	creatorID string,
	expression string,
	values map[string]types.AttributeValue,
) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       creatorKey(creatorID),
		UpdateExpression:          aws.String(expression),
		ConditionExpression:       aws.String("attribute_exists(pk)"),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var conditionErr *types.ConditionalCheckFailedException
		if errors.As(err, &conditionErr) {
			return fmt.Errorf("updating creator %s: %w", creatorID, creator.ErrNotFound)
		}
		return fmt.Errorf("updating item in DynamoDB: %w", err)
	}

	return nil
}

func creatorKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": stringAttr(creatorPrefix + id),
		"sk": stringAttr(profileSortKey),
	}
}

func parseCreator(item map[string]types.AttributeValue) (*creator.Creator, error) {
	c := &creator.Creator{}

	if v, ok := item["creator_id"].(*types.AttributeValueMemberS); ok {
		c.ID = v.Value
	}
	if v, ok := item["name"].(*types.AttributeValueMemberS); ok {
		c.Name = v.Value
	}
	if v, ok := item["external_handle"].(*types.AttributeValueMemberS); ok {
		c.ExternalHandle = v.Value
	}
	if v, ok := item["total_revenue"].(*types.AttributeValueMemberN); ok {
		revenue, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing total_revenue: %w", err)
		}
		c.Metrics.TotalRevenue = revenue
	}
	if v, ok := item["total_fans"].(*types.AttributeValueMemberN); ok {
		total, err := strconv.Atoi(v.Value)
		if err != nil {
			return nil, fmt.Errorf("parsing total_fans: %w", err)
		}
		c.Metrics.TotalFans = total
	}
	if v, ok := item["active_fans"].(*types.AttributeValueMemberN); ok {
		active, err := strconv.Atoi(v.Value)
		if err != nil {
			return nil, fmt.Errorf("parsing active_fans: %w", err)
		}
		c.Metrics.ActiveFans = active
	}

	for attr, dst := range map[string]*time.Time{
		"last_synced_at": &c.LastSyncedAt,
		"created_at":     &c.CreatedAt,
		"updated_at":     &c.UpdatedAt,
	} {
		v, ok := item[attr].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		t, err := parseTime(v.Value)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", attr, err)
		}
		*dst = t
	}

	return c, nil
}

func floatAttr(f float64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(f, 'f', -1, 64)}
}

func intAttr(i int) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(i)}
}

func stringAttr(s string) *types.AttributeValueMemberS {
	return &types.AttributeValueMemberS{Value: s}
}
