package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/peteski22/creatorsync/internal/creator"
)

type mockDynamoDBClient struct {
	getItemFunc    func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	putItemFunc    func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	scanFunc       func(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	updateItemFunc func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

func (m *mockDynamoDBClient) GetItem(
	ctx context.Context,
	params *dynamodb.GetItemInput,
	optFns ...func(*dynamodb.Options),
) (*dynamodb.GetItemOutput, error) {
	if m.getItemFunc != nil {
		return m.getItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamoDBClient) PutItem(
	ctx context.Context,
	params *dynamodb.PutItemInput,
	optFns ...func(*dynamodb.Options),
) (*dynamodb.PutItemOutput, error) {
	if m.putItemFunc != nil {
		return m.putItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDBClient) Scan(
	ctx context.Context,
	params *dynamodb.ScanInput,
	optFns ...func(*dynamodb.Options),
) (*dynamodb.ScanOutput, error) {
	if m.scanFunc != nil {
		return m.scanFunc(ctx, params, optFns...)
	}
	return &dynamodb.ScanOutput{}, nil
}

func (m *mockDynamoDBClient) UpdateItem(
	ctx context.Context,
	params *dynamodb.UpdateItemInput,
	optFns ...func(*dynamodb.Options),
) (*dynamodb.UpdateItemOutput, error) {
	if m.updateItemFunc != nil {
		return m.updateItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func attrString(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// conditionalPutClient accepts each key once and rejects repeats like a conditional PutItem would.
func conditionalPutClient(keys map[string]bool) *mockDynamoDBClient {
	return &mockDynamoDBClient{
		putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			if aws.ToString(params.ConditionExpression) != "attribute_not_exists(pk)" {
				return nil, errors.New("missing condition")
			}
			key := attrString(params.Item, "pk") + "|" + attrString(params.Item, "sk")
			if keys[key] {
				return nil, &types.ConditionalCheckFailedException{}
			}
			keys[key] = true
			return &dynamodb.PutItemOutput{}, nil
		},
	}
}

func TestNewDynamoDBStore(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		client    DynamoDBAPI
		errMsg    string
		tableName string
		wantErr   bool
	}{
		"valid inputs": {
			client:    &mockDynamoDBClient{},
			tableName: "creatorsync",
		},
		"nil client": {
			client:    nil,
			tableName: "creatorsync",
			wantErr:   true,
			errMsg:    "dynamodb client is required",
		},
		"empty table name": {
			client:    &mockDynamoDBClient{},
			tableName: "",
			wantErr:   true,
			errMsg:    "table name is required",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewDynamoDBStore(tc.client, tc.tableName)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, store)
			} else {
				require.NoError(t, err)
				require.NotNil(t, store)
			}
		})
	}
}

// upsertClient applies fan updates to items, returning the old attributes like ReturnValues ALL_OLD.
func upsertClient(items map[string]map[string]types.AttributeValue) *mockDynamoDBClient {
	return &mockDynamoDBClient{
		updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			if params.ReturnValues != types.ReturnValueAllOld {
				return nil, errors.New("missing return values")
			}
			key := attrString(params.Key, "pk") + "|" + attrString(params.Key, "sk")
			old := items[key]

			item := map[string]types.AttributeValue{}
			for name, value := range old {
				item[name] = value
			}
			for name, value := range params.ExpressionAttributeValues {
				attr := name[1:]
				if _, ok := old[attr]; ok && attr == "id" {
					continue
				}
				item[attr] = value
			}
			items[key] = item

			return &dynamodb.UpdateItemOutput{Attributes: old}, nil
		},
	}
}

func TestDynamoDBStore_UpsertFans(t *testing.T) {
	t.Parallel()

	items := map[string]map[string]types.AttributeValue{}
	store, err := NewDynamoDBStore(upsertClient(items), "creatorsync")
	require.NoError(t, err)
	ctx := context.Background()

	n, err := store.UpsertFans(ctx, []creator.Fan{testFan("creator-1", "fan_a"), testFan("creator-1", "fan_b")})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	originalID := attrString(items["CREATOR#creator-1|FAN#fan_a"], "id")

	lapsed := testFan("creator-1", "fan_a")
	lapsed.ID = "another-id"
	lapsed.IsActive = false
	lapsed.TotalSpent = 55
	n, err = store.UpsertFans(ctx, []creator.Fan{lapsed, testFan("creator-2", "fan_a")})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	updated := items["CREATOR#creator-1|FAN#fan_a"]
	require.Equal(t, originalID, attrString(updated, "id"))
	require.Equal(t, &types.AttributeValueMemberBOOL{Value: false}, updated["is_active"])
	require.Equal(t, &types.AttributeValueMemberN{Value: "55"}, updated["total_spent"])
	require.Contains(t, items, "CREATOR#creator-2|FAN#fan_a")
}

func TestDynamoDBStore_AppendTransactions(t *testing.T) {
	t.Parallel()

	keys := map[string]bool{}
	store, err := NewDynamoDBStore(conditionalPutClient(keys), "creatorsync")
	require.NoError(t, err)
	ctx := context.Background()

	n, err := store.AppendTransactions(ctx, []creator.Transaction{
		testTransaction("creator-1", "tx_1", "fan_a", testTime),
		testTransaction("creator-1", "tx_1", "fan_a", testTime),
		testTransaction("creator-1", "tx_2", "fan_a", testTime),
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.True(t, keys["TX#tx_1|TX"])
}

func TestDynamoDBStore_AppendFailure(t *testing.T) {
	t.Parallel()

	store, err := NewDynamoDBStore(&mockDynamoDBClient{
		putItemFunc: func(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			return nil, errors.New("throttled")
		},
		updateItemFunc: func(_ context.Context, _ *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			return nil, errors.New("throttled")
		},
	}, "creatorsync")
	require.NoError(t, err)
	ctx := context.Background()

	n, err := store.UpsertFans(ctx, []creator.Fan{testFan("creator-1", "fan_a")})
	require.ErrorContains(t, err, "upserting fan fan_a")
	require.Zero(t, n)

	n, err = store.AppendTransactions(ctx, []creator.Transaction{testTransaction("creator-1", "tx_1", "fan_a", testTime)})
	require.ErrorContains(t, err, "putting transaction tx_1")
	require.Zero(t, n)
}

func TestDynamoDBStore_Creator(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		client  *mockDynamoDBClient
		errIs   error
		errMsg  string
		want    *creator.Creator
		wantErr bool
	}{
		"found": {
			client: &mockDynamoDBClient{
				getItemFunc: func(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
					if attrString(params.Key, "pk") != "CREATOR#creator-1" || attrString(params.Key, "sk") != "PROFILE" {
						return &dynamodb.GetItemOutput{}, nil
					}
					return &dynamodb.GetItemOutput{
						Item: map[string]types.AttributeValue{
							"creator_id":      &types.AttributeValueMemberS{Value: "creator-1"},
							"name":            &types.AttributeValueMemberS{Value: "Alice"},
							"external_handle": &types.AttributeValueMemberS{Value: "alice"},
							"total_revenue":   &types.AttributeValueMemberN{Value: "250.5"},
							"total_fans":      &types.AttributeValueMemberN{Value: "3"},
							"active_fans":     &types.AttributeValueMemberN{Value: "2"},
							"last_synced_at":  &types.AttributeValueMemberS{Value: "2024-05-01T12:00:00Z"},
						},
					}, nil
				},
			},
			want: &creator.Creator{
				ExternalHandle: "alice",
				ID:             "creator-1",
				LastSyncedAt:   testTime,
				Metrics:        creator.Metrics{ActiveFans: 2, TotalFans: 3, TotalRevenue: 250.5},
				Name:           "Alice",
			},
		},
		"not found": {
			client:  &mockDynamoDBClient{},
			wantErr: true,
			errIs:   creator.ErrNotFound,
		},
		"API failure": {
			client: &mockDynamoDBClient{
				getItemFunc: func(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
					return nil, errors.New("API error")
				},
			},
			wantErr: true,
			errMsg:  "getting item from DynamoDB",
		},
		"malformed number": {
			client: &mockDynamoDBClient{
				getItemFunc: func(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
					return &dynamodb.GetItemOutput{
						Item: map[string]types.AttributeValue{
							"total_fans": &types.AttributeValueMemberN{Value: "many"},
						},
					}, nil
				},
			},
			wantErr: true,
			errMsg:  "parsing total_fans",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewDynamoDBStore(tc.client, "creatorsync")
			require.NoError(t, err)

			got, err := store.Creator(context.Background(), "creator-1")

			if tc.wantErr {
				require.Error(t, err)
				if tc.errIs != nil {
					require.ErrorIs(t, err, tc.errIs)
				}
				if tc.errMsg != "" {
					require.Contains(t, err.Error(), tc.errMsg)
				}
				require.Nil(t, got)
			} else {
				require.NoError(t, err)
				require.Equal(t, tc.want, got)
			}
		})
	}
}

func TestDynamoDBStore_Creators(t *testing.T) {
	t.Parallel()

	calls := 0
	store, err := NewDynamoDBStore(&mockDynamoDBClient{
		scanFunc: func(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
			calls++
			require.Equal(t, "sk = :profile", aws.ToString(params.FilterExpression))

			if params.ExclusiveStartKey == nil {
				return &dynamodb.ScanOutput{
					Items: []map[string]types.AttributeValue{
						{"creator_id": &types.AttributeValueMemberS{Value: "creator-1"}},
					},
					LastEvaluatedKey: creatorKey("creator-1"),
				}, nil
			}
			return &dynamodb.ScanOutput{
				Items: []map[string]types.AttributeValue{
					{"creator_id": &types.AttributeValueMemberS{Value: "creator-2"}},
				},
			}, nil
		},
	}, "creatorsync")
	require.NoError(t, err)

	creators, err := store.Creators(context.Background())

	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Len(t, creators, 2)
	require.Equal(t, "creator-1", creators[0].ID)
	require.Equal(t, "creator-2", creators[1].ID)
}

func TestDynamoDBStore_LastSyncTime(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		item    map[string]types.AttributeValue
		want    time.Time
		wantErr bool
	}{
		"set": {
			item: map[string]types.AttributeValue{
				"last_synced_at": &types.AttributeValueMemberS{Value: "2024-05-01T12:00:00Z"},
			},
			want: testTime,
		},
		"never synced": {
			item: map[string]types.AttributeValue{},
			want: time.Time{},
		},
		"unknown creator": {
			item: nil,
			want: time.Time{},
		},
		"malformed": {
			item: map[string]types.AttributeValue{
				"last_synced_at": &types.AttributeValueMemberS{Value: "soon"},
			},
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewDynamoDBStore(&mockDynamoDBClient{
				getItemFunc: func(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
					return &dynamodb.GetItemOutput{Item: tc.item}, nil
				},
			}, "creatorsync")
			require.NoError(t, err)

			got, err := store.LastSyncTime(context.Background(), "creator-1")

			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.True(t, tc.want.Equal(got))
		})
	}
}

func TestDynamoDBStore_Updates(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		call       func(store *DynamoDBStore) error
		updateErr  error
		errIs      error
		errMsg     string
		wantValues map[string]string
	}{
		"update metrics": {
			call: func(store *DynamoDBStore) error {
				return store.UpdateCreatorMetrics(context.Background(), "creator-1", creator.Metrics{
					ActiveFans:   2,
					TotalFans:    3,
					TotalRevenue: 250.5,
				})
			},
			wantValues: map[string]string{":revenue": "250.5", ":total": "3", ":active": "2"},
		},
		"set last sync time": {
			call: func(store *DynamoDBStore) error {
				return store.SetLastSyncTime(context.Background(), "creator-1", testTime)
			},
			wantValues: map[string]string{":t": formatTime(testTime)},
		},
		"unknown creator": {
			call: func(store *DynamoDBStore) error {
				return store.UpdateCreatorMetrics(context.Background(), "creator-1", creator.Metrics{})
			},
			updateErr: &types.ConditionalCheckFailedException{},
			errIs:     creator.ErrNotFound,
		},
		"API failure": {
			call: func(store *DynamoDBStore) error {
				return store.SetLastSyncTime(context.Background(), "creator-1", testTime)
			},
			updateErr: errors.New("API error"),
			errMsg:    "updating item in DynamoDB",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var got *dynamodb.UpdateItemInput
			store, err := NewDynamoDBStore(&mockDynamoDBClient{
				updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
					got = params
					if tc.updateErr != nil {
						return nil, tc.updateErr
					}
					return &dynamodb.UpdateItemOutput{}, nil
				},
			}, "creatorsync")
			require.NoError(t, err)

			err = tc.call(store)

			if tc.errIs != nil || tc.errMsg != "" {
				require.Error(t, err)
				if tc.errIs != nil {
					require.ErrorIs(t, err, tc.errIs)
				}
				if tc.errMsg != "" {
					require.Contains(t, err.Error(), tc.errMsg)
				}
				return
			}

			require.NoError(t, err)
			require.Equal(t, "attribute_exists(pk)", aws.ToString(got.ConditionExpression))
			require.Equal(t, "CREATOR#creator-1", attrString(got.Key, "pk"))
			for k, want := range tc.wantValues {
				switch v := got.ExpressionAttributeValues[k].(type) {
				case *types.AttributeValueMemberN:
					require.Equal(t, want, v.Value, k)
				case *types.AttributeValueMemberS:
					require.Equal(t, want, v.Value, k)
				default:
					t.Fatalf("missing value %s", k)
				}
			}
		})
	}
}

func TestDynamoDBStore_SaveCreator(t *testing.T) {
	t.Parallel()

	var got *dynamodb.UpdateItemInput
	store, err := NewDynamoDBStore(&mockDynamoDBClient{
		updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			got = params
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}, "creatorsync")
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorContains(t, store.SaveCreator(ctx, creator.Creator{ExternalHandle: "alice"}), "creator ID is required")
	require.ErrorContains(t, store.SaveCreator(ctx, creator.Creator{ID: "creator-1"}), "external handle is required")
	require.Nil(t, got)

	require.NoError(t, store.SaveCreator(ctx, creator.Creator{ID: "creator-1", Name: "Alice", ExternalHandle: "alice"}))
	require.Equal(t, "CREATOR#creator-1", attrString(got.Key, "pk"))
	require.Contains(t, aws.ToString(got.UpdateExpression), "if_not_exists(created_at, :now)")
	require.Equal(t, "alice", attrString(got.ExpressionAttributeValues, ":handle"))
	require.Nil(t, got.ConditionExpression)
}
