// Package dynamo stores database blobs in a DynamoDB table keyed by database root.
package dynamo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/repository"
)

// maxTransactItems is the DynamoDB limit for TransactWriteItems.
const maxTransactItems = 100

// API is the subset of the DynamoDB client used by Repo.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Item is the table row of one blob.
type Item struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	Data       []byte `dynamodbav:"data"`
	ModifiedAt string `dynamodbav:"modified_at"`
}

// Repo is a DynamoDB-backed BlobRepository.
type Repo struct {
	client API
	table  string
	root   string
	now    func() time.Time
}

// New returns a repository over an existing client.
func New(client API, table, root string) *Repo {
	return &Repo{client: client, table: table, root: root, now: time.Now}
}

// NewFromConfig loads the default AWS configuration and builds a client.
func NewFromConfig(ctx context.Context, table, root, region string) (*Repo, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return New(dynamodb.NewFromConfig(cfg), table, root), nil
}

var (
	_ repository.BlobRepository = (*Repo)(nil)
	_ repository.BatchWriter    = (*Repo)(nil)
)

func (r *Repo) Root() string { return r.root }

func (r *Repo) Path(name string) string { return "dynamodb://" + r.table + "/" + r.pk() + "/" + name }

func (r *Repo) pk() string { return "DB#" + r.root }

func (r *Repo) key(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: r.pk()},
		"SK": &types.AttributeValueMemberS{Value: name},
	}
}

func (r *Repo) Read(ctx context.Context, name string) ([]byte, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            r.key(name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%s: %w", name, errs.ErrNotFound)
	}
	var it Item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", name, err)
	}
	if it.Data == nil {
		it.Data = []byte{}
	}
	return it.Data, nil
}

func (r *Repo) item(name string, data []byte) (map[string]types.AttributeValue, error) {
	if err := repository.ValidName(name); err != nil {
		return nil, err
	}
	return attributevalue.MarshalMap(Item{
		PK:         r.pk(),
		SK:         name,
		Data:       data,
		ModifiedAt: r.now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Repo) Write(ctx context.Context, name string, data []byte) error {
	av, err := r.item(name, data)
	if err != nil {
		return err
	}
	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(r.table), Item: av}); err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

// WriteAll puts every blob in one DynamoDB transaction.
func (r *Repo) WriteAll(ctx context.Context, blobs []repository.Blob) error {
	if len(blobs) > maxTransactItems {
		return fmt.Errorf("transaction of %d blobs exceeds %d", len(blobs), maxTransactItems)
	}
	items := make([]types.TransactWriteItem, 0, len(blobs))
	for _, b := range blobs {
		av, err := r.item(b.Name, b.Data)
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{TableName: aws.String(r.table), Item: av}})
	}
	if _, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, name string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: aws.String(r.table), Key: r.key(name)})
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

func (r *Repo) Exists(ctx context.Context, name string) (bool, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(r.table),
		Key:                  r.key(name),
		ProjectionExpression: aws.String("SK"),
		ConsistentRead:       aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get %s: %w", name, err)
	}
	return out.Item != nil, nil
}

func (r *Repo) List(ctx context.Context, prefix string) ([]string, error) {
	cond := "PK = :pk"
	values := map[string]types.AttributeValue{":pk": &types.AttributeValueMemberS{Value: r.pk()}}
	if prefix != "" {
		cond += " AND begins_with(SK, :prefix)"
		values[":prefix"] = &types.AttributeValueMemberS{Value: prefix}
	}
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(r.table),
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeValues: values,
		ProjectionExpression:      aws.String("SK"),
		ConsistentRead:            aws.Bool(true),
	}
	var names []string
	for {
		out, err := r.client.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", prefix, err)
		}
		for _, av := range out.Items {
			var it Item
			if err := attributevalue.UnmarshalMap(av, &it); err != nil {
				return nil, err
			}
			if strings.HasPrefix(it.SK, prefix) {
				names = append(names, it.SK)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return names, nil
}
