package statelock

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imamik/k3ssm/internal/platform/s3"
)

// fakeTable is an in-memory lock table honouring the conditions the locker
// sends. The XxxFunc fields override single calls.
type fakeTable struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	puts  int

	PutItemFunc       func(ctx context.Context, in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	DeleteItemFunc    func(ctx context.Context, in *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	CreateTableFunc   func(ctx context.Context, in *dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error)
	DescribeTableFunc func(ctx context.Context, in *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error)
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: map[string]map[string]types.AttributeValue{}}
}

func (f *fakeTable) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	f.puts++
	f.mu.Unlock()
	if f.PutItemFunc != nil {
		return f.PutItemFunc(ctx, in)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := stringAttr(in.Item, attrLockID)
	if _, exists := f.items[id]; exists && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[stringAttr(in.Key, attrLockID)]}, nil
}

func (f *fakeTable) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if f.DeleteItemFunc != nil {
		return f.DeleteItemFunc(ctx, in)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := stringAttr(in.Key, attrLockID)
	item, ok := f.items[id]
	owner := in.ExpressionAttributeValues[":owner"].(*types.AttributeValueMemberS).Value
	if !ok || stringAttr(item, attrOwner) != owner {
		return nil, &types.ConditionalCheckFailedException{}
	}
	delete(f.items, id)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeTable) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	if f.CreateTableFunc != nil {
		return f.CreateTableFunc(ctx, in)
	}
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeTable) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if f.DescribeTableFunc != nil {
		return f.DescribeTableFunc(ctx, in)
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableStatus: types.TableStatusActive}}, nil
}

func (f *fakeTable) held(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[id]
	return ok
}

func strPtr(s string) *string { return &s }

var errNotFound = fmt.Errorf("%w: test", s3.ErrObjectNotFound)

// fakeBlob is an in-memory object store.
type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte

	GetObjectFunc func(ctx context.Context, bucket, key string) ([]byte, error)
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: map[string][]byte{}}
}

func (f *fakeBlob) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if f.GetObjectFunc != nil {
		return f.GetObjectFunc(ctx, bucket, key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errNotFound
	}
	return data, nil
}

func (f *fakeBlob) PutObject(_ context.Context, bucket, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlob) DeleteObject(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, bucket+"/"+key)
	return nil
}
