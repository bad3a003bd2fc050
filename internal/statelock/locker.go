package statelock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/imamik/k3ssm/internal/metrics"
	"github.com/imamik/k3ssm/internal/util/retry"
)

var (
	// ErrLockContention is returned when another run holds the lock after
	// every acquisition attempt.
	ErrLockContention = errors.New("state lock is held by another run")

	// ErrLockNotHeld is returned when a write is attempted without holding
	// the lock for the state key.
	ErrLockNotHeld = errors.New("state lock not held")
)

// Lock table attribute names.
const (
	attrLockID  = "LockID"
	attrOwner   = "Owner"
	attrInfo    = "Info"
	attrCreated = "Created"
)

// DynamoDBAPI is the subset of DynamoDB the locker uses.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Holder describes whoever holds a lock.
type Holder struct {
	Owner   string
	Info    string
	Created time.Time
}

// Lock is a held state lock. It is released at most once.
type Lock struct {
	ID      string
	Owner   string
	Info    string
	Created time.Time

	locker   *Locker
	mu       sync.Mutex
	released bool
}

// Held reports whether the lock is still held by this process.
func (l *Lock) Held() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.released
}

// Release deletes the lock item, conditional on this owner. Releasing twice
// is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}

	_, err := l.locker.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(l.locker.table),
		Key:                 lockKey(l.ID),
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": attrOwner,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: l.Owner},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			l.released = true
			return fmt.Errorf("lock %s was taken over by another owner", l.ID)
		}
		return fmt.Errorf("failed to release lock %s: %w", l.ID, err)
	}
	l.released = true
	l.locker.log.V(1).Info("state lock released", "lock", l.ID)
	return nil
}

// Locker acquires state locks in a DynamoDB table.
type Locker struct {
	api      DynamoDBAPI
	table    string
	attempts int
	delay    time.Duration
	metrics  *metrics.Recorder
	log      logr.Logger
	now      func() time.Time
	newOwner func() string
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithMetrics records every acquisition attempt.
func WithMetrics(rec *metrics.Recorder) LockerOption {
	return func(l *Locker) { l.metrics = rec }
}

// WithLogger sets the locker logger.
func WithLogger(log logr.Logger) LockerOption {
	return func(l *Locker) { l.log = log }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) LockerOption {
	return func(l *Locker) { l.now = now }
}

// NewLocker creates a Locker. attempts bounds acquisition, delay is the
// initial backoff between attempts.
func NewLocker(api DynamoDBAPI, table string, attempts int, delay time.Duration, opts ...LockerOption) *Locker {
	if attempts < 1 {
		attempts = 1
	}
	l := &Locker{
		api:      api,
		table:    table,
		attempts: attempts,
		delay:    delay,
		log:      logr.Discard(),
		now:      time.Now,
		newOwner: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire takes the lock for id. Contention is retried with exponential
// backoff; any other failure is returned at once.
func (l *Locker) Acquire(ctx context.Context, id, info string) (*Lock, error) {
	lock := &Lock{
		ID:      id,
		Owner:   l.newOwner(),
		Info:    info,
		Created: l.now().UTC(),
		locker:  l,
	}

	err := retry.WithExponentialBackoff(ctx, func() error {
		_, err := l.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(l.table),
			Item: map[string]types.AttributeValue{
				attrLockID:  &types.AttributeValueMemberS{Value: id},
				attrOwner:   &types.AttributeValueMemberS{Value: lock.Owner},
				attrInfo:    &types.AttributeValueMemberS{Value: info},
				attrCreated: &types.AttributeValueMemberS{Value: lock.Created.Format(time.RFC3339)},
			},
			ConditionExpression: aws.String("attribute_not_exists(#id)"),
			ExpressionAttributeNames: map[string]string{
				"#id": attrLockID,
			},
		})
		switch {
		case err == nil:
			l.metrics.LockAttempt(metrics.ResultSuccess)
		case isConditionalCheckFailed(err):
			l.metrics.LockAttempt(metrics.ResultContended)
			l.log.V(1).Info("state lock busy, retrying", "lock", id)
		default:
			l.metrics.LockAttempt(metrics.ResultFailure)
		}
		return err
	},
		retry.WithMaxRetries(l.attempts-1),
		retry.WithInitialDelay(l.delay),
		retry.WithMaxDelay(8*l.delay),
		retry.WithRetryIf(isConditionalCheckFailed),
	)
	if err == nil {
		l.log.Info("state lock acquired", "lock", id)
		return lock, nil
	}

	if isConditionalCheckFailed(err) {
		holder, herr := l.Holder(ctx, id)
		if herr != nil || holder == nil {
			return nil, fmt.Errorf("%w: %s after %d attempts", ErrLockContention, id, l.attempts)
		}
		return nil, fmt.Errorf("%w: %s held by %s since %s (%s)", ErrLockContention, id,
			holder.Owner, holder.Created.Format(time.RFC3339), holder.Info)
	}
	return nil, fmt.Errorf("failed to acquire lock %s: %w", id, err)
}

// Holder reads the current holder of id, or nil when the lock is free.
func (l *Locker) Holder(ctx context.Context, id string) (*Holder, error) {
	out, err := l.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(l.table),
		Key:            lockKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read lock %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	h := &Holder{
		Owner: stringAttr(out.Item, attrOwner),
		Info:  stringAttr(out.Item, attrInfo),
	}
	if created, err := time.Parse(time.RFC3339, stringAttr(out.Item, attrCreated)); err == nil {
		h.Created = created
	}
	return h, nil
}

// WithLock runs fn while holding the lock for id. The lock is released on
// every exit path, panics included; a release failure is joined to the
// result.
func (l *Locker) WithLock(ctx context.Context, id, info string, fn func(ctx context.Context, lock *Lock) error) (err error) {
	lock, err := l.Acquire(ctx, id, info)
	if err != nil {
		return err
	}

	defer func() {
		// The run context may already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		relErr := lock.Release(releaseCtx)

		if r := recover(); r != nil {
			if relErr != nil {
				l.log.Error(relErr, "state lock release after panic failed", "lock", id)
			}
			panic(r)
		}
		if relErr != nil {
			err = errors.Join(err, relErr)
		}
	}()

	return fn(ctx, lock)
}

// EnsureTable creates the lock table if it does not exist and waits until it
// is active.
func (l *Locker) EnsureTable(ctx context.Context, timeout time.Duration) error {
	_, err := l.api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(l.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrLockID), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrLockID), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return fmt.Errorf("failed to create lock table %s: %w", l.table, err)
		}
		l.log.V(1).Info("lock table exists", "table", l.table)
	}

	return retry.Poll(ctx, retry.PollConfig{Interval: 2 * time.Second, Timeout: timeout}, func(ctx context.Context) (bool, error) {
		out, err := l.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(l.table)})
		if err != nil {
			return false, err
		}
		return out.Table != nil && out.Table.TableStatus == types.TableStatusActive, nil
	})
}

func lockKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrLockID: &types.AttributeValueMemberS{Value: id},
	}
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}
