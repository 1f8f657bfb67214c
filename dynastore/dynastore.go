// Package dynastore implements composite.Storage over Amazon DynamoDB.
//
// DynamoDB transactions cannot read their own writes, so the adapter
// buffers every Insert, Update, and Delete and flushes them as a single
// TransactWriteItems call on Commit; Rollback discards the buffer. Reads
// during an open transaction see pre-transaction state, which is all the
// engine needs; cascades resolve their chains before writing.
//
// Generated keys are client-assigned: Insert fills a zero string key with
// a fresh UUID before buffering, so the engine's parent-key propagation
// works without a readback. Records with non-string keys must have them
// assigned before insert.
package dynastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/espalier/composite"
	"github.com/jacentio/espalier/internal/fieldmap"
)

// Client is the subset of the DynamoDB API the store drives. It is
// satisfied by *dynamodb.Client; tests supply fakes.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store adapts a DynamoDB client to composite.Storage.
type Store struct {
	client Client
}

// New creates a Store over client.
func New(client Client) *Store {
	return &Store{client: client}
}

// Load reads the row with the given key into rec. The read is strongly
// consistent: the engine expects to see rows its own commits just wrote.
// A missing row is (false, nil).
func (s *Store) Load(ctx context.Context, rec composite.Record, key any) (bool, error) {
	fm, err := fieldmap.For(rec)
	if err != nil {
		return false, err
	}
	kf, ok := fm.Key()
	if !ok {
		return false, fmt.Errorf("espalier: %s declares no key field", rec.TableName())
	}
	keyAV, err := attributevalue.Marshal(key)
	if err != nil {
		return false, fmt.Errorf("espalier: get %s: marshal key: %w", rec.TableName(), err)
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(rec.TableName()),
		Key:            map[string]types.AttributeValue{kf.Name: keyAV},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("espalier: get %s: %w", rec.TableName(), err)
	}
	if out.Item == nil {
		return false, nil
	}
	if err := unmarshalRecord(out.Item, rec, fm); err != nil {
		return false, fmt.Errorf("espalier: get %s: %w", rec.TableName(), err)
	}
	return true, nil
}

// Begin opens a buffered transaction. The context bounds the Commit
// flush, mirroring database/sql transactions.
func (s *Store) Begin(ctx context.Context) (composite.Txn, error) {
	return &Txn{store: s, ctx: ctx}, nil
}

var errTxnDone = errors.New("espalier: transaction has already been committed or rolled back")

// Txn buffers writes until Commit flushes them as one TransactWriteItems
// call. A Txn is single-goroutine, like the cascades that drive it.
type Txn struct {
	store *Store
	ctx   context.Context
	items []types.TransactWriteItem
	ops   []string
	done  bool
}

// Insert buffers a conditional put that fails the transaction when the
// key already exists. A zero string key is assigned a fresh UUID first.
func (t *Txn) Insert(ctx context.Context, rec composite.Record) error {
	if t.done {
		return errTxnDone
	}
	fm, err := fieldmap.For(rec)
	if err != nil {
		return err
	}
	kf, ok := fm.Key()
	if !ok {
		return fmt.Errorf("espalier: %s declares no key field", rec.TableName())
	}
	if zero, _ := fm.IsZero(rec, kf.Name); zero {
		if err := fm.Set(rec, kf.Name, uuid.NewString()); err != nil {
			return fmt.Errorf("espalier: insert %s: generated keys need a string key field: %w", rec.TableName(), err)
		}
	}
	item, err := marshalRecord(rec, fm)
	if err != nil {
		return fmt.Errorf("espalier: insert %s: %w", rec.TableName(), err)
	}
	t.items = append(t.items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:                aws.String(rec.TableName()),
			Item:                     item,
			ConditionExpression:      aws.String("attribute_not_exists(#key)"),
			ExpressionAttributeNames: map[string]string{"#key": kf.Name},
		},
	})
	t.ops = append(t.ops, "insert "+rec.TableName())
	return nil
}

// Update buffers a whole-row put conditioned on the row existing.
func (t *Txn) Update(ctx context.Context, rec composite.Record) error {
	if t.done {
		return errTxnDone
	}
	fm, err := fieldmap.For(rec)
	if err != nil {
		return err
	}
	kf, ok := fm.Key()
	if !ok {
		return fmt.Errorf("espalier: %s declares no key field", rec.TableName())
	}
	item, err := marshalRecord(rec, fm)
	if err != nil {
		return fmt.Errorf("espalier: update %s: %w", rec.TableName(), err)
	}
	t.items = append(t.items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:                aws.String(rec.TableName()),
			Item:                     item,
			ConditionExpression:      aws.String("attribute_exists(#key)"),
			ExpressionAttributeNames: map[string]string{"#key": kf.Name},
		},
	})
	t.ops = append(t.ops, "update "+rec.TableName())
	return nil
}

// Delete buffers the keyed delete. It reports one removed row: DynamoDB
// transactions expose no removed-row count for their deletes.
func (t *Txn) Delete(ctx context.Context, rec composite.Record) (int64, error) {
	if t.done {
		return 0, errTxnDone
	}
	fm, err := fieldmap.For(rec)
	if err != nil {
		return 0, err
	}
	kf, ok := fm.Key()
	if !ok {
		return 0, fmt.Errorf("espalier: %s declares no key field", rec.TableName())
	}
	key, _ := fm.Value(rec, kf.Name)
	keyAV, err := attributevalue.Marshal(key)
	if err != nil {
		return 0, fmt.Errorf("espalier: delete %s: marshal key: %w", rec.TableName(), err)
	}
	t.items = append(t.items, types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: aws.String(rec.TableName()),
			Key:       map[string]types.AttributeValue{kf.Name: keyAV},
		},
	})
	t.ops = append(t.ops, "delete "+rec.TableName())
	return 1, nil
}

// Commit flushes the buffered writes in one TransactWriteItems call. An
// empty transaction commits without touching DynamoDB.
func (t *Txn) Commit() error {
	if t.done {
		return errTxnDone
	}
	t.done = true
	if len(t.items) == 0 {
		return nil
	}
	_, err := t.store.client.TransactWriteItems(t.ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: t.items,
	})
	return t.mapTransactionError(err)
}

// Rollback discards the buffer. After Commit it is a no-op.
func (t *Txn) Rollback() error {
	t.done = true
	t.items = nil
	return nil
}

// mapTransactionError names the failing buffered write when DynamoDB
// cancels the transaction on a condition failure.
func (t *Txn) mapTransactionError(err error) error {
	if err == nil {
		return nil
	}
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return err
	}
	for i, reason := range canceled.CancellationReasons {
		if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
			continue
		}
		if i < len(t.ops) {
			return fmt.Errorf("espalier: %s: condition failed: %w", t.ops[i], err)
		}
	}
	return err
}

// marshalRecord builds the item from the record's declared fields only;
// undeclared struct fields never reach storage.
func marshalRecord(rec composite.Record, fm *fieldmap.Map) (map[string]types.AttributeValue, error) {
	item := make(map[string]types.AttributeValue, fm.Len())
	for _, f := range fm.Fields() {
		v, _ := fm.Value(rec, f.Name)
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", f.Name, err)
		}
		item[f.Name] = av
	}
	return item, nil
}

// unmarshalRecord fills the record's declared fields from the item,
// zeroing fields the item does not carry.
func unmarshalRecord(item map[string]types.AttributeValue, rec composite.Record, fm *fieldmap.Map) error {
	for _, f := range fm.Fields() {
		av, ok := item[f.Name]
		if !ok {
			if err := fm.Zero(rec, f.Name); err != nil {
				return err
			}
			continue
		}
		addrs, err := fm.Addrs(rec, []string{f.Name})
		if err != nil {
			return err
		}
		if err := attributevalue.Unmarshal(av, addrs[0]); err != nil {
			return fmt.Errorf("unmarshal field %q: %w", f.Name, err)
		}
	}
	return nil
}
