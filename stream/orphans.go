// Package stream provides DynamoDB Streams handlers for orphan cleanup.
//
// A child row and its parent row are linked one-to-one by key. The engine
// deletes both in one transaction, but rows removed outside the engine
// (TTL expiry, manual deletes, other writers) leave children behind.
// Wiring HandleParentRemove to the parent tables' streams sweeps those
// orphans: each removal of a parent row deletes the child rows still
// linked to it. Removals ripple level by level, since deleting an
// orphaned child emits its own stream event.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/espalier/composite"
	"github.com/jacentio/espalier/internal/fieldmap"
)

// Handler processes DynamoDB stream events for orphan cleanup.
type Handler struct {
	storage  composite.Storage
	registry *composite.Registry
	logger   *slog.Logger
}

// NewHandler creates a new stream handler over the same registry the
// engine uses, so both agree on which tables link to which.
func NewHandler(storage composite.Storage, registry *composite.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		storage:  storage,
		registry: registry,
		logger:   logger,
	}
}

// HandleParentRemove processes DynamoDB stream events, deleting child rows
// orphaned by each REMOVE. This function is designed to be used as an AWS
// Lambda handler.
func (h *Handler) HandleParentRemove(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord sweeps the orphans of a single removed row.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "REMOVE" {
		return nil
	}

	table := tableFromARN(record.EventSourceArn)
	if table == "" {
		return fmt.Errorf("no table name in event source ARN %q", record.EventSourceArn)
	}

	for _, link := range h.registry.LinksForParent(table) {
		if err := h.sweepLink(ctx, record.Change, link); err != nil {
			return err
		}
	}
	return nil
}

// sweepLink deletes the child row the removed parent row leaves behind,
// if one exists. A child already gone is fine: the engine's own deletes
// remove children first, and sweeps may run more than once.
func (h *Handler) sweepLink(ctx context.Context, change events.DynamoDBStreamRecord, link composite.Link) error {
	child := link.Child()
	fm, err := fieldmap.For(child)
	if err != nil {
		return err
	}
	key, ok := fm.Key()
	if !ok {
		return fmt.Errorf("%s declares no key field", child.TableName())
	}

	// The sweep addresses children by key. Links joined on a non-key
	// child field would need a query, which Storage does not offer.
	if link.ChildField != key.Name {
		h.logger.Debug("skipping link with non-key child field",
			"childTable", link.ChildTable(),
			"childField", link.ChildField,
		)
		return nil
	}

	av, ok := imageAttr(change, link.ParentField)
	if !ok {
		// Keys-only stream views omit non-key attributes. Retrying will
		// not make the attribute appear, so skip rather than fail.
		h.logger.Warn("removed row carries no link attribute",
			"parentTable", link.ParentTable(),
			"parentField", link.ParentField,
		)
		return nil
	}
	keyValue, ok := attrValue(av)
	if !ok {
		return fmt.Errorf("unsupported key type for %s.%s", link.ParentTable(), link.ParentField)
	}

	found, err := h.storage.Load(ctx, child, keyValue)
	if err != nil {
		return fmt.Errorf("probe %s: %w", child.TableName(), err)
	}
	if !found {
		return nil
	}

	if err := h.deleteOrphan(ctx, child); err != nil {
		h.logger.Warn("failed to delete orphan",
			"childTable", child.TableName(),
			"key", keyValue,
			"error", err,
		)
		// Leave it for the next sweep rather than failing the batch.
		return nil
	}

	h.logger.Info("deleted orphaned child",
		"childTable", child.TableName(),
		"parentTable", link.ParentTable(),
		"key", keyValue,
	)
	return nil
}

// deleteOrphan removes the child row in its own transaction.
func (h *Handler) deleteOrphan(ctx context.Context, child composite.Record) error {
	tx, err := h.storage.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Delete(ctx, child); err != nil {
		return err
	}
	return tx.Commit()
}

// tableFromARN extracts the table name from a stream ARN of the form
// arn:aws:dynamodb:region:account:table/name/stream/timestamp.
func tableFromARN(arn string) string {
	i := strings.Index(arn, ":table/")
	if i < 0 {
		return ""
	}
	rest := arn[i+len(":table/"):]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		return rest[:j]
	}
	return rest
}

// imageAttr reads an attribute from the removal record, preferring the
// old image and falling back to the key projection.
func imageAttr(change events.DynamoDBStreamRecord, name string) (events.DynamoDBAttributeValue, bool) {
	if av, ok := change.OldImage[name]; ok {
		return av, true
	}
	av, ok := change.Keys[name]
	return av, ok
}

// attrValue converts a stream attribute to a storage key value.
func attrValue(av events.DynamoDBAttributeValue) (any, bool) {
	switch av.DataType() {
	case events.DataTypeString:
		return av.String(), true
	case events.DataTypeNumber:
		n, err := strconv.ParseInt(av.Number(), 10, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	}
	return nil, false
}
