package stream_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/espalier/composite"
	"github.com/jacentio/espalier/stream"
)

// --- Test Record Types ---

type user struct {
	ID    string `db:"id,key"`
	Email string `db:"email"`
}

func (*user) TableName() string { return "users" }

type admin struct {
	UserID string `db:"user_id,key"`
	Level  int64  `db:"level"`
}

func (*admin) TableName() string { return "admins" }

type profile struct {
	UserID string `db:"user_id,key"`
	Bio    string `db:"bio"`
}

func (*profile) TableName() string { return "profiles" }

// --- Fake Storage ---

// memoryStorage is a map-backed composite.Storage. Deletes stage in the
// transaction and apply on Commit.
type memoryStorage struct {
	rows      map[string]map[string]composite.Record
	commits   int
	loadErr   error
	deleteErr error
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{rows: make(map[string]map[string]composite.Record)}
}

func (m *memoryStorage) put(rec composite.Record) {
	tbl, ok := m.rows[rec.TableName()]
	if !ok {
		tbl = make(map[string]composite.Record)
		m.rows[rec.TableName()] = tbl
	}
	tbl[recKey(rec)] = rec
}

func (m *memoryStorage) has(table, key string) bool {
	_, ok := m.rows[table][key]
	return ok
}

func recKey(rec composite.Record) string {
	switch r := rec.(type) {
	case *user:
		return r.ID
	case *admin:
		return r.UserID
	case *profile:
		return r.UserID
	}
	return ""
}

func (m *memoryStorage) Load(_ context.Context, rec composite.Record, key any) (bool, error) {
	if m.loadErr != nil {
		return false, m.loadErr
	}
	stored, ok := m.rows[rec.TableName()][fmt.Sprint(key)]
	if !ok {
		return false, nil
	}
	switch r := rec.(type) {
	case *user:
		*r = *(stored.(*user))
	case *admin:
		*r = *(stored.(*admin))
	case *profile:
		*r = *(stored.(*profile))
	}
	return true, nil
}

func (m *memoryStorage) Begin(context.Context) (composite.Txn, error) {
	return &memoryTxn{m: m}, nil
}

type memoryTxn struct {
	m       *memoryStorage
	deletes []composite.Record
}

func (t *memoryTxn) Insert(context.Context, composite.Record) error { return nil }
func (t *memoryTxn) Update(context.Context, composite.Record) error { return nil }

func (t *memoryTxn) Delete(_ context.Context, rec composite.Record) (int64, error) {
	if t.m.deleteErr != nil {
		return 0, t.m.deleteErr
	}
	t.deletes = append(t.deletes, rec)
	return 1, nil
}

func (t *memoryTxn) Commit() error {
	for _, rec := range t.deletes {
		delete(t.m.rows[rec.TableName()], recKey(rec))
	}
	t.m.commits++
	return nil
}

func (t *memoryTxn) Rollback() error { return nil }

// --- Test Helpers ---

func testRegistry(t *testing.T) *composite.Registry {
	t.Helper()
	r := composite.NewRegistry()
	if err := r.Register(composite.Link{
		Child:  func() composite.Record { return &admin{} },
		Parent: func() composite.Record { return &user{} },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return r
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func streamARN(table string) string {
	return "arn:aws:dynamodb:us-east-1:123456789012:table/" + table + "/stream/2024-01-01T00:00:00.000"
}

func removeRecord(table, keyName, keyValue string) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventID:        "evt-" + keyValue,
		EventName:      "REMOVE",
		EventSourceArn: streamARN(table),
		Change: events.DynamoDBStreamRecord{
			Keys: map[string]events.DynamoDBAttributeValue{
				keyName: events.NewStringAttribute(keyValue),
			},
		},
	}
}

func removeEvent(table, keyName, keyValue string) events.DynamoDBEvent {
	return events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{removeRecord(table, keyName, keyValue)},
	}
}

// --- NewHandler Tests ---

func TestNewHandler(t *testing.T) {
	h := stream.NewHandler(newMemoryStorage(), composite.NewRegistry(), nil)
	if h == nil {
		t.Fatal("expected non-nil Handler")
	}
}

// --- HandleParentRemove Tests ---

func TestHandleParentRemove_EmptyEvent(t *testing.T) {
	h := stream.NewHandler(newMemoryStorage(), testRegistry(t), quietLogger())

	err := h.HandleParentRemove(context.Background(), events.DynamoDBEvent{})
	if err != nil {
		t.Errorf("expected no error for empty event, got %v", err)
	}
}

func TestHandleParentRemove_DeletesOrphan(t *testing.T) {
	storage := newMemoryStorage()
	storage.put(&admin{UserID: "u-1", Level: 3})
	h := stream.NewHandler(storage, testRegistry(t), quietLogger())

	err := h.HandleParentRemove(context.Background(), removeEvent("users", "id", "u-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if storage.has("admins", "u-1") {
		t.Error("expected orphaned admin row deleted")
	}
	if storage.commits != 1 {
		t.Errorf("expected 1 commit, got %d", storage.commits)
	}
}

func TestHandleParentRemove_IgnoresOtherEvents(t *testing.T) {
	storage := newMemoryStorage()
	storage.put(&admin{UserID: "u-1", Level: 3})
	h := stream.NewHandler(storage, testRegistry(t), quietLogger())

	event := events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{
			{
				EventName:      "INSERT",
				EventSourceArn: streamARN("users"),
				Change: events.DynamoDBStreamRecord{
					Keys: map[string]events.DynamoDBAttributeValue{
						"id": events.NewStringAttribute("u-1"),
					},
				},
			},
			{
				EventName:      "MODIFY",
				EventSourceArn: streamARN("users"),
				Change: events.DynamoDBStreamRecord{
					Keys: map[string]events.DynamoDBAttributeValue{
						"id": events.NewStringAttribute("u-1"),
					},
				},
			},
		},
	}

	if err := h.HandleParentRemove(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !storage.has("admins", "u-1") {
		t.Error("expected admin row untouched by INSERT and MODIFY events")
	}
}

func TestHandleParentRemove_UnlinkedTable(t *testing.T) {
	storage := newMemoryStorage()
	h := stream.NewHandler(storage, testRegistry(t), quietLogger())

	err := h.HandleParentRemove(context.Background(), removeEvent("sessions", "id", "s-1"))
	if err != nil {
		t.Errorf("expected no error for unlinked table, got %v", err)
	}
	if storage.commits != 0 {
		t.Errorf("expected no commits, got %d", storage.commits)
	}
}

func TestHandleParentRemove_ChildAlreadyGone(t *testing.T) {
	storage := newMemoryStorage()
	h := stream.NewHandler(storage, testRegistry(t), quietLogger())

	err := h.HandleParentRemove(context.Background(), removeEvent("users", "id", "u-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if storage.commits != 0 {
		t.Errorf("expected no commits when no child is linked, got %d", storage.commits)
	}
}

func TestHandleParentRemove_BadARN(t *testing.T) {
	h := stream.NewHandler(newMemoryStorage(), testRegistry(t), quietLogger())

	event := events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{
			{
				EventName:      "REMOVE",
				EventSourceArn: "not-an-arn",
			},
		},
	}
	if err := h.HandleParentRemove(context.Background(), event); err == nil {
		t.Error("expected error for unparseable event source ARN")
	}
}

func TestHandleParentRemove_ProbeFailureReturnsError(t *testing.T) {
	storage := newMemoryStorage()
	storage.loadErr = errors.New("storage down")
	h := stream.NewHandler(storage, testRegistry(t), quietLogger())

	err := h.HandleParentRemove(context.Background(), removeEvent("users", "id", "u-1"))
	if err == nil {
		t.Error("expected probe failure to surface for retry")
	}
}

func TestHandleParentRemove_DeleteFailureContinues(t *testing.T) {
	storage := newMemoryStorage()
	storage.put(&admin{UserID: "u-1", Level: 3})
	storage.deleteErr = errors.New("conditional check failed")
	h := stream.NewHandler(storage, testRegistry(t), quietLogger())

	err := h.HandleParentRemove(context.Background(), removeEvent("users", "id", "u-1"))
	if err != nil {
		t.Errorf("expected delete failure to be logged, not returned, got %v", err)
	}
	if !storage.has("admins", "u-1") {
		t.Error("expected admin row left for the next sweep")
	}
}

func TestHandleParentRemove_MultipleRecords(t *testing.T) {
	storage := newMemoryStorage()
	storage.put(&admin{UserID: "u-1", Level: 1})
	storage.put(&admin{UserID: "u-2", Level: 2})
	h := stream.NewHandler(storage, testRegistry(t), quietLogger())

	event := events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{
			removeRecord("users", "id", "u-1"),
			removeRecord("users", "id", "u-2"),
		},
	}
	if err := h.HandleParentRemove(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if storage.has("admins", "u-1") || storage.has("admins", "u-2") {
		t.Error("expected both orphaned admin rows deleted")
	}
}

func TestHandleParentRemove_MultipleLinksForParent(t *testing.T) {
	storage := newMemoryStorage()
	storage.put(&admin{UserID: "u-1", Level: 1})
	storage.put(&profile{UserID: "u-1", Bio: "hello"})

	registry := testRegistry(t)
	if err := registry.Register(composite.Link{
		Child:  func() composite.Record { return &profile{} },
		Parent: func() composite.Record { return &user{} },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	h := stream.NewHandler(storage, registry, quietLogger())

	if err := h.HandleParentRemove(context.Background(), removeEvent("users", "id", "u-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if storage.has("admins", "u-1") {
		t.Error("expected admin orphan deleted")
	}
	if storage.has("profiles", "u-1") {
		t.Error("expected profile orphan deleted")
	}
}

func TestHandleParentRemove_ReadsOldImage(t *testing.T) {
	storage := newMemoryStorage()
	storage.put(&admin{UserID: "u-1", Level: 3})
	h := stream.NewHandler(storage, testRegistry(t), quietLogger())

	event := events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{
			{
				EventID:        "evt-1",
				EventName:      "REMOVE",
				EventSourceArn: streamARN("users"),
				Change: events.DynamoDBStreamRecord{
					OldImage: map[string]events.DynamoDBAttributeValue{
						"id":    events.NewStringAttribute("u-1"),
						"email": events.NewStringAttribute("gone@example.com"),
					},
				},
			},
		},
	}
	if err := h.HandleParentRemove(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if storage.has("admins", "u-1") {
		t.Error("expected orphan deleted from old-image record")
	}
}
