package authstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/calls-relay/testutil"
)

func setupStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() {
		_, _ = db.Exec(`DELETE FROM auth_rooms WHERE room_id LIKE 'test-%'`)
	})
	return New(db), db
}

func sampleRecord(roomID, personID string) AuthRecord {
	return AuthRecord{
		RoomID:       roomID,
		RoomTitle:    "Test Space",
		PersonID:     personID,
		DisplayName:  "User " + personID,
		AccessToken:  "access-" + personID,
		RefreshToken: "refresh-" + personID,
		TokenExpiry:  time.Now().Add(time.Hour).UTC(),
		WebhookIDs:   []string{"wh-a", "wh-b"},
	}
}

func TestSaveAndGet(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	roomID := "test-save-get"

	records, err := store.GetAuthorizedUsers(ctx, roomID)
	if err != nil {
		t.Fatalf("get empty room: %v", err)
	}
	if records != nil {
		t.Errorf("empty room = %+v, want nil", records)
	}

	if err := store.Save(ctx, sampleRecord(roomID, "p1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, sampleRecord(roomID, "p2")); err != nil {
		t.Fatalf("save second: %v", err)
	}

	records, err = store.GetAuthorizedUsers(ctx, roomID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].PersonID != "p1" || records[1].PersonID != "p2" {
		t.Errorf("order not preserved: %+v", records)
	}
	if records[0].AccessToken != "access-p1" || len(records[0].WebhookIDs) != 2 {
		t.Errorf("record round-trip mangled: %+v", records[0])
	}
}

func TestSaveReplacesByPerson(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	roomID := "test-replace"

	if err := store.Save(ctx, sampleRecord(roomID, "p1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	updated := sampleRecord(roomID, "p1")
	updated.AccessToken = "rotated"
	updated.TerseMode = true
	if err := store.Save(ctx, updated); err != nil {
		t.Fatalf("save update: %v", err)
	}

	records, err := store.GetAuthorizedUsers(ctx, roomID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records after replace, want 1", len(records))
	}
	if records[0].AccessToken != "rotated" || !records[0].TerseMode {
		t.Errorf("record not replaced: %+v", records[0])
	}
}

func TestDeleteOne(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	roomID := "test-delete-one"

	if err := store.Save(ctx, sampleRecord(roomID, "p1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, sampleRecord(roomID, "p2")); err != nil {
		t.Fatal(err)
	}

	removed, err := store.DeleteOne(ctx, roomID, "p1")
	if err != nil {
		t.Fatalf("delete one: %v", err)
	}
	if removed.PersonID != "p1" {
		t.Errorf("removed = %+v", removed)
	}
	records, _ := store.GetAuthorizedUsers(ctx, roomID)
	if len(records) != 1 || records[0].PersonID != "p2" {
		t.Errorf("remaining = %+v", records)
	}

	if _, err := store.DeleteOne(ctx, roomID, "p1"); !errors.Is(err, ErrNoAuthorization) {
		t.Errorf("second delete err = %v, want ErrNoAuthorization", err)
	}

	// Removing the last record removes the room document entirely.
	if _, err := store.DeleteOne(ctx, roomID, "p2"); err != nil {
		t.Fatalf("delete last: %v", err)
	}
	ids, err := store.ListRoomIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, id := range ids {
		if id == roomID {
			t.Error("empty room document left behind")
		}
	}
}

func TestDeleteAll(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	roomID := "test-delete-all"

	if err := store.Save(ctx, sampleRecord(roomID, "p1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, sampleRecord(roomID, "p2")); err != nil {
		t.Fatal(err)
	}

	removed, err := store.DeleteAll(ctx, roomID)
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("removed %d records, want 2", len(removed))
	}

	// Idempotent: a second call observes nothing and succeeds.
	removed, err = store.DeleteAll(ctx, roomID)
	if err != nil {
		t.Fatalf("second delete all: %v", err)
	}
	if removed != nil {
		t.Errorf("second delete removed %+v, want nil", removed)
	}
}

func TestListRoomIDs(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, sampleRecord("test-list-a", "p1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, sampleRecord("test-list-b", "p1")); err != nil {
		t.Fatal(err)
	}

	ids, err := store.ListRoomIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := map[string]bool{}
	for _, id := range ids {
		found[id] = true
	}
	if !found["test-list-a"] || !found["test-list-b"] {
		t.Errorf("ids = %v", ids)
	}
}
