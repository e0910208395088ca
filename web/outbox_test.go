package web

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/deemkeen/mammut/domain"
)

func TestParsePageParam(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"empty string", "", 0},
		{"valid page 1", "1", 1},
		{"valid page 5", "5", 5},
		{"invalid string", "abc", 0},
		{"negative number", "-1", 0},
		{"zero", "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParsePageParam(tt.input)
			if result != tt.expected {
				t.Errorf("ParsePageParam(%q) = %d, want %d", tt.input, result, tt.expected)
			}
		})
	}
}

func unmarshalCollection(t *testing.T, body string) map[string]interface{} {
	t.Helper()
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		t.Fatalf("Collection should be valid JSON: %v", err)
	}
	return doc
}

func TestGetOutboxCollection(t *testing.T) {
	database, engine, conf := setupWeb(t)
	account := createWebAccount(t, database, "alice")

	for i := 0; i < 2; i++ {
		if _, err := engine.CreateLocalNote(context.Background(), account, fmt.Sprintf("note %d", i), ""); err != nil {
			t.Fatalf("Failed to create note: %v", err)
		}
	}

	err, body := GetOutbox(database, engine, "alice", 0, conf)
	if err != nil {
		t.Fatalf("GetOutbox failed: %v", err)
	}

	doc := unmarshalCollection(t, body)
	if doc["type"] != "OrderedCollection" {
		t.Errorf("Unexpected type: %v", doc["type"])
	}
	if doc["totalItems"] != float64(2) {
		t.Errorf("Unexpected totalItems: %v", doc["totalItems"])
	}
	if doc["first"] != "https://mammut.example/users/alice/outbox?page=1" {
		t.Errorf("Unexpected first page: %v", doc["first"])
	}
}

func TestGetOutboxPage(t *testing.T) {
	database, engine, conf := setupWeb(t)
	account := createWebAccount(t, database, "alice")

	if _, err := engine.CreateLocalNote(context.Background(), account, "paged note", ""); err != nil {
		t.Fatalf("Failed to create note: %v", err)
	}

	err, body := GetOutbox(database, engine, "alice", 1, conf)
	if err != nil {
		t.Fatalf("GetOutbox failed: %v", err)
	}

	doc := unmarshalCollection(t, body)
	if doc["type"] != "OrderedCollectionPage" {
		t.Errorf("Unexpected type: %v", doc["type"])
	}
	if doc["partOf"] != "https://mammut.example/users/alice/outbox" {
		t.Errorf("Unexpected partOf: %v", doc["partOf"])
	}

	items, _ := doc["orderedItems"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("Expected one item, got %d", len(items))
	}
	activity, _ := items[0].(map[string]interface{})
	if activity["type"] != "Create" {
		t.Errorf("Expected a Create activity, got %v", activity["type"])
	}
	if _, hasNext := doc["next"]; hasNext {
		t.Error("Single page should not link a next page")
	}
	if _, hasPrev := doc["prev"]; hasPrev {
		t.Error("First page should not link a prev page")
	}
}

func TestGetOutboxPagination(t *testing.T) {
	database, engine, conf := setupWeb(t)
	account := createWebAccount(t, database, "alice")

	for i := 0; i < outboxPageSize+1; i++ {
		if _, err := engine.CreateLocalNote(context.Background(), account, fmt.Sprintf("note %d", i), ""); err != nil {
			t.Fatalf("Failed to create note: %v", err)
		}
	}

	err, body := GetOutbox(database, engine, "alice", 1, conf)
	if err != nil {
		t.Fatalf("GetOutbox page 1 failed: %v", err)
	}
	page1 := unmarshalCollection(t, body)
	if items, _ := page1["orderedItems"].([]interface{}); len(items) != outboxPageSize {
		t.Errorf("Expected a full first page, got %d items", len(items))
	}
	if page1["next"] != "https://mammut.example/users/alice/outbox?page=2" {
		t.Errorf("Unexpected next link: %v", page1["next"])
	}

	err, body = GetOutbox(database, engine, "alice", 2, conf)
	if err != nil {
		t.Fatalf("GetOutbox page 2 failed: %v", err)
	}
	page2 := unmarshalCollection(t, body)
	if items, _ := page2["orderedItems"].([]interface{}); len(items) != 1 {
		t.Errorf("Expected one overflow item, got %d", len(items))
	}
	if page2["prev"] != "https://mammut.example/users/alice/outbox?page=1" {
		t.Errorf("Unexpected prev link: %v", page2["prev"])
	}
}

func TestGetFollowersCollection(t *testing.T) {
	database, engine, conf := setupWeb(t)
	account := createWebAccount(t, database, "alice")

	err, remote := database.CreateRemoteAccount(&domain.RemoteAccount{
		Username: "bob",
		Domain:   "remote.example",
		ActorURI: "https://remote.example/users/bob",
		InboxURI: "https://remote.example/users/bob/inbox",
	})
	if err != nil {
		t.Fatalf("Failed to create remote account: %v", err)
	}
	err, _ = database.CreateFollow(&domain.Follow{
		AccountId:       remote.Id,
		AccountLocal:    false,
		TargetAccountId: account.Id,
		TargetLocal:     true,
		URI:             "https://remote.example/activities/follow-1",
		Accepted:        true,
	})
	if err != nil {
		t.Fatalf("Failed to create follow: %v", err)
	}

	err, body := GetFollowers(database, engine, "alice", conf)
	if err != nil {
		t.Fatalf("GetFollowers failed: %v", err)
	}

	doc := unmarshalCollection(t, body)
	if doc["totalItems"] != float64(1) {
		t.Errorf("Unexpected totalItems: %v", doc["totalItems"])
	}
	items, _ := doc["orderedItems"].([]interface{})
	if len(items) != 1 || items[0] != "https://remote.example/users/bob" {
		t.Errorf("Unexpected followers: %v", items)
	}
}

func TestGetFollowingCollection(t *testing.T) {
	database, engine, conf := setupWeb(t)
	alice := createWebAccount(t, database, "alice")
	dave := createWebAccount(t, database, "dave")

	err, _ := database.CreateFollow(&domain.Follow{
		AccountId:       alice.Id,
		AccountLocal:    true,
		TargetAccountId: dave.Id,
		TargetLocal:     true,
		Accepted:        true,
	})
	if err != nil {
		t.Fatalf("Failed to create follow: %v", err)
	}

	err, body := GetFollowing(database, engine, "alice", conf)
	if err != nil {
		t.Fatalf("GetFollowing failed: %v", err)
	}

	doc := unmarshalCollection(t, body)
	items, _ := doc["orderedItems"].([]interface{})
	if len(items) != 1 || items[0] != "https://mammut.example/users/dave" {
		t.Errorf("Unexpected following: %v", items)
	}
}
