package redisx

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
)

func TestDedup_SeenAndMark(t *testing.T) {
	db, mock := redismock.NewClientMock()
	d := &Dedup{RDB: db, Scope: "hosted_a"}
	ctx := context.Background()

	mock.ExpectExists("dedup:hosted_a:evt_1").SetVal(0)
	mock.ExpectSet("dedup:hosted_a:evt_1", "1", TTLDedup).SetVal("OK")
	mock.ExpectExists("dedup:hosted_a:evt_1").SetVal(1)

	seen, err := d.Seen(ctx, "evt_1")
	if err != nil || seen {
		t.Fatalf("first seen=%v err=%v", seen, err)
	}
	if err := d.Mark(ctx, "evt_1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	seen, err = d.Seen(ctx, "evt_1")
	if err != nil || !seen {
		t.Fatalf("second seen=%v err=%v", seen, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCarts_GetSortsAndSkipsBadQuantities(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := &Carts{RDB: db}

	mock.ExpectHGetAll("cart:u1").SetVal(map[string]string{
		"p2|M":  "1",
		"p1|L":  "2",
		"p1|S":  "3",
		"p3|XL": "0",
		"p4|M":  "x",
	})

	got, err := c.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := []CartEntry{{"p1", "L", 2}, {"p1", "S", 3}, {"p2", "M", 1}}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: got %v want %v", i, got[i], want[i])
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCarts_Clear(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := &Carts{RDB: db}
	mock.ExpectDel("cart:u1").SetVal(1)
	if err := c.ClearCart(context.Background(), "u1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInbox_PushAndList(t *testing.T) {
	db, mock := redismock.NewClientMock()
	in := &Inbox{RDB: db}
	ctx := context.Background()

	n := Notification{EventID: "e1", OrderID: "o1", Message: "Your order #o1 is now: Packed", At: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	b, _ := json.Marshal(n)

	mock.ExpectTxPipeline()
	mock.ExpectLPush("notifications:u1", string(b)).SetVal(1)
	mock.ExpectLTrim("notifications:u1", 0, InboxMax-1).SetVal("OK")
	mock.ExpectExpire("notifications:u1", TTLInbox).SetVal(true)
	mock.ExpectTxPipelineExec()

	if err := in.Push(ctx, "u1", n); err != nil {
		t.Fatalf("push: %v", err)
	}

	mock.ExpectLRange("notifications:u1", 0, -1).SetVal([]string{string(b), "not json"})
	list, err := in.List(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Message != n.Message {
		t.Fatalf("list %v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIdempotency_ClaimLifecycle(t *testing.T) {
	db, mock := redismock.NewClientMock()
	idem := &Idempotency{RDB: db}
	ctx := context.Background()
	key := "idem:order:create:u1:k1"

	mock.ExpectSetNX(key, "pending", TTLIdempotency).SetVal(true)
	mock.ExpectSetNX(key, "pending", TTLIdempotency).SetVal(false)
	mock.ExpectGet(key).SetVal("pending")
	mock.ExpectSet(key, "o-1", TTLIdempotency).SetVal("OK")
	mock.ExpectSetNX(key, "pending", TTLIdempotency).SetVal(false)
	mock.ExpectGet(key).SetVal("o-1")

	if id, claimed, err := idem.Claim(ctx, "u1", "k1"); err != nil || !claimed || id != "" {
		t.Fatalf("first claim id=%q claimed=%v err=%v", id, claimed, err)
	}
	if id, claimed, err := idem.Claim(ctx, "u1", "k1"); err != nil || claimed || id != "" {
		t.Fatalf("in-flight claim id=%q claimed=%v err=%v", id, claimed, err)
	}
	if err := idem.Complete(ctx, "u1", "k1", "o-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if id, claimed, err := idem.Claim(ctx, "u1", "k1"); err != nil || claimed || id != "o-1" {
		t.Fatalf("replayed claim id=%q claimed=%v err=%v", id, claimed, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
