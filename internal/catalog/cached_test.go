package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
)

type countingLookup struct {
	products map[string]Product
	calls    int
}

func (l *countingLookup) GetProduct(_ context.Context, id string) (Product, error) {
	l.calls++
	p, ok := l.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func TestCached_HitSkipsUpstream(t *testing.T) {
	db, mock := redismock.NewClientMock()
	up := &countingLookup{}
	c := &Cached{Next: up, Redis: db, TTL: time.Minute}

	p := Product{ID: "p1", Name: "Denim Jacket", PriceCents: 150000}
	b, _ := json.Marshal(p)
	mock.ExpectGet("catalog:product:p1").SetVal(string(b))

	got, err := c.GetProduct(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != p.Name || got.PriceCents != p.PriceCents {
		t.Fatalf("got %+v", got)
	}
	if up.calls != 0 {
		t.Fatalf("upstream called %d times", up.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCached_MissFillsCache(t *testing.T) {
	db, mock := redismock.NewClientMock()
	p := Product{ID: "p1", Name: "Denim Jacket", PriceCents: 150000}
	up := &countingLookup{products: map[string]Product{"p1": p}}
	c := &Cached{Next: up, Redis: db, TTL: time.Minute}

	b, _ := json.Marshal(p)
	mock.ExpectGet("catalog:product:p1").RedisNil()
	mock.ExpectGet("catalog:product:p1").RedisNil()
	mock.ExpectSet("catalog:product:p1", string(b), time.Minute).SetVal("OK")

	got, err := c.GetProduct(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "p1" || up.calls != 1 {
		t.Fatalf("got %+v calls %d", got, up.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCached_MissingProduct(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := &Cached{Next: &countingLookup{}, Redis: db, TTL: time.Minute}
	mock.ExpectGet("catalog:product:gone").RedisNil()
	mock.ExpectGet("catalog:product:gone").RedisNil()

	_, err := c.GetProduct(context.Background(), "gone")
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}
