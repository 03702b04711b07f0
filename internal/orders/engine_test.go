package orders_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/memory"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/stock"
)

type recorder struct {
	mu      sync.Mutex
	notes   []orders.Notification
	events  []orders.Event
	cleared []string
}

func (r *recorder) Notify(_ context.Context, n orders.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) Publish(_ context.Context, e orders.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ClearCart(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, userID)
	return nil
}

func (r *recorder) noteCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}

func (r *recorder) lastNote() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notes) == 0 {
		return ""
	}
	return r.notes[len(r.notes)-1].Message
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine *orders.Engine
	store  *memory.Store
	rec    *recorder
	clock  *clock
}

func setup(t *testing.T, policy ...orders.Policy) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.PutProduct(catalog.Product{ID: "p1", Name: "Linen Shirt", PriceCents: 100000, Stock: 5})
	store.PutProduct(catalog.Product{ID: "p2", Name: "Canvas Tote", PriceCents: 25000, Stock: 20})

	p := orders.Policy{Currency: "php", DeliveryChargeCents: 5000, ReturnWindow: 7 * 24 * time.Hour}
	if len(policy) > 0 {
		p = policy[0]
	}
	rec := &recorder{}
	clk := &clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	seq := 0
	e := orders.NewEngine(store, store, store, p,
		orders.WithNotifier(rec),
		orders.WithEvents(rec),
		orders.WithCartClearer(rec),
		orders.WithClock(clk.Now),
		orders.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("ord%05d-0000-4000-8000-000000000000", seq)
		}),
	)
	return &fixture{engine: e, store: store, rec: rec, clock: clk}
}

func address() orders.Address {
	return orders.Address{
		FirstName: "Maria", LastName: "Santos", Email: "maria@example.com",
		Street: "12 Mabini St", City: "Quezon City", Country: "PH", Phone: "+639171234567",
	}
}

func (f *fixture) create(t *testing.T, buyer string, method orders.PaymentMethod, items ...orders.LineItem) *orders.Order {
	t.Helper()
	if len(items) == 0 {
		items = []orders.LineItem{{ProductID: "p1", Name: "Linen Shirt", UnitPriceCents: 100000, Size: "M", Quantity: 2}}
	}
	o, err := f.engine.CreateOrder(context.Background(), orders.CreateOrderInput{
		BuyerID: buyer, Items: items, Address: address(), PaymentMethod: method,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func (f *fixture) stockOf(t *testing.T, id string) int {
	t.Helper()
	n, err := f.store.Stock(context.Background(), id)
	if err != nil {
		t.Fatalf("stock %s: %v", id, err)
	}
	return n
}

func (f *fixture) advanceTo(t *testing.T, id string, to orders.Status) {
	t.Helper()
	ctx := context.Background()
	for {
		o, err := f.store.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if o.Status == to {
			return
		}
		next, ok := orders.NextFulfillment(o.Status)
		if !ok {
			t.Fatalf("cannot reach %s from %s", to, o.Status)
		}
		if _, err := f.engine.AdvanceFulfillment(ctx, id, next); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
	}
}

func TestCreateOrder_CODTakesAllStock(t *testing.T) {
	f := setup(t)
	o := f.create(t, "u1", orders.PaymentCOD, orders.LineItem{ProductID: "p1", Name: "Linen Shirt", UnitPriceCents: 100000, Quantity: 5})

	if o.Status != orders.StatusOrderPlaced || !o.StockApplied {
		t.Fatalf("status=%s stockApplied=%v", o.Status, o.StockApplied)
	}
	if o.AmountCents != 5*100000+5000 {
		t.Fatalf("amount %d", o.AmountCents)
	}
	p, _ := f.store.GetProduct(context.Background(), "p1")
	if p.Stock != 0 || p.Availability != stock.OutOfStock {
		t.Fatalf("product after order: %+v", p)
	}
	if got := f.rec.lastNote(); got != "Your order #ord00001 is now: Order Placed" {
		t.Fatalf("notification %q", got)
	}
}

func TestCreateOrder_InsufficientStockPersistsNothing(t *testing.T) {
	f := setup(t)
	_, err := f.engine.CreateOrder(context.Background(), orders.CreateOrderInput{
		BuyerID: "u1", Address: address(), PaymentMethod: orders.PaymentCOD,
		Items: []orders.LineItem{
			{ProductID: "p2", Name: "Canvas Tote", UnitPriceCents: 25000, Quantity: 1},
			{ProductID: "p1", Name: "Linen Shirt", UnitPriceCents: 100000, Quantity: 6},
		},
	})
	var ise *stock.InsufficientStockError
	if !errors.As(err, &ise) || ise.ProductID != "p1" {
		t.Fatalf("expected insufficient stock naming p1, got %v", err)
	}
	if !strings.Contains(err.Error(), "Linen Shirt") {
		t.Fatalf("message should name the product: %v", err)
	}
	list, _ := f.store.List(context.Background(), orders.ListFilter{})
	if len(list) != 0 {
		t.Fatalf("expected no orders, got %d", len(list))
	}
	if f.stockOf(t, "p1") != 5 || f.stockOf(t, "p2") != 20 {
		t.Fatalf("stock changed")
	}
	if f.rec.noteCount() != 0 {
		t.Fatalf("unexpected notification")
	}
}

// optimistic reports plenty of stock so the pre-check passes and the
// atomic reserve is what fails, as with a concurrent sale.
type optimistic struct{ *memory.Store }

func (optimistic) Stock(context.Context, string) (int, error) { return 1000, nil }

func TestCreateOrder_CODReserveRaceRollsBack(t *testing.T) {
	store := memory.NewStore()
	store.PutProduct(catalog.Product{ID: "p1", Name: "Linen Shirt", PriceCents: 100000, Stock: 5})
	store.PutProduct(catalog.Product{ID: "p2", Name: "Canvas Tote", PriceCents: 25000, Stock: 1})
	e := orders.NewEngine(store, store, optimistic{store}, orders.Policy{DeliveryChargeCents: 5000})

	_, err := e.CreateOrder(context.Background(), orders.CreateOrderInput{
		BuyerID: "u1", Address: address(), PaymentMethod: orders.PaymentCOD,
		Items: []orders.LineItem{
			{ProductID: "p1", Name: "Linen Shirt", UnitPriceCents: 100000, Quantity: 3},
			{ProductID: "p2", Name: "Canvas Tote", UnitPriceCents: 25000, Quantity: 2},
		},
	})
	if !errors.Is(err, orders.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	list, _ := store.List(context.Background(), orders.ListFilter{})
	if len(list) != 0 {
		t.Fatalf("order should have been removed")
	}
	if n, _ := store.Stock(context.Background(), "p1"); n != 5 {
		t.Fatalf("p1 stock not compensated: %d", n)
	}
	if n, _ := store.Stock(context.Background(), "p2"); n != 1 {
		t.Fatalf("p2 stock changed: %d", n)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	f := setup(t)
	bad := address()
	bad.Email = "not-an-email"
	cases := []orders.CreateOrderInput{
		{BuyerID: "", Address: address(), PaymentMethod: orders.PaymentCOD, Items: []orders.LineItem{{ProductID: "p1", Quantity: 1}}},
		{BuyerID: "u1", Address: address(), PaymentMethod: "bitcoin", Items: []orders.LineItem{{ProductID: "p1", Quantity: 1}}},
		{BuyerID: "u1", Address: address(), PaymentMethod: orders.PaymentCOD},
		{BuyerID: "u1", Address: address(), PaymentMethod: orders.PaymentCOD, Items: []orders.LineItem{{ProductID: "p1", Quantity: 0}}},
		{BuyerID: "u1", Address: bad, PaymentMethod: orders.PaymentCOD, Items: []orders.LineItem{{ProductID: "p1", Quantity: 1}}},
		{BuyerID: "u1", Address: address(), PaymentMethod: orders.PaymentCOD, Items: []orders.LineItem{{ProductID: "ghost", Quantity: 1}}},
	}
	for i, in := range cases {
		if _, err := f.engine.CreateOrder(context.Background(), in); !errors.Is(err, orders.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestCreateOrder_HostedWaitsForPayment(t *testing.T) {
	f := setup(t)
	o := f.create(t, "u1", orders.PaymentHostedA)
	if o.Status != orders.StatusPendingPayment || o.StockApplied || o.PaymentConfirmed {
		t.Fatalf("unexpected order %+v", o)
	}
	if f.stockOf(t, "p1") != 5 {
		t.Fatalf("hosted order must not touch stock")
	}
}

func TestConfirmPayment_TwiceDecrementsOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	o := f.create(t, "u1", orders.PaymentHostedA)

	for i := 0; i < 2; i++ {
		got, err := f.engine.ConfirmPayment(ctx, o.ID, "cs_1")
		if err != nil {
			t.Fatalf("confirm %d: %v", i, err)
		}
		if got.Status != orders.StatusProcessing || !got.PaymentConfirmed || !got.StockApplied {
			t.Fatalf("confirm %d: %+v", i, got)
		}
	}
	if f.stockOf(t, "p1") != 3 {
		t.Fatalf("stock %d", f.stockOf(t, "p1"))
	}
	if len(f.rec.cleared) != 1 {
		t.Fatalf("cart cleared %d times", len(f.rec.cleared))
	}
	// created + payment successful
	if f.rec.noteCount() != 2 || f.rec.lastNote() != "Your order #ord00001 is now: Payment Successful" {
		t.Fatalf("notes %d last %q", f.rec.noteCount(), f.rec.lastNote())
	}
}

func TestConfirmPayment_ConcurrentDuplicates(t *testing.T) {
	f := setup(t)
	o := f.create(t, "u1", orders.PaymentHostedB)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.ConfirmPayment(context.Background(), o.ID, "order_x")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("confirm: %v", err)
		}
	}
	if f.stockOf(t, "p1") != 3 {
		t.Fatalf("expected exactly one decrement, stock=%d", f.stockOf(t, "p1"))
	}
	got, _ := f.store.Get(context.Background(), o.ID)
	n := 0
	for _, h := range got.History {
		if h.Status == orders.StatusProcessing {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("processing recorded %d times", n)
	}
}

func TestConfirmPayment_NotFound(t *testing.T) {
	f := setup(t)
	if _, err := f.engine.ConfirmPayment(context.Background(), "missing", "ref"); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConfirmPayment_StockGoneNeedsReconciliation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	o := f.create(t, "u1", orders.PaymentHostedA, orders.LineItem{ProductID: "p1", Name: "Linen Shirt", UnitPriceCents: 100000, Quantity: 4})

	// a cash order takes the stock while the buyer is on the gateway page
	f.create(t, "u2", orders.PaymentCOD, orders.LineItem{ProductID: "p1", Name: "Linen Shirt", UnitPriceCents: 100000, Quantity: 3})

	got, err := f.engine.ConfirmPayment(ctx, o.ID, "cs_1")
	if !errors.Is(err, orders.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got == nil || got.Status != orders.StatusReconciliationRequired {
		t.Fatalf("order %+v", got)
	}
	if !got.PaymentConfirmed || got.StockApplied || got.ReconciliationError == "" {
		t.Fatalf("flags %+v", got)
	}
	if f.stockOf(t, "p1") != 2 {
		t.Fatalf("stock %d", f.stockOf(t, "p1"))
	}

	// a replay reports the same failure without notifying again
	notes := f.rec.noteCount()
	again, err := f.engine.ConfirmPayment(ctx, o.ID, "cs_1")
	if !errors.Is(err, orders.ErrInsufficientStock) {
		t.Fatalf("replay: expected insufficient stock, got %v", err)
	}
	if again == nil || again.Status != orders.StatusReconciliationRequired {
		t.Fatalf("replay order %+v", again)
	}
	if f.rec.noteCount() != notes {
		t.Fatalf("replay notified again")
	}
	if f.stockOf(t, "p1") != 2 {
		t.Fatalf("replay touched stock: %d", f.stockOf(t, "p1"))
	}
}

func TestConfirmPayment_WrongReference(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	o := f.create(t, "u1", orders.PaymentHostedA)
	if _, err := f.engine.RecordCheckoutSession(ctx, o.ID, "cs_right"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := f.engine.ConfirmPayment(ctx, o.ID, "cs_wrong"); !errors.Is(err, orders.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.stockOf(t, "p1") != 5 {
		t.Fatalf("stock changed")
	}
}

func TestFailPayment_DeletesPendingOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	o := f.create(t, "u1", orders.PaymentHostedA)

	deleted, err := f.engine.FailPayment(ctx, o.ID)
	if err != nil || !deleted {
		t.Fatalf("fail payment: deleted=%v err=%v", deleted, err)
	}
	if _, err := f.store.Get(ctx, o.ID); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("order still present: %v", err)
	}
	if f.stockOf(t, "p1") != 5 {
		t.Fatalf("stock changed")
	}
	if f.rec.lastNote() != "Your order #ord00001 is now: Payment Failed and Order Cancelled" {
		t.Fatalf("note %q", f.rec.lastNote())
	}

	notes := f.rec.noteCount()
	deleted, err = f.engine.FailPayment(ctx, o.ID)
	if err != nil || deleted {
		t.Fatalf("second fail: deleted=%v err=%v", deleted, err)
	}
	if f.rec.noteCount() != notes {
		t.Fatalf("second fail notified")
	}
}

func TestFailPayment_AfterConfirmIsNoop(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	o := f.create(t, "u1", orders.PaymentHostedA)
	if _, err := f.engine.ConfirmPayment(ctx, o.ID, ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	deleted, err := f.engine.FailPayment(ctx, o.ID)
	if err != nil || deleted {
		t.Fatalf("stale failure: deleted=%v err=%v", deleted, err)
	}
	got, _ := f.store.Get(ctx, o.ID)
	if got.Status != orders.StatusProcessing {
		t.Fatalf("status %s", got.Status)
	}
}

func TestCancel_BuyerCODRestoresStockOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	o := f.create(t, "u1", orders.PaymentCOD,
		orders.LineItem{ProductID: "p1", Name: "Linen Shirt", UnitPriceCents: 100000, Quantity: 2},
		orders.LineItem{ProductID: "p2", Name: "Canvas Tote", UnitPriceCents: 25000, Quantity: 7},
	)
	if f.stockOf(t, "p1") != 3 || f.stockOf(t, "p2") != 13 {
		t.Fatalf("stock not committed")
	}

	first, err := f.engine.Cancel(ctx, o.ID, "changed mind", orders.Buyer("u1"))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	notes := f.rec.noteCount()
	second, err := f.engine.Cancel(ctx, o.ID, "changed mind", orders.Buyer("u1"))
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	// a repeat needs no reason; it changes nothing
	if third, err := f.engine.Cancel(ctx, o.ID, "", orders.Buyer("u1")); err != nil || third.Status != orders.StatusCancelled {
		t.Fatalf("repeat cancel without reason: %+v %v", third, err)
	}

	if first.Status != orders.StatusCancelled || first.CancellationReason != "changed mind" {
		t.Fatalf("first %+v", first)
	}
	if second.Status != first.Status || second.StockReleased != first.StockReleased || len(second.History) != len(first.History) {
		t.Fatalf("second cancel changed state")
	}
	if f.stockOf(t, "p1") != 5 || f.stockOf(t, "p2") != 20 {
		t.Fatalf("stock after cancel p1=%d p2=%d", f.stockOf(t, "p1"), f.stockOf(t, "p2"))
	}
	if f.rec.noteCount() != notes {
		t.Fatalf("second cancel notified")
	}
}

func TestCancel_UnpaidHostedDoesNotInflateStock(t *testing.T) {
	f := setup(t)
	o := f.create(t, "u1", orders.PaymentHostedA)
	if _, err := f.engine.Cancel(context.Background(), o.ID, "too slow", orders.Buyer("u1")); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.stockOf(t, "p1") != 5 {
		t.Fatalf("stock %d", f.stockOf(t, "p1"))
	}
}

func TestCancel_BuyerRules(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	o := f.create(t, "u1", orders.PaymentCOD)

	if _, err := f.engine.Cancel(ctx, o.ID, "  ", orders.Buyer("u1")); !errors.Is(err, orders.ErrValidation) {
		t.Fatalf("expected reason required, got %v", err)
	}
	if _, err := f.engine.Cancel(ctx, o.ID, "mine now", orders.Buyer("u2")); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("expected not found for other buyer, got %v", err)
	}
	f.advanceTo(t, o.ID, orders.StatusProcessing)
	_, err := f.engine.Cancel(ctx, o.ID, "changed mind", orders.Buyer("u1"))
	var te *orders.TransitionError
	if !errors.As(err, &te) || te.From != orders.StatusProcessing {
		t.Fatalf("expected transition error from processing, got %v", err)
	}
}

func TestCancel_AdminDispatchPolicy(t *testing.T) {
	for _, restock := range []bool{false, true} {
		t.Run(fmt.Sprintf("restock=%v", restock), func(t *testing.T) {
			f := setup(t, orders.Policy{DeliveryChargeCents: 5000, RestockDispatchedOnCancel: restock})
			ctx := context.Background()
			o := f.create(t, "u1", orders.PaymentCOD)
			f.advanceTo(t, o.ID, orders.StatusInTransit)

			got, err := f.engine.Cancel(ctx, o.ID, "courier lost parcel", orders.Admin("a1"))
			if err != nil {
				t.Fatalf("admin cancel: %v", err)
			}
			want := 3
			if restock {
				want = 5
			}
			if f.stockOf(t, "p1") != want {
				t.Fatalf("stock %d want %d", f.stockOf(t, "p1"), want)
			}
			if got.StockReleased != restock {
				t.Fatalf("stockReleased %v", got.StockReleased)
			}
		})
	}
}

func TestCancel_AdminPackedRestores(t *testing.T) {
	f := setup(t)
	o := f.create(t, "u1", orders.PaymentCOD)
	f.advanceTo(t, o.ID, orders.StatusPacked)
	if _, err := f.engine.Cancel(context.Background(), o.ID, "damaged in warehouse", orders.Admin("a1")); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.stockOf(t, "p1") != 5 {
		t.Fatalf("stock %d", f.stockOf(t, "p1"))
	}
}

func TestCancel_AdminCannotCancelDelivered(t *testing.T) {
	f := setup(t)
	o := f.create(t, "u1", orders.PaymentCOD)
	f.advanceTo(t, o.ID, orders.StatusDelivered)
	if _, err := f.engine.Cancel(context.Background(), o.ID, "oops", orders.Admin("a1")); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestAdvanceFulfillment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	o := f.create(t, "u1", orders.PaymentCOD)

	if _, err := f.engine.AdvanceFulfillment(ctx, o.ID, orders.StatusInTransit); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("skipping ahead should fail, got %v", err)
	}
	got, err := f.engine.AdvanceFulfillment(ctx, o.ID, orders.StatusProcessing)
	if err != nil || got.Status != orders.StatusProcessing {
		t.Fatalf("advance: %v %v", got, err)
	}
	notes := f.rec.noteCount()
	if _, err := f.engine.AdvanceFulfillment(ctx, o.ID, orders.StatusProcessing); err != nil {
		t.Fatalf("repeat advance: %v", err)
	}
	if f.rec.noteCount() != notes {
		t.Fatalf("repeat advance notified")
	}
	if f.stockOf(t, "p1") != 3 {
		t.Fatalf("fulfillment must not touch stock")
	}

	pending := f.create(t, "u1", orders.PaymentHostedA)
	if _, err := f.engine.AdvanceFulfillment(ctx, pending.ID, orders.StatusProcessing); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("unpaid order must not advance, got %v", err)
	}
}

func TestReturn_ApproveRestoresOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	o := f.create(t, "u1", orders.PaymentCOD)
	f.advanceTo(t, o.ID, orders.StatusDelivered)

	if _, err := f.engine.RequestReturn(ctx, o.ID, "damaged", orders.Buyer("u1")); err != nil {
		t.Fatalf("request return: %v", err)
	}
	for i := 0; i < 2; i++ {
		got, err := f.engine.ResolveReturn(ctx, o.ID, true, "")
		if err != nil {
			t.Fatalf("approve %d: %v", i, err)
		}
		if got.Status != orders.StatusReturnApproved || got.ReturnReason != "damaged" {
			t.Fatalf("approve %d: %+v", i, got)
		}
	}
	if f.stockOf(t, "p1") != 5 {
		t.Fatalf("stock %d", f.stockOf(t, "p1"))
	}
	if _, err := f.engine.ResolveReturn(ctx, o.ID, false, ""); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("reject after approve should fail, got %v", err)
	}
}

func TestReturn_RejectKeepsStock(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	o := f.create(t, "u1", orders.PaymentCOD)
	f.advanceTo(t, o.ID, orders.StatusDelivered)
	if _, err := f.engine.RequestReturn(ctx, o.ID, "wrong colour", orders.Buyer("u1")); err != nil {
		t.Fatalf("request: %v", err)
	}
	got, err := f.engine.ResolveReturn(ctx, o.ID, false, "worn")
	if err != nil || got.Status != orders.StatusReturnRejected {
		t.Fatalf("reject: %v %v", got, err)
	}
	if f.stockOf(t, "p1") != 3 {
		t.Fatalf("stock %d", f.stockOf(t, "p1"))
	}
}

func TestRequestReturn_Rules(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	o := f.create(t, "u1", orders.PaymentCOD)

	if _, err := f.engine.RequestReturn(ctx, o.ID, "damaged", orders.Buyer("u1")); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("return before delivery should fail, got %v", err)
	}
	f.advanceTo(t, o.ID, orders.StatusDelivered)
	if _, err := f.engine.RequestReturn(ctx, o.ID, "", orders.Buyer("u1")); !errors.Is(err, orders.ErrValidation) {
		t.Fatalf("reason required, got %v", err)
	}
	f.clock.Advance(8 * 24 * time.Hour)
	_, err := f.engine.RequestReturn(ctx, o.ID, "damaged", orders.Buyer("u1"))
	var te *orders.TransitionError
	if !errors.As(err, &te) || !strings.Contains(te.Reason, "window") {
		t.Fatalf("expected closed window, got %v", err)
	}
}

func TestUpdateStatus_Routes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	admin := orders.Admin("a1")
	o := f.create(t, "u1", orders.PaymentCOD)

	got, err := f.engine.UpdateStatus(ctx, o.ID, orders.StatusProcessing, "", admin)
	if err != nil || got.Status != orders.StatusProcessing {
		t.Fatalf("advance: %v %v", got, err)
	}
	if _, err := f.engine.UpdateStatus(ctx, o.ID, orders.StatusCancelled, "", admin); !errors.Is(err, orders.ErrValidation) {
		t.Fatalf("admin cancel needs a reason, got %v", err)
	}
	got, err = f.engine.UpdateStatus(ctx, o.ID, orders.StatusCancelled, "fraud check", admin)
	if err != nil || got.Status != orders.StatusCancelled {
		t.Fatalf("cancel: %v %v", got, err)
	}
	if _, err := f.engine.UpdateStatus(ctx, o.ID, orders.StatusPacked, "", orders.Buyer("u1")); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("buyer must not update status, got %v", err)
	}
}

func TestListOrders_NewestFirstAndScoped(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, "u1", orders.PaymentCOD)
	f.clock.Advance(time.Minute)
	b := f.create(t, "u2", orders.PaymentCOD)
	f.clock.Advance(time.Minute)
	c := f.create(t, "u1", orders.PaymentHostedA)

	mine, err := f.engine.ListOrders(ctx, orders.Buyer("u1"), orders.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != c.ID || mine[1].ID != a.ID {
		t.Fatalf("mine: %v", ids(mine))
	}
	all, _ := f.engine.ListOrders(ctx, orders.Admin("a1"), orders.ListFilter{})
	if len(all) != 3 || all[1].ID != b.ID {
		t.Fatalf("all: %v", ids(all))
	}
	if _, err := f.engine.GetOrder(ctx, b.ID, orders.Buyer("u1")); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("other buyer's order visible: %v", err)
	}
}

func ids(os []*orders.Order) []string {
	out := make([]string, 0, len(os))
	for _, o := range os {
		out = append(out, o.ID)
	}
	return out
}

func TestEvents_PublishedForCommittedChanges(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	o := f.create(t, "u1", orders.PaymentHostedA)
	if _, err := f.engine.ConfirmPayment(ctx, o.ID, "cs_1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := f.engine.ConfirmPayment(ctx, o.ID, "cs_1"); err != nil {
		t.Fatalf("confirm again: %v", err)
	}
	var types []string
	for _, e := range f.rec.events {
		types = append(types, e.Type)
	}
	if len(types) != 2 || types[0] != orders.EventOrderCreated || types[1] != orders.EventPaymentConfirmed {
		t.Fatalf("events %v", types)
	}
}
