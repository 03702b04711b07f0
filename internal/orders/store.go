package orders

import "context"

// Store persists orders. GetForUpdate must be called inside TxManager.WithinTx
// and holds the order until the transaction ends.
type Store interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f ListFilter) ([]*Order, error)
}

// ListFilter narrows List. Results are newest first.
type ListFilter struct {
	BuyerID string
	Status  Status
	Limit   int
}

type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartClearer empties a buyer's cart once an order is paid for.
type CartClearer interface {
	ClearCart(ctx context.Context, userID string) error
}

type Role string

const (
	RoleBuyer Role = "user"
	RoleAdmin Role = "admin"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Role   Role
}

func Buyer(id string) Actor { return Actor{UserID: id, Role: RoleBuyer} }
func Admin(id string) Actor { return Actor{UserID: id, Role: RoleAdmin} }

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) canSee(o *Order) bool { return a.IsAdmin() || o.BuyerID == a.UserID }
