package handlers

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rhuss/omnigate/pkg/transport"
)

// User is the user part of the composite view.
type User struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Order is one order of the composite view.
type Order struct {
	ID   int    `json:"id"`
	Item string `json:"item"`
}

// CompositeView aggregates a user and their orders.
type CompositeView struct {
	User   User    `json:"user"`
	Orders []Order `json:"orders"`
}

// UserSource and OrderSource fetch the parts of a composite view.
type (
	UserSource  func(ctx context.Context) (User, error)
	OrderSource func(ctx context.Context) ([]Order, error)
)

// Composite fetches a user and their orders concurrently and merges them.
type Composite struct {
	users  UserSource
	orders OrderSource
}

// NewComposite creates the composite handler. Nil sources serve the
// built-in sample data.
func NewComposite(users UserSource, orders OrderSource) *Composite {
	if users == nil {
		users = sampleUser
	}
	if orders == nil {
		orders = sampleOrders
	}
	return &Composite{users: users, orders: orders}
}

func sampleUser(context.Context) (User, error) {
	return User{ID: 1, Name: "Alice"}, nil
}

func sampleOrders(context.Context) ([]Order, error) {
	return []Order{{ID: 101, Item: "Book"}, {ID: 102, Item: "Laptop"}}, nil
}

// Handle runs both fetches in parallel. The first failure cancels the
// other and fails the request.
func (c *Composite) Handle(ctx context.Context, _ *transport.Request) (any, error) {
	var view CompositeView
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := c.users(gctx)
		if err != nil {
			return fmt.Errorf("fetching user: %w", err)
		}
		view.User = u
		return nil
	})
	g.Go(func() error {
		o, err := c.orders(gctx)
		if err != nil {
			return fmt.Errorf("fetching orders: %w", err)
		}
		view.Orders = o
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if view.Orders == nil {
		view.Orders = []Order{}
	}
	return view, nil
}
