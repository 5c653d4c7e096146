// Package orders is the sample order-management plugin: customers place
// orders made of order items, each order may carry a ticket and customers
// point at a postal address.
package orders

import (
	"context"
	"fmt"
	"time"

	"txcore/internal/core"
	"txcore/pkg/domain"
)

// Class names.
const (
	ClassCustomer    = "Customer"
	ClassAddress     = "Address"
	ClassOrder       = "Order"
	ClassOrderItem   = "OrderItem"
	ClassOrderTicket = "OrderTicket"
)

// Relation property names.
const (
	PropItems    = "Items"    // Order -> []OrderItem (virtual)
	PropOrder    = "Order"    // OrderItem/OrderTicket -> Order (real)
	PropCustomer = "Customer" // Order -> Customer (real)
	PropOrders   = "Orders"   // Customer -> []Order (virtual)
	PropTicket   = "Ticket"   // Order -> OrderTicket (virtual)
	PropAddress  = "Address"  // Customer -> Address (real, unidirectional)
)

// DefaultMaxItems bounds Order.Items unless overridden with WithMaxItems.
const DefaultMaxItems = 20

// Plugin registers the order model.
type Plugin struct {
	maxItems int
}

// Option configures the plugin.
type Option func(*Plugin)

// WithMaxItems changes the per-order item limit.
func WithMaxItems(n int) Option {
	return func(p *Plugin) { p.maxItems = n }
}

// New constructs an orders plugin instance.
func New(opts ...Option) Plugin {
	p := Plugin{maxItems: DefaultMaxItems}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Name returns the plugin identifier.
func (Plugin) Name() string { return "orders" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return "0.1.0" }

// Register wires the classes, relations and rules of the order model.
func (p Plugin) Register(registry *core.PluginRegistry) error {
	for _, def := range Classes() {
		if err := registry.RegisterClass(def); err != nil {
			return err
		}
	}
	for _, rel := range Relations() {
		registry.RegisterRelation(rel)
	}
	registry.RegisterRule(core.NewRequiredPropertyRule(ClassOrder, "OrderNumber"))
	registry.RegisterRule(core.NewRequiredPropertyRule(ClassOrderItem, "Product"))
	registry.RegisterRule(core.NewCollectionCapacityRule(ClassOrder, PropItems, p.maxItems))
	registry.RegisterRule(quantityRule{})
	return nil
}

// Classes returns the persistent classes of the model.
func Classes() []domain.ClassDefinition {
	return []domain.ClassDefinition{
		{Name: ClassCustomer, Properties: []domain.PropertyDefinition{{Name: "Name"}, {Name: "Email"}}},
		{Name: ClassAddress, Properties: []domain.PropertyDefinition{{Name: "Street"}, {Name: "City"}}},
		{Name: ClassOrder, Properties: []domain.PropertyDefinition{
			{Name: "OrderNumber", Default: int64(0)},
			{Name: "DeliveryDate"},
			{Name: "Status", Default: "open"},
		}},
		{Name: ClassOrderItem, Properties: []domain.PropertyDefinition{
			{Name: "Product"},
			{Name: "Quantity", Default: int64(1)},
			{Name: "Position", Default: int64(0)},
		}},
		{Name: ClassOrderTicket, Properties: []domain.PropertyDefinition{{Name: "FileName"}}},
	}
}

// Relations returns the relations of the model.
func Relations() []domain.RelationDefinition {
	return []domain.RelationDefinition{
		{
			Name:    "order_items",
			Real:    domain.EndPointDefinition{Class: ClassOrderItem, Property: PropOrder},
			Virtual: domain.EndPointDefinition{Class: ClassOrder, Property: PropItems, Cardinality: domain.CardinalityMany},
		},
		{
			Name:    "order_customer",
			Real:    domain.EndPointDefinition{Class: ClassOrder, Property: PropCustomer},
			Virtual: domain.EndPointDefinition{Class: ClassCustomer, Property: PropOrders, Cardinality: domain.CardinalityMany},
		},
		{
			Name:    "order_ticket",
			Real:    domain.EndPointDefinition{Class: ClassOrderTicket, Property: PropOrder},
			Virtual: domain.EndPointDefinition{Class: ClassOrder, Property: PropTicket},
		},
		{
			Name:    "customer_address",
			Real:    domain.EndPointDefinition{Class: ClassCustomer, Property: PropAddress},
			Virtual: domain.EndPointDefinition{Class: ClassAddress},
		},
	}
}

// Mapping builds a standalone mapping of the model.
func Mapping() *domain.Mapping {
	return domain.NewMapping().MustAdd(Classes(), Relations())
}

type quantityRule struct{}

func (quantityRule) Name() string { return "order_item_quantity" }

func (quantityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, ch := range changes {
		if ch.ID.Class != ClassOrderItem || ch.After == nil {
			continue
		}
		q, ok := ch.After.Values["Quantity"].(int64)
		if !ok || q > 0 {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "order_item_quantity",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("quantity must be positive, got %d", q),
			Object:   ch.ID,
		})
	}
	return res, nil
}

// Well-known fixture identities.
var (
	Order1     = domain.MustObjectID(ClassOrder, "1")
	Order2     = domain.MustObjectID(ClassOrder, "2")
	OrderItem1 = domain.MustObjectID(ClassOrderItem, "1")
	OrderItem2 = domain.MustObjectID(ClassOrderItem, "2")
	OrderItem3 = domain.MustObjectID(ClassOrderItem, "3")
	Ticket1    = domain.MustObjectID(ClassOrderTicket, "1")
	Customer1  = domain.MustObjectID(ClassCustomer, "1")
	Address1   = domain.MustObjectID(ClassAddress, "1")
)

// Fixtures returns create changes for a small order graph: Order#1 has one
// item and a ticket, Order#2 has two items, both belong to Customer#1.
func Fixtures() []domain.Change {
	delivery := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []domain.Record{
		{ID: Address1, Values: map[string]any{"Street": "1 Main St", "City": "Springfield"}},
		{ID: Customer1, Values: map[string]any{"Name": "Ada", "Email": "ada@example.com"}, Refs: map[string]domain.ObjectID{PropAddress: Address1}},
		{ID: Order1, Values: map[string]any{"OrderNumber": int64(1), "DeliveryDate": delivery, "Status": "open"}, Refs: map[string]domain.ObjectID{PropCustomer: Customer1}},
		{ID: Order2, Values: map[string]any{"OrderNumber": int64(2), "DeliveryDate": delivery, "Status": "open"}, Refs: map[string]domain.ObjectID{PropCustomer: Customer1}},
		{ID: OrderItem1, Values: map[string]any{"Product": "Mainboard", "Quantity": int64(1), "Position": int64(1)}, Refs: map[string]domain.ObjectID{PropOrder: Order1}},
		{ID: OrderItem2, Values: map[string]any{"Product": "CPU Fan", "Quantity": int64(2), "Position": int64(1)}, Refs: map[string]domain.ObjectID{PropOrder: Order2}},
		{ID: OrderItem3, Values: map[string]any{"Product": "Power Supply", "Quantity": int64(1), "Position": int64(2)}, Refs: map[string]domain.ObjectID{PropOrder: Order2}},
		{ID: Ticket1, Values: map[string]any{"FileName": "order1.pdf"}, Refs: map[string]domain.ObjectID{PropOrder: Order1}},
	}
	changes := make([]domain.Change, 0, len(records))
	for i := range records {
		rec := records[i]
		changes = append(changes, domain.Change{Action: domain.ActionCreate, ID: rec.ID, After: &rec})
	}
	return changes
}

// Seed writes Fixtures to p.
func Seed(ctx context.Context, p domain.Persistence) error {
	return p.Save(ctx, Fixtures())
}
