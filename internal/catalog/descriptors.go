package catalog

import (
	"github.com/pantryhq/pantry/internal/domain"
	"github.com/pantryhq/pantry/internal/entity"
	"github.com/pantryhq/pantry/internal/schema"
)

// Entity names.
const (
	Units              = "units"
	Diets              = "diets"
	Diners             = "diners"
	Ingredients        = "ingredients"
	Recipes            = "recipes"
	Vendors            = "vendors"
	InventoryItems     = "inventory_items"
	PurchaseOrders     = "purchase_orders"
	PurchaseOrderLines = "purchase_order_lines"
)

var timestamps = []schema.Column{
	schema.Timestamp("created_at"),
	schema.Timestamp("updated_at"),
}

var auditOmitted = []string{"created_at", "updated_at"}

func columns(cols ...schema.Column) []schema.Column {
	return append(cols, timestamps...)
}

func omitted(extra ...string) []string {
	return append(append([]string{}, auditOmitted...), extra...)
}

// UnitsDescriptor describes units of measure. Units are shared reference
// data readable without a tenant.
func UnitsDescriptor() entity.Descriptor {
	return entity.Descriptor{
		Name:  Units,
		Table: "units",
		Columns: []schema.Column{
			schema.Text("unit_id").Key(),
			schema.Text("code"),
			schema.Text("name"),
			schema.Text("kind").Null(),
		},
		IdentityField: "unit_id",
		IDPrefix:      "UNIT",
		TenantMode:    entity.TenantNone,
		Visibility:    entity.Public,
		OrderBy:       []domain.Order{{Column: "code"}},
	}
}

// DietsDescriptor describes diets. System diets carry a NULL tenant and are
// visible to every tenant but writable by none.
func DietsDescriptor() entity.Descriptor {
	return entity.Descriptor{
		Name:  Diets,
		Table: "diets",
		Columns: columns(
			schema.Text("diet_id").Key(),
			schema.Text("tenant_id").Null(),
			schema.Text("code"),
			schema.Text("name"),
			schema.Text("description").Null(),
			schema.Text("texture").Null(),
			schema.JSON("restrictions").Null(),
			schema.Bool("active").Default(),
		),
		IdentityField: "diet_id",
		IDPrefix:      "DIET",
		TenantField:   "tenant_id",
		TenantMode:    entity.TenantOptional,
		Omitted:       omitted(),
		Checks: []schema.Check{{
			Field:   "code",
			Expr:    `row.code.matches('^[A-Z0-9_]+$')`,
			Message: "must be upper-case letters, digits or underscores",
		}},
		OrderBy: []domain.Order{{Column: "code"}},
	}
}

// DinersDescriptor describes diners. The current diet may only be set on
// create; afterwards it follows the diet log.
func DinersDescriptor() entity.Descriptor {
	return entity.Descriptor{
		Name:  Diners,
		Table: "diners",
		Columns: columns(
			schema.Text("diner_id").Key(),
			schema.Text("tenant_id"),
			schema.Text("name"),
			schema.Text("room").Null(),
			schema.Text("current_diet_id").Null(),
			schema.Text("status").Default(),
			schema.Date("admitted_on").Null(),
			schema.Date("discharged_on").Null(),
			schema.Text("notes").Null(),
		),
		IdentityField: "diner_id",
		IDPrefix:      "DNR",
		TenantField:   "tenant_id",
		TenantMode:    entity.TenantRequired,
		Omitted:       omitted("status", "discharged_on"),
		OrderBy:       []domain.Order{{Column: "name"}},
	}
}

// IngredientsDescriptor describes ingredients. Like diets, a NULL tenant
// marks a shared ingredient.
func IngredientsDescriptor() entity.Descriptor {
	return entity.Descriptor{
		Name:  Ingredients,
		Table: "ingredients",
		Columns: columns(
			schema.Text("ingredient_id").Key(),
			schema.Text("tenant_id").Null(),
			schema.Text("name"),
			schema.Text("category").Null(),
			schema.Text("unit_id").Null(),
			schema.JSON("allergens").Null(),
			schema.Real("cost_per_unit").Null(),
		),
		IdentityField: "ingredient_id",
		IDPrefix:      "ING",
		TenantField:   "tenant_id",
		TenantMode:    entity.TenantOptional,
		Omitted:       omitted(),
		Checks: []schema.Check{{
			Field:   "cost_per_unit",
			Expr:    `!has(row.cost_per_unit) || row.cost_per_unit == null || row.cost_per_unit >= 0.0`,
			Message: "must not be negative",
		}},
		OrderBy: []domain.Order{{Column: "name"}},
	}
}

func RecipesDescriptor() entity.Descriptor {
	return entity.Descriptor{
		Name:  Recipes,
		Table: "recipes",
		Columns: columns(
			schema.Text("recipe_id").Key(),
			schema.Text("tenant_id"),
			schema.Text("name"),
			schema.Text("diet_id").Null(),
			schema.Int("servings").Default(),
			schema.Text("instructions").Null(),
			schema.JSON("ingredients").Null(),
		),
		IdentityField: "recipe_id",
		IDPrefix:      "RCP",
		TenantField:   "tenant_id",
		TenantMode:    entity.TenantRequired,
		Omitted:       omitted(),
		Checks: []schema.Check{{
			Field:   "servings",
			Expr:    `!has(row.servings) || row.servings > 0`,
			Message: "must be at least 1",
		}},
		OrderBy: []domain.Order{{Column: "name"}},
	}
}

func VendorsDescriptor() entity.Descriptor {
	return entity.Descriptor{
		Name:  Vendors,
		Table: "vendors",
		Columns: columns(
			schema.Text("vendor_id").Key(),
			schema.Text("tenant_id"),
			schema.Text("name"),
			schema.Text("contact_email").Null(),
			schema.Text("phone").Null(),
			schema.Bool("active").Default(),
		),
		IdentityField: "vendor_id",
		IDPrefix:      "VEN",
		TenantField:   "tenant_id",
		TenantMode:    entity.TenantRequired,
		Omitted:       omitted(),
		Checks: []schema.Check{{
			Field:   "contact_email",
			Expr:    `!has(row.contact_email) || row.contact_email == null || row.contact_email.contains('@')`,
			Message: "must be an email address",
		}},
		OrderBy: []domain.Order{{Column: "name"}},
	}
}

// InventoryItemsDescriptor describes stock on hand. Quantities never go
// negative.
func InventoryItemsDescriptor() entity.Descriptor {
	return entity.Descriptor{
		Name:  InventoryItems,
		Table: "inventory_items",
		Columns: columns(
			schema.Text("item_id").Key(),
			schema.Text("tenant_id"),
			schema.Text("ingredient_id").Null(),
			schema.Text("name"),
			schema.Real("quantity").Default(),
			schema.Text("unit_id").Null(),
			schema.Real("reorder_level").Null(),
			schema.Text("location").Null(),
		),
		IdentityField: "item_id",
		IDPrefix:      "INV",
		TenantField:   "tenant_id",
		TenantMode:    entity.TenantRequired,
		Omitted:       omitted(),
		Checks: []schema.Check{
			{
				Field:   "quantity",
				Expr:    `!has(row.quantity) || row.quantity >= 0.0`,
				Message: "must not be negative",
			},
			{
				Field:   "reorder_level",
				Expr:    `!has(row.reorder_level) || row.reorder_level == null || row.reorder_level >= 0.0`,
				Message: "must not be negative",
			},
		},
		OrderBy: []domain.Order{{Column: "name"}},
	}
}

// PurchaseOrdersDescriptor describes purchase orders. total_cost is the
// rollup of the order's lines and is never written by clients.
func PurchaseOrdersDescriptor() entity.Descriptor {
	return entity.Descriptor{
		Name:  PurchaseOrders,
		Table: "purchase_orders",
		Columns: columns(
			schema.Text("order_id").Key(),
			schema.Text("tenant_id"),
			schema.Text("vendor_id"),
			schema.Text("status").Default(),
			schema.Date("ordered_on").Null(),
			schema.Date("expected_on").Null(),
			schema.Real("total_cost").Default(),
		),
		IdentityField: "order_id",
		IDPrefix:      "PO",
		TenantField:   "tenant_id",
		TenantMode:    entity.TenantRequired,
		Omitted:       omitted("total_cost"),
		Checks: []schema.Check{{
			Field:   "status",
			Expr:    `!has(row.status) || row.status in ['draft', 'submitted', 'received', 'cancelled']`,
			Message: "must be one of draft, submitted, received, cancelled",
		}},
		OrderBy: []domain.Order{{Column: "created_at", Desc: true}},
	}
}

// PurchaseOrderLinesDescriptor describes order lines. line_total is
// computed from quantity and unit_price.
func PurchaseOrderLinesDescriptor() entity.Descriptor {
	return entity.Descriptor{
		Name:  PurchaseOrderLines,
		Table: "purchase_order_lines",
		Columns: columns(
			schema.Text("line_id").Key(),
			schema.Text("tenant_id"),
			schema.Text("order_id"),
			schema.Text("ingredient_id").Null(),
			schema.Text("description").Null(),
			schema.Real("quantity"),
			schema.Real("unit_price"),
			schema.Real("line_total").Default(),
		),
		IdentityField: "line_id",
		IDPrefix:      "POL",
		TenantField:   "tenant_id",
		TenantMode:    entity.TenantRequired,
		Omitted:       omitted("line_total"),
		Checks: []schema.Check{
			{Field: "quantity", Expr: `!has(row.quantity) || row.quantity > 0.0`, Message: "must be positive"},
			{Field: "unit_price", Expr: `!has(row.unit_price) || row.unit_price >= 0.0`, Message: "must not be negative"},
		},
	}
}
