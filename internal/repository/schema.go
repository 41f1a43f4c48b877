package repository

// Schema definitions for the Pantry database.
// Compatible with both SQLite and PostgreSQL. Dates, timestamps and JSON are
// written as text by the store, so the declared type names only drive the
// column metadata reported back to the entity registry.

const schemaUnits = `
CREATE TABLE IF NOT EXISTS units (
    unit_id TEXT PRIMARY KEY,
    code TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_units_code ON units(code);
`

const schemaDiets = `
CREATE TABLE IF NOT EXISTS diets (
    diet_id TEXT PRIMARY KEY,
    tenant_id TEXT,
    code TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    texture TEXT,
    restrictions JSON,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_diets_tenant ON diets(tenant_id);
CREATE UNIQUE INDEX IF NOT EXISTS ux_diets_code ON diets(tenant_id, code);
`

const schemaDiners = `
CREATE TABLE IF NOT EXISTS diners (
    diner_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    room TEXT,
    current_diet_id TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    admitted_on DATE,
    discharged_on DATE,
    notes TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_diners_tenant ON diners(tenant_id);
CREATE INDEX IF NOT EXISTS idx_diners_status ON diners(tenant_id, status);
`

// schemaDietAssignments holds the append-only diet history. The partial
// unique index allows at most one open assignment per diner.
const schemaDietAssignments = `
CREATE TABLE IF NOT EXISTS diet_assignments (
    assignment_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    diner_id TEXT NOT NULL,
    diet_id TEXT NOT NULL,
    effective_date DATE NOT NULL,
    end_date DATE,
    reason TEXT,
    created_by TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_diet_assignments_diner ON diet_assignments(tenant_id, diner_id);
CREATE UNIQUE INDEX IF NOT EXISTS ux_diet_assignments_open ON diet_assignments(diner_id) WHERE end_date IS NULL;
`

const schemaIngredients = `
CREATE TABLE IF NOT EXISTS ingredients (
    ingredient_id TEXT PRIMARY KEY,
    tenant_id TEXT,
    name TEXT NOT NULL,
    category TEXT,
    unit_id TEXT,
    allergens JSON,
    cost_per_unit DOUBLE PRECISION,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ingredients_tenant ON ingredients(tenant_id);
`

const schemaRecipes = `
CREATE TABLE IF NOT EXISTS recipes (
    recipe_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    diet_id TEXT,
    servings INTEGER NOT NULL DEFAULT 1,
    instructions TEXT,
    ingredients JSON,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recipes_tenant ON recipes(tenant_id);
`

const schemaVendors = `
CREATE TABLE IF NOT EXISTS vendors (
    vendor_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    contact_email TEXT,
    phone TEXT,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vendors_tenant ON vendors(tenant_id);
`

const schemaInventoryItems = `
CREATE TABLE IF NOT EXISTS inventory_items (
    item_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    ingredient_id TEXT,
    name TEXT NOT NULL,
    quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
    unit_id TEXT,
    reorder_level DOUBLE PRECISION,
    location TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_inventory_items_tenant ON inventory_items(tenant_id);
`

const schemaPurchaseOrders = `
CREATE TABLE IF NOT EXISTS purchase_orders (
    order_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    vendor_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    ordered_on DATE,
    expected_on DATE,
    total_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_purchase_orders_tenant ON purchase_orders(tenant_id);
`

const schemaPurchaseOrderLines = `
CREATE TABLE IF NOT EXISTS purchase_order_lines (
    line_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    order_id TEXT NOT NULL,
    ingredient_id TEXT,
    description TEXT,
    quantity DOUBLE PRECISION NOT NULL,
    unit_price DOUBLE PRECISION NOT NULL,
    line_total DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_purchase_order_lines_order ON purchase_order_lines(tenant_id, order_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaUnits,
		schemaDiets,
		schemaDiners,
		schemaDietAssignments,
		schemaIngredients,
		schemaRecipes,
		schemaVendors,
		schemaInventoryItems,
		schemaPurchaseOrders,
		schemaPurchaseOrderLines,
	}
}
