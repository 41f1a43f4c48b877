package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/pantryhq/pantry/internal/domain"
)

// Mode selects the create or update flavour of a contract.
type Mode int

const (
	ModeCreate Mode = iota
	ModeUpdate
)

func (m Mode) String() string {
	if m == ModeUpdate {
		return "update"
	}
	return "create"
}

// Options configures contract synthesis for one entity.
type Options struct {
	Entity        string
	IdentityField string
	TenantField   string   // empty when the entity has no tenant column
	Omitted       []string // hook-controlled or server-managed fields
	Checks        []Check
}

// Contracts holds the create and update contracts of an entity.
type Contracts struct {
	Create *Contract
	Update *Contract
}

// Contract validates client input for one mode of one entity.
type Contract struct {
	entity   string
	mode     Mode
	order    []string
	fields   map[string]Column
	required map[string]bool
	rejected map[string]string
	checks   []*compiledCheck
}

// FieldInfo describes an accepted input field.
type FieldInfo struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Nullable bool   `json:"nullable"`
	Required bool   `json:"required"`
}

// Synthesize derives the create and update contracts for table.
//
// The identity field, the tenant field and every omitted field are rejected.
// Create requires every remaining NOT NULL column without a default; update
// makes every field optional. Omitted entries that do not exist on the table
// are ignored. The result depends only on table and opts.
func Synthesize(table Table, opts Options) (*Contracts, error) {
	if opts.IdentityField == "" {
		return nil, fmt.Errorf("schema: %s: identity field is required", opts.Entity)
	}
	if _, ok := table.Column(opts.IdentityField); !ok {
		return nil, fmt.Errorf("schema: %s: identity field %q not found on table %s", opts.Entity, opts.IdentityField, table.Name)
	}
	if opts.TenantField != "" {
		if _, ok := table.Column(opts.TenantField); !ok {
			return nil, fmt.Errorf("schema: %s: tenant field %q not found on table %s", opts.Entity, opts.TenantField, table.Name)
		}
	}

	rejected := map[string]string{
		opts.IdentityField: "is generated by the server",
	}
	if opts.TenantField != "" {
		rejected[opts.TenantField] = "is set from the caller's tenant"
	}
	for _, name := range opts.Omitted {
		if _, ok := table.Column(name); !ok {
			continue
		}
		if _, ok := rejected[name]; !ok {
			rejected[name] = "is managed by the server"
		}
	}

	checks, err := compileChecks(opts.Entity, table, opts.Checks)
	if err != nil {
		return nil, err
	}

	build := func(mode Mode) *Contract {
		c := &Contract{
			entity:   opts.Entity,
			mode:     mode,
			fields:   make(map[string]Column),
			required: make(map[string]bool),
			rejected: rejected,
			checks:   checks,
		}
		for _, col := range table.Columns {
			if _, ok := rejected[col.Name]; ok {
				continue
			}
			c.order = append(c.order, col.Name)
			c.fields[col.Name] = col
			if mode == ModeCreate && !col.Nullable && !col.HasDefault {
				c.required[col.Name] = true
			}
		}
		return c
	}

	return &Contracts{Create: build(ModeCreate), Update: build(ModeUpdate)}, nil
}

// Mode returns the contract mode.
func (c *Contract) Mode() Mode {
	return c.mode
}

// Fields lists the accepted input fields in table order.
func (c *Contract) Fields() []FieldInfo {
	out := make([]FieldInfo, 0, len(c.order))
	for _, name := range c.order {
		col := c.fields[name]
		out = append(out, FieldInfo{
			Name:     name,
			Type:     col.Type,
			Nullable: col.Nullable,
			Required: c.required[name],
		})
	}
	return out
}

// Validate checks data against the contract and returns a copy with values
// coerced to their column types. All problems are reported together in a
// *domain.ValidationError.
func (c *Contract) Validate(data domain.Record) (domain.Record, error) {
	problems := make(map[string]string)
	out := make(domain.Record, len(data))

	for name, value := range data {
		if reason, ok := c.rejected[name]; ok {
			problems[name] = "field " + reason + " and cannot be set"
			continue
		}
		col, ok := c.fields[name]
		if !ok {
			problems[name] = "unknown field"
			continue
		}
		coerced, err := Coerce(col, value)
		if err != nil {
			problems[name] = err.Error()
			continue
		}
		out[name] = coerced
	}

	for _, name := range c.order {
		if !c.required[name] {
			continue
		}
		if _, ok := data[name]; !ok {
			problems[name] = "is required"
		}
	}

	if len(problems) == 0 {
		for _, chk := range c.checks {
			if c.mode == ModeUpdate {
				if _, ok := out[chk.field]; !ok {
					continue
				}
			}
			if msg := chk.eval(out); msg != "" {
				problems[chk.field] = msg
			}
		}
	}

	if len(problems) > 0 {
		return nil, &domain.ValidationError{Entity: c.entity, Fields: problems}
	}
	return out, nil
}

// Coerce converts value into the Go representation stored for col.
// Integers become int64, reals float64, dates "2006-01-02" strings and
// timestamps UTC RFC 3339 strings.
func Coerce(col Column, value any) (any, error) {
	if value == nil {
		if col.Nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("must not be null")
	}
	if n, ok := value.(json.Number); ok {
		if col.Type == TypeInteger {
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("must be a number")
		}
		value = f
	}

	switch col.Type {
	case TypeText:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string")
		}
		return s, nil

	case TypeInteger:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != math.Trunc(v) || math.IsInf(v, 0) || math.Abs(v) > 1<<53 {
				return nil, fmt.Errorf("must be a whole number")
			}
			return int64(v), nil
		}
		return nil, fmt.Errorf("must be an integer")

	case TypeReal:
		switch v := value.(type) {
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("must be a finite number")
			}
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
		return nil, fmt.Errorf("must be a number")

	case TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("must be a boolean")
		}
		return b, nil

	case TypeDate:
		switch v := value.(type) {
		case string:
			d, err := time.Parse(time.DateOnly, v)
			if err != nil {
				return nil, fmt.Errorf("must be a date (YYYY-MM-DD)")
			}
			return d.Format(time.DateOnly), nil
		case time.Time:
			return v.Format(time.DateOnly), nil
		}
		return nil, fmt.Errorf("must be a date (YYYY-MM-DD)")

	case TypeTimestamp:
		switch v := value.(type) {
		case string:
			ts, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("must be an RFC 3339 timestamp")
			}
			return ts.UTC().Format(time.RFC3339Nano), nil
		case time.Time:
			return v.UTC().Format(time.RFC3339Nano), nil
		}
		return nil, fmt.Errorf("must be an RFC 3339 timestamp")

	case TypeJSON:
		if _, err := json.Marshal(value); err != nil {
			return nil, fmt.Errorf("must be JSON encodable")
		}
		return value, nil
	}

	return nil, fmt.Errorf("unsupported column type %q", col.Type)
}
