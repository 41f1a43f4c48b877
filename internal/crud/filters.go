package crud

import (
	"sort"
	"strconv"

	"github.com/pantryhq/pantry/internal/domain"
	"github.com/pantryhq/pantry/internal/schema"
)

// parseFilters turns textual equality filters into conditions. The literal
// "null" matches NULL on nullable columns.
func parseFilters(entityName string, table schema.Table, filters map[string]string) ([]domain.Condition, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(filters))
	for name := range filters {
		names = append(names, name)
	}
	sort.Strings(names)

	verr := &domain.ValidationError{Entity: entityName, Fields: map[string]string{}}
	conds := make([]domain.Condition, 0, len(names))
	for _, name := range names {
		raw := filters[name]
		col, ok := table.Column(name)
		if !ok {
			verr.Fields[name] = "unknown field"
			continue
		}
		if raw == "null" && col.Nullable {
			conds = append(conds, domain.IsNull(name))
			continue
		}
		v, err := parseFilterValue(col, raw)
		if err != nil {
			verr.Fields[name] = err.Error()
			continue
		}
		conds = append(conds, domain.Eq(name, v))
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return conds, nil
}

func parseFilterValue(col schema.Column, raw string) (any, error) {
	switch col.Type {
	case schema.TypeInteger:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errNotFilterable("must be an integer")
		}
		return i, nil
	case schema.TypeReal:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errNotFilterable("must be a number")
		}
		return f, nil
	case schema.TypeBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errNotFilterable("must be a boolean")
		}
		return b, nil
	case schema.TypeJSON:
		return nil, errNotFilterable("cannot filter on a JSON field")
	}
	col.Nullable = false
	return schema.Coerce(col, raw)
}

type errNotFilterable string

func (e errNotFilterable) Error() string { return string(e) }
