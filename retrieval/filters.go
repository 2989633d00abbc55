// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"fmt"
	"sort"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
)

// BuildWhere translates the intake filter mapping into the backend's
// predicate schema. Supported per key: scalar equality, in-list via
// []any, and {gte,lte} ranges. Keys combine conjunctively. Returns nil
// for an empty mapping.
func BuildWhere(filterMap map[string]any) (*filters.WhereBuilder, error) {
	if len(filterMap) == 0 {
		return nil, nil
	}

	// Deterministic operand order keeps queries reproducible.
	keys := make([]string, 0, len(filterMap))
	for k := range filterMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var operands []*filters.WhereBuilder
	for _, key := range keys {
		built, err := buildPredicate(key, filterMap[key])
		if err != nil {
			return nil, err
		}
		operands = append(operands, built...)
	}

	if len(operands) == 1 {
		return operands[0], nil
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands), nil
}

func buildPredicate(key string, value any) ([]*filters.WhereBuilder, error) {
	switch v := value.(type) {
	case map[string]any:
		return buildRange(key, v)
	case []any:
		return buildInList(key, v)
	default:
		eq, err := scalarPredicate(key, filters.Equal, v)
		if err != nil {
			return nil, err
		}
		return []*filters.WhereBuilder{eq}, nil
	}
}

func buildRange(key string, bounds map[string]any) ([]*filters.WhereBuilder, error) {
	var out []*filters.WhereBuilder
	for _, b := range []struct {
		name     string
		operator filters.WhereOperator
	}{
		{"gte", filters.GreaterThanEqual},
		{"lte", filters.LessThanEqual},
	} {
		bound, operator := b.name, b.operator
		raw, ok := bounds[bound]
		if !ok {
			continue
		}
		pred, err := scalarPredicate(key, operator, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, pred)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("filter %q: range must provide gte and/or lte", key)
	}
	for bound := range bounds {
		if bound != "gte" && bound != "lte" {
			return nil, fmt.Errorf("filter %q: unsupported range bound %q", key, bound)
		}
	}
	return out, nil
}

func buildInList(key string, values []any) ([]*filters.WhereBuilder, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("filter %q: in-list must not be empty", key)
	}
	switch values[0].(type) {
	case string:
		texts := make([]string, 0, len(values))
		for _, raw := range values {
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("filter %q: mixed-type in-list", key)
			}
			texts = append(texts, s)
		}
		return []*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{key}).
				WithOperator(filters.ContainsAny).
				WithValueText(texts...),
		}, nil
	case float64, int:
		nums := make([]float64, 0, len(values))
		for _, raw := range values {
			n, ok := toFloat(raw)
			if !ok {
				return nil, fmt.Errorf("filter %q: mixed-type in-list", key)
			}
			nums = append(nums, n)
		}
		return []*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{key}).
				WithOperator(filters.ContainsAny).
				WithValueNumber(nums...),
		}, nil
	default:
		return nil, fmt.Errorf("filter %q: unsupported in-list element %T", key, values[0])
	}
}

func scalarPredicate(key string, operator filters.WhereOperator, value any) (*filters.WhereBuilder, error) {
	builder := filters.Where().WithPath([]string{key}).WithOperator(operator)
	switch v := value.(type) {
	case string:
		return builder.WithValueText(v), nil
	case bool:
		return builder.WithValueBoolean(v), nil
	case float64:
		return builder.WithValueNumber(v), nil
	case int:
		return builder.WithValueNumber(float64(v)), nil
	default:
		return nil, fmt.Errorf("filter %q: unsupported value type %T", key, value)
	}
}

func toFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
