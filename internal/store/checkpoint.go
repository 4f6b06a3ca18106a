package store

import (
	"context"
	"fmt"

	"github.com/roach88/quantflow/internal/ir"
)

// WriteVariables stores the Initial value of every variable that has one.
// Existing rows with the same name are replaced.
func (s *Store) WriteVariables(ctx context.Context, vars []*ir.Variable) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, v := range vars {
		if v.Initial == nil {
			continue
		}
		shape, err := marshalInts(v.Shape)
		if err != nil {
			return fmt.Errorf("variable %q: %w", v.Name, err)
		}
		data, err := marshalTensor(v.Initial)
		if err != nil {
			return fmt.Errorf("variable %q: %w", v.Name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO variables (name, dtype, shape, data)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET dtype = excluded.dtype, shape = excluded.shape, data = excluded.data
		`, v.Name, string(v.DType), shape, data)
		if err != nil {
			return fmt.Errorf("write variable %q: %w", v.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ReadVariables returns every stored variable ordered by name, with
// Initial populated.
func (s *Store) ReadVariables(ctx context.Context) ([]*ir.Variable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, dtype, shape, data
		FROM variables
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query variables: %w", err)
	}
	defer rows.Close()

	var out []*ir.Variable
	for rows.Next() {
		var name, dtype, shape, data string
		if err := rows.Scan(&name, &dtype, &shape, &data); err != nil {
			return nil, fmt.Errorf("scan variable: %w", err)
		}
		dims, err := unmarshalInts(shape)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		t, err := unmarshalTensor(data)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		out = append(out, &ir.Variable{Name: name, DType: ir.DType(dtype), Shape: dims, Initial: t})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variables: %w", err)
	}
	return out, nil
}

// AttachVariables copies stored values onto the matching module variables.
// Returns the names of module variables with no stored value.
func (s *Store) AttachVariables(ctx context.Context, m *ir.Module) ([]string, error) {
	stored, err := s.ReadVariables(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*ir.Tensor, len(stored))
	for _, v := range stored {
		byName[v.Name] = v.Initial
	}

	var missing []string
	for _, v := range m.Variables {
		t, ok := byName[v.Name]
		if !ok {
			missing = append(missing, v.Name)
			continue
		}
		v.Initial = t
	}
	return missing, nil
}
