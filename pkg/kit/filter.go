package kit

import (
	"strings"

	"github.com/google/cel-go/cel"
)

// txFilter wraps a compiled CEL program evaluated against each fetched
// transaction. When disabled, Eval always returns true.
//
// Variables: author (string), ts_ms (int), mirrored (bool), changes (int),
// entities (list of string).
type txFilter struct {
	prog    cel.Program
	enabled bool
}

func newTxFilter(expr string) (txFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return txFilter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("author", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("mirrored", cel.BoolType),
		cel.Variable("changes", cel.IntType),
		cel.Variable("entities", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return txFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return txFilter{}, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return txFilter{}, configErrorf("filter %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return txFilter{}, err
	}
	return txFilter{prog: prog, enabled: true}, nil
}

// Eval reports whether tx passes the filter. Evaluation errors exclude tx.
func (f txFilter) Eval(tx Transaction) bool {
	if !f.enabled {
		return true
	}
	entities := make([]string, 0, len(tx.Changes))
	seen := make(map[string]struct{}, len(tx.Changes))
	for _, c := range tx.Changes {
		if _, ok := seen[c.Entity]; ok {
			continue
		}
		seen[c.Entity] = struct{}{}
		entities = append(entities, c.Entity)
	}
	out, _, err := f.prog.Eval(map[string]any{
		"author":   tx.Author,
		"ts_ms":    tx.Timestamp.UnixMilli(),
		"mirrored": tx.Mirrored,
		"changes":  int64(len(tx.Changes)),
		"entities": entities,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
