package infrastructure

import (
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"ordersaga/internal/service/inventory/domain"
)

// CELPolicy is a domain.FulfillmentPolicy defined by a CEL expression over
// the variables active (bool), stock (int) and quantity (int), e.g.
//
//	active && stock - quantity >= 5
type CELPolicy struct {
	expr    string
	program cel.Program
}

// NewCELPolicy compiles expr once; it must evaluate to a bool.
func NewCELPolicy(expr string) (*CELPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("active", cel.BoolType),
		cel.Variable("stock", cel.IntType),
		cel.Variable("quantity", cel.IntType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel environment")
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile fulfillment rule %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("fulfillment rule %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "build fulfillment rule %q", expr)
	}
	return &CELPolicy{expr: expr, program: program}, nil
}

func (p *CELPolicy) CanFulfill(product *domain.Product, quantity int) (bool, error) {
	out, _, err := p.program.Eval(map[string]any{
		"active":   product.Active,
		"stock":    int64(product.Stock()),
		"quantity": int64(quantity),
	})
	if err != nil {
		return false, errors.Wrapf(err, "evaluate fulfillment rule %q", p.expr)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, errors.Errorf("fulfillment rule %q returned %T", p.expr, out.Value())
	}
	return ok, nil
}

// String returns the source expression.
func (p *CELPolicy) String() string { return p.expr }
