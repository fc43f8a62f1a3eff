// Package policy evaluates auto-approval rules for requests.
//
// Rules are CEL expressions over the request's shape; a rule that
// evaluates to true approves the full requested quantities without a
// manual decision. Requests with no matching rule wait for a
// responsible person.
package policy

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"abasto/internal/core/apperror"
	"abasto/internal/core/entity"
	"abasto/internal/domain/documents/request"
)

// Input is the request shape visible to rule expressions.
type Input struct {
	Requester     string
	Reason        string
	LineCount     int
	TotalQuantity float64
	HasAssets     bool
	MaxLineQty    float64
}

// Engine compiles and evaluates approval rules.
type Engine struct {
	env *cel.Env
}

// NewEngine creates the rule environment. The variable set is fixed;
// unknown identifiers fail at compile time, not evaluation time.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("requester", cel.StringType),
		cel.Variable("reason", cel.StringType),
		cel.Variable("line_count", cel.IntType),
		cel.Variable("total_quantity", cel.DoubleType),
		cel.Variable("has_assets", cel.BoolType),
		cel.Variable("max_line_qty", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	return &Engine{env: env}, nil
}

// Rule is a compiled auto-approval expression.
type Rule struct {
	expr    string
	program cel.Program
}

// Compile validates and compiles a rule expression.
// The expression must produce a boolean.
func (e *Engine) Compile(expr string) (*Rule, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, apperror.NewValidation(fmt.Sprintf("invalid approval rule: %v", issues.Err()))
	}
	if ast.OutputType() != cel.BoolType {
		return nil, apperror.NewValidation("approval rule must evaluate to a boolean")
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build rule program: %w", err)
	}
	return &Rule{expr: expr, program: program}, nil
}

// Expr returns the rule source.
func (r *Rule) Expr() string { return r.expr }

// Eval evaluates the rule against one input.
func (r *Rule) Eval(_ context.Context, in Input) (bool, error) {
	out, _, err := r.program.Eval(map[string]any{
		"requester":      in.Requester,
		"reason":         in.Reason,
		"line_count":     int64(in.LineCount),
		"total_quantity": in.TotalQuantity,
		"has_assets":     in.HasAssets,
		"max_line_qty":   in.MaxLineQty,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate approval rule: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("approval rule returned %T, want bool", out.Value())
	}
	return result, nil
}

// InputFromRequest projects a request into rule variables.
// Cancelled lines do not count.
func InputFromRequest(req *request.Request) Input {
	in := Input{
		Requester: req.Requester,
		Reason:    req.Reason,
	}
	for i := range req.Lines {
		line := &req.Lines[i]
		if line.Cancelled {
			continue
		}
		in.LineCount++
		qty := line.Requested.Float64()
		in.TotalQuantity += qty
		if qty > in.MaxLineQty {
			in.MaxLineQty = qty
		}
		if line.Kind == entity.ItemKindAsset {
			in.HasAssets = true
		}
	}
	return in
}

// AutoApprover holds the ordered rule set consulted on submission.
type AutoApprover struct {
	rules []*Rule
}

// NewAutoApprover compiles the given expressions in order.
func NewAutoApprover(engine *Engine, exprs []string) (*AutoApprover, error) {
	rules := make([]*Rule, 0, len(exprs))
	for _, expr := range exprs {
		rule, err := engine.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", expr, err)
		}
		rules = append(rules, rule)
	}
	return &AutoApprover{rules: rules}, nil
}

// ShouldAutoApprove reports whether any rule matches the request.
func (a *AutoApprover) ShouldAutoApprove(ctx context.Context, req *request.Request) (bool, error) {
	if a == nil || len(a.rules) == 0 {
		return false, nil
	}
	in := InputFromRequest(req)
	for _, rule := range a.rules {
		ok, err := rule.Eval(ctx, in)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
