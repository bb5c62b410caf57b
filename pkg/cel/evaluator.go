package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"telenotify/pkg/models"
)

// Evaluator compiles boolean CEL expressions over alerts. Expressions see the variables
// id, origin_id, event_type, timestamp, payload and metadata.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("origin_id", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("timestamp", cel.TimestampType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	_, err := e.compile(expression)
	return err
}

func (e *Evaluator) compile(expression string) (*cel.Ast, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return ast, nil
}

// Filter is a compiled boolean expression. It is safe for concurrent use.
type Filter struct {
	expression string
	program    cel.Program
}

func (e *Evaluator) CompileFilter(expression string) (*Filter, error) {
	ast, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Filter{expression: expression, program: program}, nil
}

func (e *Evaluator) EvaluateFilter(ctx context.Context, expression string, alert models.AlertEvent) (bool, error) {
	f, err := e.CompileFilter(expression)
	if err != nil {
		return false, err
	}
	return f.Evaluate(ctx, alert)
}

func (f *Filter) Expression() string {
	return f.expression
}

func (f *Filter) Evaluate(ctx context.Context, alert models.AlertEvent) (bool, error) {
	payload := alert.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}

	vars := map[string]interface{}{
		"id":         alert.ID,
		"origin_id":  alert.OriginID,
		"event_type": alert.EventType,
		"timestamp":  alert.Timestamp,
		"payload":    payload,
		"metadata":   metadataToMap(alert.Metadata),
	}

	result, _, err := f.program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

func metadataToMap(metadata models.Metadata) map[string]interface{} {
	result := make(map[string]interface{})

	if metadata.TraceID != "" {
		result["trace_id"] = metadata.TraceID
	}
	if metadata.CorrelationID != "" {
		result["correlation_id"] = metadata.CorrelationID
	}
	if metadata.Version != "" {
		result["version"] = metadata.Version
	}

	if metadata.Deduplication != nil {
		result["deduplication"] = map[string]interface{}{
			"is_unique":  metadata.Deduplication.IsUnique,
			"checked_at": metadata.Deduplication.CheckedAt,
		}
	}

	return result
}
