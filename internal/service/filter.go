package service

import (
	"fmt"

	"sentimatrix-automation/internal/core/domain"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
)

const filterCacheSize = 512

// FilterEvaluator runs per-webhook filter expressions against events.
// Compiled programs are cached by expression text.
type FilterEvaluator struct {
	programs *lru.Cache[string, *vm.Program]
}

// NewFilterEvaluator creates an evaluator with a bounded program cache.
func NewFilterEvaluator() *FilterEvaluator {
	cache, err := lru.New[string, *vm.Program](filterCacheSize)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &FilterEvaluator{programs: cache}
}

// Compile checks that expression is a boolean expression over the event
// fields (event, user_id, project_id, project_name, job_id, data).
func (f *FilterEvaluator) Compile(expression string) (*vm.Program, error) {
	if prog, ok := f.programs.Get(expression); ok {
		return prog, nil
	}
	prog, err := expr.Compile(expression, expr.Env(filterEnv(&domain.Event{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	f.programs.Add(expression, prog)
	return prog, nil
}

// Match reports whether e passes the filter. A nil or empty filter matches everything.
func (f *FilterEvaluator) Match(filter *string, e *domain.Event) (bool, error) {
	if filter == nil || *filter == "" {
		return true, nil
	}
	prog, err := f.Compile(*filter)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(prog, filterEnv(e))
	if err != nil {
		return false, fmt.Errorf("evaluate filter: %w", err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("filter did not return bool")
	}
	return ok, nil
}

func filterEnv(e *domain.Event) map[string]any {
	jobID := ""
	if e.JobID != nil {
		jobID = *e.JobID
	}
	return map[string]any{
		"event":        string(e.Type),
		"user_id":      e.UserID,
		"project_id":   e.EntityID,
		"project_name": e.EntityName,
		"job_id":       jobID,
		"data":         e.PayloadData(),
	}
}
