package scheduler

import (
	"context"
	"sync"

	"github.com/flowmesh/engine/internal/engineerr"
	"github.com/flowmesh/engine/internal/ir"
)

func (rc *runContext) runLoop(ctx context.Context, n *ir.Node) (interface{}, error) {
	switch n.LoopType {
	case ir.LoopWhile:
		return rc.runWhileLoop(ctx, n)
	case ir.LoopFor, ir.LoopMap, ir.LoopFilter, ir.LoopReduce:
		return rc.runCollectionLoop(ctx, n)
	default:
		return nil, engineerr.Compilation("unknown loop type %q", n.LoopType)
	}
}

func (rc *runContext) runWhileLoop(ctx context.Context, n *ir.Node) (interface{}, error) {
	maxIter := rc.sched.cfg.MaxLoopIterations
	if n.Config != nil && n.Config.MaxIterations > 0 {
		maxIter = n.Config.MaxIterations
	}

	var last interface{}
	for i := 0; i < maxIter; i++ {
		vars := rc.record.Variables.GetAll()
		cont, err := rc.sched.evaluator.EvaluateStructuredCondition(n.Condition, vars, nil)
		if err != nil {
			return nil, err
		}
		if !cont {
			if n.OutputVar != "" {
				rc.setOutputVar(ctx, n.ID, n.OutputVar, last)
			}
			return last, nil
		}

		rc.record.Variables.PushScope()
		var bodyErr error
		for _, stepID := range n.Body {
			last, bodyErr = rc.runNode(ctx, stepID)
			if bodyErr != nil {
				break
			}
		}
		_ = rc.record.Variables.PopScope()
		if bodyErr != nil {
			return nil, bodyErr
		}
	}
	return nil, engineerr.LoopLimit(n.ID, maxIter)
}

func (rc *runContext) resolveCollection(n *ir.Node) ([]interface{}, error) {
	if n.Collection == nil {
		return nil, engineerr.Validation("loop", "loop type %q requires a collection", n.LoopType)
	}
	val, err := rc.sched.resolver.ResolveStandalone(*n.Collection, rc.record.Variables, rc.record)
	if err != nil {
		return nil, err
	}
	arr, ok := val.([]interface{})
	if !ok {
		return nil, engineerr.Validation("loop", "collection for node %q did not resolve to an array (got %T)", n.ID, val)
	}
	return arr, nil
}

func (rc *runContext) runCollectionLoop(ctx context.Context, n *ir.Node) (interface{}, error) {
	items, err := rc.resolveCollection(n)
	if err != nil {
		return nil, err
	}

	concurrency := 0
	if n.Config != nil && n.Config.Parallel {
		concurrency = n.Config.Concurrency
		if concurrency == 0 {
			concurrency = len(items)
		}
	}

	runItem := func(idx int, item interface{}) (interface{}, error) {
		rc.record.Variables.PushScope()
		defer rc.record.Variables.PopScope()
		if n.IteratorVar != "" {
			rc.record.Variables.Set(n.IteratorVar, item)
		}
		var last interface{}
		for _, stepID := range n.Body {
			out, err := rc.runNode(ctx, stepID)
			if err != nil {
				return nil, err
			}
			last = out
		}
		return last, nil
	}

	switch n.LoopType {
	case ir.LoopReduce:
		acc := interface{}(nil)
		if n.Accumulator != nil {
			acc, err = rc.sched.resolver.ResolveStandalone(*n.Accumulator, rc.record.Variables, rc.record)
			if err != nil {
				return nil, err
			}
		}
		for _, item := range items {
			rc.record.Variables.PushScope()
			rc.record.Variables.Set("acc", acc)
			if n.IteratorVar != "" {
				rc.record.Variables.Set(n.IteratorVar, item)
			}
			var last interface{}
			var bodyErr error
			for _, stepID := range n.Body {
				last, bodyErr = rc.runNode(ctx, stepID)
				if bodyErr != nil {
					break
				}
			}
			rc.record.Variables.PopScope()
			if bodyErr != nil {
				return nil, bodyErr
			}
			acc = last
		}
		if n.OutputVar != "" {
			rc.setOutputVar(ctx, n.ID, n.OutputVar, acc)
		}
		return acc, nil

	case ir.LoopMap:
		out := make([]interface{}, len(items))
		if concurrency > 0 {
			if err := rc.runIndexedConcurrent(ctx, items, concurrency, func(i int, item interface{}) error {
				v, err := runItem(i, item)
				if err != nil {
					return err
				}
				out[i] = v // index-preserving: never appended, so order is
				// preserved under config.parallel regardless of completion order.
				return nil
			}); err != nil {
				return nil, err
			}
		} else {
			for i, item := range items {
				v, err := runItem(i, item)
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
		}
		if n.OutputVar != "" {
			rc.setOutputVar(ctx, n.ID, n.OutputVar, out)
		}
		return out, nil

	case ir.LoopFilter:
		kept := make([]interface{}, len(items))
		keepFlags := make([]bool, len(items))
		runFilterItem := func(i int, item interface{}) error {
			v, err := runItem(i, item)
			if err != nil {
				return err
			}
			if truthy(v) {
				kept[i] = item
				keepFlags[i] = true
			}
			return nil
		}
		if concurrency > 0 {
			if err := rc.runIndexedConcurrent(ctx, items, concurrency, runFilterItem); err != nil {
				return nil, err
			}
		} else {
			for i, item := range items {
				if err := runFilterItem(i, item); err != nil {
					return nil, err
				}
			}
		}
		out := make([]interface{}, 0, len(items))
		for i, keep := range keepFlags {
			if keep {
				out = append(out, kept[i])
			}
		}
		if n.OutputVar != "" {
			rc.setOutputVar(ctx, n.ID, n.OutputVar, out)
		}
		return out, nil

	default: // "for": run body per item, return last item's output
		var last interface{}
		for i, item := range items {
			v, err := runItem(i, item)
			if err != nil {
				return nil, err
			}
			last = v
		}
		if n.OutputVar != "" {
			rc.setOutputVar(ctx, n.ID, n.OutputVar, last)
		}
		return last, nil
	}
}

func (rc *runContext) runIndexedConcurrent(ctx context.Context, items []interface{}, concurrency int, fn func(i int, item interface{}) error) error {
	sem := make(chan struct{}, concurrency)
	errs := make(chan error, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(idx int, it interface{}) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			errs <- fn(idx, it)
		}(i, item)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case map[string]interface{}:
		return len(t) > 0
	case []interface{}:
		return len(t) > 0
	default:
		return true
	}
}
