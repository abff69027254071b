package scheduler

import (
	"context"
	"sync"

	"github.com/flowmesh/engine/internal/engineerr"
	"github.com/flowmesh/engine/internal/ir"
)

type branchResult struct {
	index int
	value interface{}
	err   error
}

type outputVarCtxKey struct{}

// outputVarTracker detects sibling parallel branches writing the same
// outputVar name, so runTool can warn instead of silently letting the last
// finisher clobber the others.
type outputVarTracker struct {
	mu     sync.Mutex
	owners map[string]string // outputVar name -> node id that last claimed it
}

// claim records that nodeID wrote name, returning the previous claimant's
// node id if another node already claimed the same name.
func (t *outputVarTracker) claim(name, nodeID string) (prevNodeID string, collided bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.owners[name]
	t.owners[name] = nodeID
	if ok && prev != nodeID {
		return prev, true
	}
	return "", false
}

func withOutputVarTracker(ctx context.Context) context.Context {
	return context.WithValue(ctx, outputVarCtxKey{}, &outputVarTracker{owners: make(map[string]string)})
}

func outputVarTrackerFrom(ctx context.Context) (*outputVarTracker, bool) {
	t, ok := ctx.Value(outputVarCtxKey{}).(*outputVarTracker)
	return t, ok
}

func (rc *runContext) runParallel(ctx context.Context, n *ir.Node) (interface{}, error) {
	concurrency := rc.sched.cfg.DefaultConcurrency
	if n.Config != nil && n.Config.Concurrency > 0 {
		concurrency = n.Config.Concurrency
	}

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	branchCtx = withOutputVarTracker(branchCtx)

	results := make(chan branchResult, len(n.Branches))
	var sem chan struct{}
	if concurrency > 0 {
		sem = make(chan struct{}, concurrency)
	}

	var wg sync.WaitGroup
	for i, branch := range n.Branches {
		wg.Add(1)
		go func(idx int, steps []string) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			var last interface{}
			var err error
			for _, stepID := range steps {
				last, err = rc.runNode(branchCtx, stepID)
				if err != nil {
					break
				}
			}
			results <- branchResult{index: idx, value: last, err: err}
		}(i, branch)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([]branchResult, len(n.Branches))
	received := 0

	switch n.JoinStrategy {
	case ir.JoinRace:
		var winner *branchResult
		var firstErr error
		for res := range results {
			received++
			if res.err == nil && winner == nil {
				w := res
				winner = &w
				cancel()
			} else if res.err != nil && firstErr == nil {
				firstErr = res.err
			}
			if winner != nil && received == len(n.Branches) {
				break
			}
		}
		if winner != nil {
			return winner.value, nil
		}
		if firstErr == nil {
			firstErr = engineerr.Execution(n.ID, nil)
		}
		return nil, firstErr

	case ir.JoinSettled:
		for res := range results {
			ordered[res.index] = res
		}
		out := make([]map[string]interface{}, len(ordered))
		for i, res := range ordered {
			if res.err != nil {
				out[i] = map[string]interface{}{"err": res.err.Error()}
			} else {
				out[i] = map[string]interface{}{"ok": true, "value": res.value}
			}
		}
		return out, nil

	default: // JoinAll
		var firstErr error
		for res := range results {
			ordered[res.index] = res
			if res.err != nil && firstErr == nil {
				firstErr = res.err
				cancel()
			}
		}
		if firstErr != nil {
			return nil, firstErr
		}
		out := make([]interface{}, len(ordered))
		for i, res := range ordered {
			out[i] = res.value
		}
		if n.OutputVar != "" {
			rc.setOutputVar(ctx, n.ID, n.OutputVar, out)
		}
		return out, nil
	}
}
