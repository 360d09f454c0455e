package mcon

import (
	"encoding/json"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// BuildOptions controls one Build invocation.
type BuildOptions struct {
	// DryRun logs the build plan without touching the filesystem or
	// the metadata store.
	DryRun bool

	// Jobs is the worker count. Values up to 1 run the sequential
	// path; pass runtime.NumCPU for one worker per logical CPU.
	Jobs int
}

// BuildTargets prepares and builds the given targets.
func (ex *Execution) BuildTargets(targets interface{}, opts BuildOptions) error {
	prepared, err := ex.PrepareBuild(targets)
	if err != nil {
		return err
	}
	return ex.Build(prepared, opts)
}

// Build executes the prepared plan: every node in ToBuild has its
// builder invoked exactly once, in dependency order. With Jobs > 1,
// independent builders run concurrently on a worker pool.
func (ex *Execution) Build(prepared *PreparedBuild, opts BuildOptions) error {
	if len(prepared.ToBuild) == 0 {
		ex.logf("all files up to date")
		return nil
	}
	if opts.DryRun || opts.Jobs <= 1 {
		return ex.buildSequential(prepared, opts.DryRun)
	}
	return ex.buildParallel(prepared, opts.Jobs)
}

func (ex *Execution) buildSequential(p *PreparedBuild, dryRun bool) error {
	built := make(map[Node]bool)
	cache := newMetadataCache()
	for _, n := range p.Ordered {
		if !p.ToBuild[n] || built[n] {
			continue
		}
		b := n.Builder()
		if b == nil {
			continue
		}
		ex.logf("building %s", BuilderString(b))
		for _, out := range b.Builds() {
			built[out] = true
		}
		if dryRun {
			continue
		}
		if err := ex.runBuilder(b, p, cache); err != nil {
			return err
		}
	}
	return nil
}

// runBuilder invokes one builder: pre-build hooks, the build effect,
// post-build verification, and the metadata commit for every entry
// output. Safe for concurrent use across distinct builders.
func (ex *Execution) runBuilder(b Builder, p *PreparedBuild, cache *metadataCache) error {
	outs := b.Builds()
	for _, out := range outs {
		if e, ok := out.(Entry); ok {
			if err := e.remove(); err != nil {
				return xerrors.Errorf("removing %s: %w", nodeDisplay(e), err)
			}
		}
	}
	for _, out := range outs {
		if e, ok := out.(Entry); ok {
			if err := e.prepare(); err != nil {
				return xerrors.Errorf("preparing %s: %w", nodeDisplay(e), err)
			}
		}
	}

	if err := b.Build(); err != nil {
		return xerrors.Errorf("builder %s: %w", BuilderString(b), err)
	}

	for _, out := range outs {
		if e, ok := out.(Entry); ok && !e.Exists() {
			return xerrors.Errorf("builder %s did not output %s: %w", BuilderString(b), nodeDisplay(e), ErrMissingOutput)
		}
	}

	for _, out := range outs {
		e, ok := out.(Entry)
		if !ok {
			continue
		}
		sig, err := cache.signature(p.EntryDeps[e])
		if err != nil {
			return err
		}
		if err := ex.store.Put(e.Path(), sig); err != nil {
			return err
		}
	}
	return nil
}

// metadataCache reads each dependency's observed metadata once per
// execution and reuses it for every signature committed afterwards.
// Scheduler workers share one cache.
type metadataCache struct {
	mu sync.Mutex
	m  map[Entry]json.RawMessage
}

func newMetadataCache() *metadataCache {
	return &metadataCache{m: make(map[Entry]json.RawMessage)}
}

func (c *metadataCache) signature(deps []Entry) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc := make(map[string]json.RawMessage, len(deps))
	for _, e := range deps {
		m, ok := c.m[e]
		if !ok {
			var err error
			if m, err = e.Metadata(); err != nil {
				return nil, err
			}
			c.m[e] = m
		}
		doc[e.Path()] = m
	}
	return json.Marshal(doc)
}

type buildResult struct {
	builder Builder
	err     error
}

func (ex *Execution) buildParallel(p *PreparedBuild, workers int) error {
	// Nodes outside the plan are built by definition: up-to-date
	// outputs and pre-existing inputs alike.
	built := make(map[Node]bool, len(p.Ordered))
	var pending []Node
	for _, n := range p.Ordered {
		if p.ToBuild[n] {
			pending = append(pending, n)
		} else {
			built[n] = true
		}
	}

	claimed := make(map[Node]bool)
	cache := newMetadataCache()

	// Every claim submits one builder, and each pending node claims at
	// most once, so the buffer keeps scheduling non-blocking.
	work := make(chan Builder, len(pending))
	done := make(chan buildResult)

	var eg errgroup.Group
	for i := 0; i < workers; i++ {
		eg.Go(func() error {
			for b := range work {
				ex.logf("building %s", BuilderString(b))
				done <- buildResult{builder: b, err: ex.runBuilder(b, p, cache)}
			}
			return nil
		})
	}

	ready := func(n Node) bool {
		for _, dep := range p.Edges[n] {
			if !built[dep] {
				return false
			}
		}
		return true
	}

	inflight := 0
	schedule := func() error {
		// Builder-less nodes complete instantly and may unblock more
		// work, so scan until a pass makes no progress.
		for progress := true; progress; {
			progress = false
			for _, n := range pending {
				if built[n] || claimed[n] || !ready(n) {
					continue
				}
				b := n.Builder()
				if b == nil {
					built[n] = true
					progress = true
					continue
				}
				// The propagation rules guarantee that when one output
				// of a builder is ready, all of them are.
				for _, sib := range b.Builds() {
					for _, dep := range p.Edges[sib] {
						if !built[dep] {
							return xerrors.Errorf("%s ready but sibling %s waits on %s: %w",
								nodeDisplay(n), nodeDisplay(sib), nodeDisplay(dep), ErrInternal)
						}
					}
				}
				for _, out := range b.Builds() {
					claimed[out] = true
				}
				claimed[n] = true
				inflight++
				work <- b
				progress = true
			}
		}
		return nil
	}

	firstErr := schedule()
	for inflight > 0 {
		res := <-done
		inflight--
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		for _, out := range res.builder.Builds() {
			built[out] = true
		}
		if firstErr == nil {
			if err := schedule(); err != nil {
				firstErr = err
			}
		}
	}
	close(work)
	if err := eg.Wait(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return firstErr
	}

	for _, n := range pending {
		if !built[n] {
			return xerrors.Errorf("%s never became ready: %w", nodeDisplay(n), ErrInternal)
		}
	}
	return nil
}
