package edmpath

// SearchConfig bounds a resolution. A zero field means the bound is not set.
type SearchConfig struct {
	// MongoPathMaxDepth is the maximum number of segments in a physical
	// path.
	MongoPathMaxDepth int

	// MaxCircularLimitPerEdmPath is the default number of times a single
	// circular property may be unrolled in one resolution.
	MaxCircularLimitPerEdmPath int

	// MaxCircularLimitForAllEdmPaths caps the unrolls of all circular
	// properties together in one resolution.
	MaxCircularLimitForAllEdmPaths int
}

// Resolution is the outcome of resolving a logical path.
type Resolution struct {
	EdmPath   string
	MongoPath string

	// Unrolls is the number of circular unrolls the resolution took.
	Unrolls int

	// Key reports whether the property reached is part of the entity key.
	Key bool
}

// Resolver resolves logical paths against a compiled table. A Resolver
// holds no mutable state and may be shared between goroutines.
type Resolver struct {
	table *Table
}

// NewResolver returns a resolver over t.
func NewResolver(t *Table) *Resolver {
	return &Resolver{table: t}
}

// Table returns the compiled table.
func (r *Resolver) Table() *Table {
	return r.table
}

// Collection returns the target collection.
func (r *Resolver) Collection() string {
	return r.table.collection
}

// unrollState is the per-call accounting. Each unroll produces a new state;
// states are never shared between calls.
type unrollState struct {
	counts map[string]int
	seen   map[string]struct{}
	total  int
}

func (st unrollState) unrolled(edmPath, rewritten string) unrollState {
	next := unrollState{
		counts: make(map[string]int, len(st.counts)+1),
		seen:   make(map[string]struct{}, len(st.seen)+1),
		total:  st.total + 1,
	}
	for k, v := range st.counts {
		next.counts[k] = v
	}
	for k := range st.seen {
		next.seen[k] = struct{}{}
	}
	next.counts[edmPath]++
	next.seen[rewritten] = struct{}{}
	return next
}

// Resolve returns the physical path for edmPath.
func (r *Resolver) Resolve(edmPath string, cfg SearchConfig) (Resolution, error) {
	p := NormalizeEdmPath(edmPath)
	if p == "" {
		return Resolution{}, invalidPath(edmPath, "empty path")
	}

	hit, st, err := r.resolve(p, cfg, unrollState{})
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{EdmPath: p, MongoPath: hit.mongoPath, Unrolls: st.total, Key: hit.key}, nil
}

type hit struct {
	mongoPath string
	key       bool
}

func (r *Resolver) resolve(path string, cfg SearchConfig, st unrollState) (hit, unrollState, error) {
	if e, ok := r.table.entries[path]; ok {
		if err := checkDepth(e.MongoPath, path, cfg); err != nil {
			return hit{}, st, err
		}
		return hit{mongoPath: e.MongoPath, key: e.Key}, st, nil
	}

	base, ok := r.table.longestPrefix(path)
	if !ok {
		return hit{}, st, invalidPath(path, "no such property")
	}
	if path[len(base.EdmPath):len(base.EdmPath)+1] != EdmSeparator {
		return hit{}, st, invalidPath(path, "no such property")
	}

	anchorPath, ok := base.Anchor()
	if !ok {
		return hit{}, st, invalidPath(path, "%q has no property %q",
			base.EdmPath, path[len(base.EdmPath)+1:])
	}

	anchor, ok := r.table.node(anchorPath)
	if !ok {
		return hit{}, st, &Error{
			Kind:          KindInvalidAnchorPath,
			EdmPath:       base.EdmPath,
			AnchorEdmPath: anchorPath,
		}
	}

	// Unrolling appends at least one segment to the base.
	if maxDepth := cfg.MongoPathMaxDepth; maxDepth > 0 && base.Depth()+1 > maxDepth {
		return hit{}, st, &Error{
			Kind:      KindMaxPhysicalDepthExceeded,
			EdmPath:   path,
			MongoPath: base.MongoPath,
			Limit:     maxDepth,
		}
	}

	if limit := perPathLimit(base, cfg); limit > 0 && st.counts[base.EdmPath] >= limit {
		return hit{}, st, &Error{
			Kind:          KindPerAnchorCycleLimitExceeded,
			EdmPath:       base.EdmPath,
			AnchorEdmPath: anchorPath,
			Limit:         limit,
		}
	}
	if limit := cfg.MaxCircularLimitForAllEdmPaths; limit > 0 && st.total >= limit {
		return hit{}, st, &Error{
			Kind:    KindTotalCycleLimitExceeded,
			EdmPath: path,
			Limit:   limit,
		}
	}

	// Jump back to the anchor and continue from there.
	rewritten := anchorPath + path[len(base.EdmPath):]
	if _, loop := st.seen[rewritten]; loop {
		return hit{}, st, invalidPath(path, "circular reference %q does not converge", base.EdmPath)
	}

	// The rewritten path sits at the anchor's position, so only the
	// caller's path is depth checked.
	inner := cfg
	inner.MongoPathMaxDepth = 0

	child, next, err := r.resolve(rewritten, inner, st.unrolled(base.EdmPath, rewritten))
	if err != nil {
		return hit{}, st, err
	}

	suffix, ok := trimPhysicalPrefix(child.mongoPath, anchor.MongoPath)
	if !ok {
		return hit{}, st, invalidPath(path, "mongo path %q is not below anchor %q (%q)",
			child.mongoPath, anchorPath, anchor.MongoPath)
	}

	out := joinPhysical(base.MongoPath, suffix)
	if err := checkDepth(out, path, cfg); err != nil {
		return hit{}, st, err
	}
	return hit{mongoPath: out, key: child.key}, next, nil
}

// perPathLimit is the smaller of the entry's own limit and the default,
// ignoring whichever is not set.
func perPathLimit(e Entry, cfg SearchConfig) int {
	own, def := e.MaxCircularLimitPerEdmPath, cfg.MaxCircularLimitPerEdmPath
	switch {
	case own > 0 && def > 0:
		if own < def {
			return own
		}
		return def
	case own > 0:
		return own
	default:
		return def
	}
}

func checkDepth(mongoPath, edmPath string, cfg SearchConfig) error {
	if maxDepth := cfg.MongoPathMaxDepth; maxDepth > 0 && physicalDepth(mongoPath) > maxDepth {
		return &Error{
			Kind:      KindMaxPhysicalDepthExceeded,
			EdmPath:   edmPath,
			MongoPath: mongoPath,
			Limit:     maxDepth,
		}
	}
	return nil
}
