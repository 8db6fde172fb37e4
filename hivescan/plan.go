package hivescan

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"
)

// -----------------------------------------------------------------------------
// Query
// -----------------------------------------------------------------------------

// Query describes one scan invocation: an optional predicate, an optional
// projection, and an optional row limit. A plan is a pure function of the
// query, so callers may hold one Scan and re-plan per distinct query.
type Query struct {
	// Predicate filters output rows. Subexpressions over partition keys
	// prune whole files; the full predicate is still applied row-wise to
	// whatever is materialized, so unknowns never leak rows.
	Predicate Expr

	// Projection lists the desired output columns, in output order.
	// Nil selects every column in default order (physical columns first,
	// then unshadowed partition keys).
	Projection []string

	// Limit caps the number of output rows. Nil means no limit; a zero
	// limit yields the full output schema with no rows.
	Limit *int64
}

// RowLimit is a convenience for populating Query.Limit.
func RowLimit(n int64) *int64 { return &n }

// -----------------------------------------------------------------------------
// Plans
// -----------------------------------------------------------------------------

// FilePlan is the per-file execution decision for one retained file.
type FilePlan struct {
	// File is the retained entry.
	File FileEntry

	// ReadColumns are the physical columns the reader must materialize.
	// Nil reads all; empty non-nil reads none (row count only).
	ReadColumns []string

	// HiveColumns are the unshadowed partition keys to broadcast across
	// the file's rows, in hive schema order.
	HiveColumns []string

	// RowGroups restricts which row groups must be read. Nil reads all.
	RowGroups *roaring.Bitmap

	// Limit truncates the file's rows after row-group selection.
	// Negative means no truncation.
	Limit int64

	// hiveValues are the typed partition values aligned with the resolved
	// hive schema, used for broadcasting and row-wise filtering.
	hiveValues []any
}

// ScanPlan is the complete decision for one query: which files to read, what
// each must materialize, and the final output schema.
type ScanPlan struct {
	// Files are the retained files in discovery order.
	Files []FilePlan

	// Output is the final projected schema.
	Output Schema

	// SkippedByPredicate counts files pruned by partition predicate
	// evaluation.
	SkippedByPredicate int

	// SkippedBySlice counts files pruned because the row limit was
	// already satisfied by earlier files.
	SkippedBySlice int

	// residual is the predicate to apply row-wise after materialization.
	residual Expr

	// sliced records that the limit is fully folded into per-file limits,
	// so the executor does not need a final truncation.
	sliced bool

	// limit mirrors Query.Limit for executors that must truncate.
	limit *int64

	scan *Scan
}

// -----------------------------------------------------------------------------
// Planning
// -----------------------------------------------------------------------------

// Plan computes the pushdown plan for a query. Planning consults file
// metadata only when a row limit requires row counts; predicate and
// projection decisions never open a file.
//
// Pruning is sound by construction: a file is skipped only when the
// partition-only part of the predicate is definitely false under the file's
// partition values. Unknown (for example, a null partition value, or a type
// mismatch absorbed by three-valued logic) retains the file.
func (s *Scan) Plan(ctx context.Context, q Query) (*ScanPlan, error) {
	output, err := s.projectedSchema(q.Projection)
	if err != nil {
		return nil, err
	}

	plan := &ScanPlan{Output: output, limit: q.Limit, scan: s}

	var pushdown, residualCols []Expr
	predicateDefinite := true
	if q.Predicate != nil {
		if err := s.checkPredicateColumns(q.Predicate); err != nil {
			return nil, err
		}
		plan.residual = q.Predicate
		pushdown, residualCols = s.splitPushdown(q.Predicate)
	}

	readCols, hiveCols := s.columnPushdown(q.Projection, q.Predicate)

	for i, entry := range s.files {
		values := s.hiveValues[i]
		skip := false
		for _, conjunct := range pushdown {
			switch evalTri(conjunct, s.hiveBinding(values)) {
			case triFalse:
				skip = true
			case triUnknown:
				predicateDefinite = false
			}
			if skip {
				break
			}
		}
		if skip {
			plan.SkippedByPredicate++
			continue
		}
		plan.Files = append(plan.Files, FilePlan{
			File:        entry,
			ReadColumns: readCols,
			HiveColumns: hiveCols,
			Limit:       -1,
			hiveValues:  values,
		})
	}

	if q.Limit != nil {
		// Raw row counts can stand in for output row counts only when no
		// rows will be removed after materialization: no residual columns
		// outside the partition keys, and no unknown pushdown outcomes.
		canSlice := len(residualCols) == 0 && predicateDefinite
		if canSlice {
			if err := s.sliceFiles(ctx, plan, *q.Limit); err != nil {
				return nil, err
			}
			plan.sliced = true
		}
	}

	return plan, nil
}

// projectedSchema validates a projection against the output layout and
// returns the final schema in request order, or the full default order.
func (s *Scan) projectedSchema(projection []string) (Schema, error) {
	if projection == nil {
		return s.layout.output, nil
	}
	fields := make([]Field, len(projection))
	for i, name := range projection {
		idx := s.layout.output.Index(name)
		if idx < 0 {
			return Schema{}, &ColumnNotFoundError{Name: name}
		}
		fields[i] = s.layout.output.Fields[idx]
	}
	return Schema{Fields: fields}, nil
}

// checkPredicateColumns rejects predicates referencing columns absent from
// the resolved schema, before any file is opened.
func (s *Scan) checkPredicateColumns(predicate Expr) error {
	for name := range exprColumns(predicate) {
		if !s.layout.output.Has(name) {
			return &ColumnNotFoundError{Name: name}
		}
	}
	return nil
}

// splitPushdown partitions the predicate's conjuncts into those evaluable
// from partition values alone and the columns of those that are not.
// Shadowed keys are evaluable here: the directory-derived value still serves
// pruning even though the physical column wins for output.
func (s *Scan) splitPushdown(predicate Expr) (pushdown []Expr, residualCols []Expr) {
	for _, conjunct := range splitConjuncts(predicate, nil) {
		partitionOnly := true
		for name := range exprColumns(conjunct) {
			if !s.layout.hive.Has(name) {
				partitionOnly = false
				break
			}
		}
		if partitionOnly {
			pushdown = append(pushdown, conjunct)
		} else {
			residualCols = append(residualCols, conjunct)
		}
	}
	return pushdown, residualCols
}

// columnPushdown computes the minimal physical column subset and the hive
// columns to broadcast. Predicate columns are included so the residual
// filter can run; the final projection drops any extras.
func (s *Scan) columnPushdown(projection []string, predicate Expr) (readCols, hiveCols []string) {
	if projection == nil && predicate == nil {
		// Read everything, broadcast every unshadowed key.
		for _, f := range s.layout.hive.Fields {
			if !s.layout.shadowed[f.Name] {
				hiveCols = append(hiveCols, f.Name)
			}
		}
		return nil, hiveCols
	}

	needed := make(map[string]struct{})
	if projection != nil {
		for _, name := range projection {
			needed[name] = struct{}{}
		}
	} else {
		for _, f := range s.layout.output.Fields {
			needed[f.Name] = struct{}{}
		}
	}
	if predicate != nil {
		for name := range exprColumns(predicate) {
			needed[name] = struct{}{}
		}
	}

	// Physical columns keep file order; hive columns keep key order.
	readCols = []string{}
	for _, f := range s.layout.physical.Fields {
		if _, ok := needed[f.Name]; ok {
			readCols = append(readCols, f.Name)
		}
	}
	for _, f := range s.layout.hive.Fields {
		if _, ok := needed[f.Name]; !ok {
			continue
		}
		if s.layout.isHiveOnly(f.Name) {
			hiveCols = append(hiveCols, f.Name)
		}
	}
	return readCols, hiveCols
}

// hiveBinding binds partition keys to one file's typed values.
func (s *Scan) hiveBinding(values []any) binding {
	return func(name string) (any, bool) {
		idx := s.layout.hive.Index(name)
		if idx < 0 {
			return nil, false
		}
		return values[idx], true
	}
}

// sliceFiles folds a row limit into the plan: it keeps the minimal prefix of
// retained files, truncates the boundary file, and restricts its row groups
// to the prefix covering the remaining rows. Files already skipped by the
// predicate contribute zero rows to the accounting.
func (s *Scan) sliceFiles(ctx context.Context, plan *ScanPlan, limit int64) error {
	if limit <= 0 {
		plan.SkippedBySlice = len(plan.Files)
		plan.Files = nil
		return nil
	}

	remaining := limit
	for i := range plan.Files {
		if remaining == 0 {
			plan.SkippedBySlice = len(plan.Files) - i
			plan.Files = plan.Files[:i]
			return nil
		}

		fp := &plan.Files[i]
		meta, err := s.meta(ctx, fp.File.Path)
		if err != nil {
			return err
		}
		if meta.NumRows <= remaining {
			remaining -= meta.NumRows
			continue
		}

		// Boundary file: truncate and keep only the row-group prefix
		// needed to cover the remaining rows.
		fp.Limit = remaining
		fp.RowGroups = rowGroupPrefix(meta.RowGroupRows, remaining)
		remaining = 0
	}
	return nil
}

// rowGroupPrefix returns the minimal prefix of row groups whose combined
// row count reaches n.
func rowGroupPrefix(groupRows []int64, n int64) *roaring.Bitmap {
	bm := roaring.New()
	var total int64
	for i, rows := range groupRows {
		if total >= n {
			break
		}
		bm.Add(uint32(i))
		total += rows
	}
	return bm
}
