package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/dispatch/internal/ir"
	"github.com/roach88/dispatch/internal/manifest"
	"github.com/roach88/dispatch/internal/store"
	"github.com/roach88/dispatch/internal/vm"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEntry // Trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, entry := range e.Trace {
			switch entry.Type {
			case TraceEvent:
				fmt.Fprintf(&buf, "  [%d]   %s %s\n", i+1, entry.Name, entry.Fields.SortedKeys())
			default:
				fmt.Fprintf(&buf, "  [%d] %s %s %v -> %s%s\n", i+1, entry.Type, entry.Method, entry.Args, entry.Status, codeSuffix(entry.ErrorCode))
			}
		}
	}
	return buf.String()
}

func codeSuffix(code string) string {
	if code == "" {
		return ""
	}
	return " " + code
}

// AssertionContext provides the live deployment for state assertions.
type AssertionContext struct {
	Ctx        context.Context
	Store      *store.Store
	Engine     *vm.Engine
	Deployment *manifest.Deployment
	Owner      common.Address
	Resolve    vm.AddressResolver
	// Expand substitutes saved flow outputs into query arguments.
	Expand func([]string) []string
}

func (a *AssertionContext) resolve(ref string) (common.Address, error) {
	if a != nil && a.Resolve != nil {
		return a.Resolve(ref)
	}
	return vm.ResolveAddress(ref)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEventEmitted:
			err = assertEventEmitted(result.Trace, assertion, actx)
		case AssertEventOrder:
			err = assertEventOrder(result.Trace, assertion)
		case AssertEventCount:
			err = assertEventCount(result.Trace, assertion)
		case AssertBalance, AssertQuery:
			if actx == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a live engine", i, assertion.Type)
			} else if assertion.Type == AssertBalance {
				err = assertBalance(actx, assertion)
			} else {
				err = assertQuery(actx, assertion)
			}
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertEventEmitted checks that an event with the given name (and
// optionally emitter) carries every expected field.
func assertEventEmitted(trace []TraceEntry, assertion Assertion, actx *AssertionContext) error {
	var emitter string
	if assertion.Emitter != "" {
		addr, err := actx.resolve(assertion.Emitter)
		if err != nil {
			return fmt.Errorf("event_emitted: emitter: %w", err)
		}
		emitter = addr.Hex()
	}
	expected := ir.Object{}
	if assertion.Fields != nil {
		v, err := ir.FromGo(assertion.Fields)
		if err != nil {
			return fmt.Errorf("event_emitted: fields: %w", err)
		}
		expected = v.(ir.Object)
	}

	for _, entry := range trace {
		if entry.Type != TraceEvent || entry.Name != assertion.Name {
			continue
		}
		if emitter != "" && entry.Emitter != emitter {
			continue
		}
		if matchFields(entry.Fields, expected, actx) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertEventEmitted,
		Expected: fmt.Sprintf("event %s with fields %v", assertion.Name, assertion.Fields),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertEventOrder checks that the named events appear in the given order.
// Events need not be consecutive.
func assertEventOrder(trace []TraceEntry, assertion Assertion) error {
	positions := make(map[string]int)
	for i, entry := range trace {
		if entry.Type != TraceEvent {
			continue
		}
		for _, name := range assertion.Names {
			if entry.Name == name && positions[name] == 0 {
				positions[name] = i + 1 // 1-indexed for readability
			}
		}
	}

	for _, name := range assertion.Names {
		if positions[name] == 0 {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Names),
				Actual:   fmt.Sprintf("missing event: %s", name),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Names); i++ {
		prev, curr := assertion.Names[i-1], assertion.Names[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Names),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertEventCount checks the event appears exactly Count times.
func assertEventCount(trace []TraceEntry, assertion Assertion) error {
	count := 0
	for _, entry := range trace {
		if entry.Type == TraceEvent && entry.Name == assertion.Name {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Name),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertBalance compares a committed native balance.
func assertBalance(actx *AssertionContext, assertion Assertion) error {
	addr, err := actx.resolve(assertion.Account)
	if err != nil {
		return fmt.Errorf("balance: account: %w", err)
	}
	want, err := parseAmount(assertion.Amount)
	if err != nil {
		return fmt.Errorf("balance: amount: %w", err)
	}
	got, err := actx.Engine.Balance(actx.Ctx, addr)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	if !got.Eq(want) {
		return &AssertionError{
			Type:     AssertBalance,
			Expected: fmt.Sprintf("%s holds %s", assertion.Account, want.Dec()),
			Actual:   fmt.Sprintf("%s holds %s", assertion.Account, got.Dec()),
		}
	}
	return nil
}

// assertQuery runs a view and compares its formatted outputs.
func assertQuery(actx *AssertionContext, assertion Assertion) error {
	if actx.Deployment == nil {
		return fmt.Errorf("query: no deployment")
	}
	from := actx.Owner
	if assertion.From != "" {
		var err error
		if from, err = actx.resolve(assertion.From); err != nil {
			return fmt.Errorf("query: from: %w", err)
		}
	}
	to := actx.Deployment.Proxy
	if assertion.To != "" {
		var err error
		if to, err = actx.resolve(assertion.To); err != nil {
			return fmt.Errorf("query: to: %w", err)
		}
	}

	args := assertion.Args
	if actx.Expand != nil {
		args = actx.Expand(args)
	}
	out, err := actx.Deployment.Query(actx.Ctx, actx.Engine, from, to, assertion.Method, args, actx.Resolve)
	if err != nil {
		return &AssertionError{
			Type:     AssertQuery,
			Expected: fmt.Sprintf("%s%v = %v", assertion.Method, assertion.Args, assertion.Output),
			Actual:   fmt.Sprintf("error: %v", err),
		}
	}
	got := formatOutputs(out)
	if !outputsMatch(assertion.Output, got, actx.resolve) {
		return &AssertionError{
			Type:     AssertQuery,
			Expected: fmt.Sprintf("%s%v = %v", assertion.Method, assertion.Args, assertion.Output),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// outputsMatch compares expected and formatted outputs. Address outputs may
// be expected as account references.
func outputsMatch(want, got []string, resolve vm.AddressResolver) bool {
	if len(want) != len(got) {
		return false
	}
	if resolve == nil {
		resolve = vm.ResolveAddress
	}
	for i := range want {
		if want[i] == got[i] {
			continue
		}
		if !common.IsHexAddress(got[i]) || common.IsHexAddress(want[i]) {
			return false
		}
		addr, err := resolve(want[i])
		if err != nil || addr.Hex() != got[i] {
			return false
		}
	}
	return true
}

// matchFields checks that actual holds every expected field (subset match).
// Address-valued fields may be expected as account references and any
// string as a saved $name.
func matchFields(actual, expected ir.Object, actx *AssertionContext) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok {
			return false
		}
		if reflect.DeepEqual(got, want) {
			continue
		}
		gs, gok := got.(ir.String)
		ws, wok := want.(ir.String)
		if !gok || !wok {
			return false
		}
		w := string(ws)
		if actx != nil && actx.Expand != nil {
			w = actx.Expand([]string{w})[0]
		}
		if w == string(gs) {
			continue
		}
		if !common.IsHexAddress(string(gs)) {
			return false
		}
		addr, err := actx.resolve(w)
		if err != nil || addr.Hex() != string(gs) {
			return false
		}
	}
	return true
}

// assertFinalState checks one persisted row. Queries use parameterized SQL
// and validate expected values with subset semantics.
//
// Table and column names are validated against a whitelist pattern to
// prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

// buildWhereClause constructs a parameterized WHERE clause. Keys are sorted
// for determinism.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML value to a SQL argument.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares an expected YAML value with a SQLite column
// value. TEXT may come back as string or []byte; INTEGER as int64.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	switch exp := expected.(type) {
	case string:
		s, ok := actual.(string)
		return ok && exp == s
	case int:
		n, ok := actual.(int64)
		return ok && int64(exp) == n
	case int64:
		n, ok := actual.(int64)
		return ok && exp == n
	case bool:
		if b, ok := actual.(bool); ok {
			return exp == b
		}
		n, ok := actual.(int64)
		return ok && exp == (n != 0)
	}
	return reflect.DeepEqual(expected, actual)
}
