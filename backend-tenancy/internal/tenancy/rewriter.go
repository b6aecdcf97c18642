package tenancy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultScopedTables are the shared-schema tables that carry a tenant_id column
var DefaultScopedTables = []string{
	"bill_items",
	"bills",
	"inventory_items",
	"menu_items",
	"notifications",
	"purchase_orders",
	"recipes",
	"reorder_suggestions",
	"sale_items",
	"sales",
	"stock_movements",
	"suppliers",
}

var (
	tableRefPattern = regexp.MustCompile(`(?i)\b(from|join|update|using)\b`)
	lateralPattern  = regexp.MustCompile(`(?i)^lateral\b\s*`)
	listItemPattern = regexp.MustCompile(
		`(?i)^(?:only\s+)?(?:"?[a-z_][a-z0-9_]*"?\s*\.\s*)?"?([a-z_][a-z0-9_]*)"?`)
	aliasPattern     = regexp.MustCompile(`(?i)^\s+(?:as\s+)?([a-z_][a-z0-9_]*)`)
	clauseEndPattern = regexp.MustCompile(
		`(?i)\b(group\s+by|order\s+by|limit|offset|returning|having|window|for\s+update|for\s+share|for\s+no\s+key|union|intersect|except|on\s+conflict)\b`)
	setOpPattern    = regexp.MustCompile(`(?i)\b(union|intersect|except)(\s+all|\s+distinct)?\b`)
	subqueryPattern = regexp.MustCompile(`(?i)^\s*(select|with|update|delete|insert)\b`)
	wherePattern    = regexp.MustCompile(`(?i)\bwhere\b`)
	orPattern       = regexp.MustCompile(`(?i)\bor\b`)
	conjunctPrefix  = regexp.MustCompile(`(?i)(^|\band)\s*$`)
	filterValue     = `\s*=\s*(?:\$\d+|'(?:[^']|'')*'|-?\d+)(?:[^\w.$']|$)`
)

// words that can follow a table reference and are never an alias
var notAlias = map[string]struct{}{
	"where": {}, "join": {}, "inner": {}, "left": {}, "right": {}, "full": {}, "outer": {},
	"cross": {}, "natural": {}, "on": {}, "using": {}, "set": {}, "group": {}, "order": {},
	"limit": {}, "offset": {}, "returning": {}, "having": {}, "window": {}, "for": {},
	"union": {}, "intersect": {}, "except": {}, "lateral": {}, "values": {}, "as": {},
	"fetch": {}, "tablesample": {}, "only": {},
}

// Rewriter adds tenant filters to statements against shared-schema tables.
//
// It is a second line of defence behind row-level security keyed on the
// app.current_tenant setting. Each branch of a UNION, INTERSECT or EXCEPT and
// every parenthesized subquery is filtered on its own, all against the same
// bound tenant id.
type Rewriter struct {
	column string
	tables map[string]struct{}
}

// NewRewriter creates a rewriter filtering tables on column
func NewRewriter(column string, tables []string) *Rewriter {
	set := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		set[strings.ToLower(t)] = struct{}{}
	}
	return &Rewriter{column: column, tables: set}
}

// Tables returns the scoped table names
func (r *Rewriter) Tables() []string {
	out := make([]string, 0, len(r.tables))
	for t := range r.tables {
		out = append(out, t)
	}
	return out
}

// Rewrite returns query with "<ref>.tenant_id = $N" added for every scoped
// table that does not already carry such a filter. tenantID is bound as a new
// trailing parameter; the caller's args are never modified. Statements that need
// no filter are returned unchanged.
//
// A filter only counts when it sits in the WHERE clause of the select that
// names the table, compares the column to a parameter or literal, and is not
// an operand of OR or NOT. Join conditions never count.
func (r *Rewriter) Rewrite(query string, args []any, tenantID string) (string, []any) {
	q := strings.TrimRight(strings.TrimSpace(query), "; \t\n")
	placeholder := "$" + strconv.Itoa(len(args)+1)

	out, changed := r.rewriteCompound(q, placeholder)
	if !changed {
		return query, args
	}

	newArgs := make([]any, len(args), len(args)+1)
	copy(newArgs, args)
	newArgs = append(newArgs, tenantID)
	return out, newArgs
}

// rewriteCompound splits q at top-level set operators and filters each branch.
func (r *Rewriter) rewriteCompound(q, placeholder string) (string, bool) {
	mask := scanDepth(q)

	var b strings.Builder
	changed := false
	start := 0
	for _, loc := range setOpPattern.FindAllStringIndex(q, -1) {
		if mask[loc[0]] != 0 {
			continue
		}
		branch, ok := r.rewriteSelect(strings.TrimSpace(q[start:loc[0]]), placeholder)
		changed = changed || ok
		b.WriteString(branch)
		b.WriteString(" ")
		b.WriteString(q[loc[0]:loc[1]])
		b.WriteString(" ")
		start = loc[1]
	}
	branch, ok := r.rewriteSelect(strings.TrimSpace(q[start:]), placeholder)
	changed = changed || ok
	b.WriteString(branch)

	if !changed {
		return q, false
	}
	return b.String(), true
}

// rewriteSelect filters a single statement without set operators.
func (r *Rewriter) rewriteSelect(q, placeholder string) (string, bool) {
	q, nested := r.rewriteSubqueries(q, placeholder)
	mask := scanDepth(q)

	refs := r.scopedRefs(q, mask)
	if len(refs) == 0 {
		return q, nested
	}

	where := firstTopLevel(wherePattern, q, mask, 0)
	bodyStart, bodyEnd := len(q), len(q)
	if where != nil {
		bodyStart = where[1]
		if end := firstTopLevel(clauseEndPattern, q, mask, bodyStart); end != nil {
			bodyEnd = end[0]
		}
	}

	missing := make([]string, 0, len(refs))
	for _, ref := range refs {
		if where != nil && r.hasFilter(q, mask, bodyStart, bodyEnd, ref, len(refs)) {
			continue
		}
		missing = append(missing, ref)
	}
	if len(missing) == 0 {
		return q, nested
	}

	preds := make([]string, len(missing))
	for i, ref := range missing {
		preds[i] = fmt.Sprintf("%s.%s = %s", ref, r.column, placeholder)
	}
	filter := strings.Join(preds, " AND ")

	if where != nil {
		body := strings.TrimSpace(q[bodyStart:bodyEnd])
		rest := strings.TrimSpace(q[bodyEnd:])

		var b strings.Builder
		b.WriteString(q[:where[0]])
		b.WriteString("WHERE ")
		b.WriteString(filter)
		b.WriteString(" AND (")
		b.WriteString(body)
		b.WriteString(")")
		if rest != "" {
			b.WriteString(" ")
			b.WriteString(rest)
		}
		return b.String(), true
	}

	insertAt := len(q)
	if end := firstTopLevel(clauseEndPattern, q, mask, 0); end != nil {
		insertAt = end[0]
	}
	head := strings.TrimSpace(q[:insertAt])
	rest := strings.TrimSpace(q[insertAt:])
	out := head + " WHERE " + filter
	if rest != "" {
		out += " " + rest
	}
	return out, true
}

// rewriteSubqueries filters every parenthesized statement in q, at any depth.
func (r *Rewriter) rewriteSubqueries(q, placeholder string) (string, bool) {
	mask := scanDepth(q)

	var b strings.Builder
	changed := false
	last := 0
	for i := 0; i < len(q); i++ {
		if q[i] != '(' || mask[i] != 0 {
			continue
		}
		closeAt := matchingParen(q, mask, i)
		if closeAt <= i {
			break
		}
		inner := q[i+1 : closeAt]

		var out string
		var ok bool
		if subqueryPattern.MatchString(inner) {
			out, ok = r.rewriteCompound(strings.TrimSpace(inner), placeholder)
		} else {
			out, ok = r.rewriteSubqueries(inner, placeholder)
		}
		if ok {
			b.WriteString(q[last : i+1])
			b.WriteString(out)
			last = closeAt
			changed = true
		}
		i = closeAt
	}
	if !changed {
		return q, false
	}
	b.WriteString(q[last:])
	return b.String(), true
}

// scopedRefs returns the qualifier (alias or table name) of every top-level
// scoped table, including each item of a comma-separated FROM or USING list.
func (r *Rewriter) scopedRefs(q string, mask []int) []string {
	var refs []string
	seen := make(map[string]struct{})
	add := func(table, ref string) {
		if _, ok := r.tables[strings.ToLower(table)]; !ok {
			return
		}
		if ref == "" {
			ref = table
		}
		key := strings.ToLower(ref)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		refs = append(refs, ref)
	}

	for _, m := range tableRefPattern.FindAllStringIndex(q, -1) {
		if mask[m[0]] != 0 {
			continue
		}
		list := false
		switch strings.ToLower(q[m[0]:m[1]]) {
		case "from", "using":
			list = true
		}

		next := m[1]
		for {
			table, ref, end, ok := readItem(q, mask, next)
			if !ok {
				break
			}
			add(table, ref)
			next = end
			if !list {
				break
			}
			p := skipSpace(q, next)
			if p >= len(q) || q[p] != ',' || mask[p] != 0 {
				break
			}
			next = p + 1
		}
	}
	return refs
}

// readItem parses the FROM item starting at from. table is empty for derived
// tables and function calls.
func readItem(q string, mask []int, from int) (table, ref string, end int, ok bool) {
	p := skipSpace(q, from)
	if loc := lateralPattern.FindStringIndex(q[p:]); loc != nil {
		p += loc[1]
	}
	if p >= len(q) {
		return "", "", p, false
	}
	if q[p] == '(' {
		ref, end = readAlias(q, matchingParen(q, mask, p)+1)
		return "", ref, end, true
	}

	loc := listItemPattern.FindStringSubmatchIndex(q[p:])
	if loc == nil {
		return "", "", p, false
	}
	table, end = q[p+loc[2]:p+loc[3]], p+loc[1]
	if end < len(q) && q[end] == '(' {
		ref, end = readAlias(q, matchingParen(q, mask, end)+1)
		return "", ref, end, true
	}
	// the alias is read without consuming the keyword after it so a following JOIN still matches
	ref, end = readAlias(q, end)
	return table, ref, end, true
}

// readAlias returns the alias following a FROM item ending at end, if any,
// and the offset just past it.
func readAlias(q string, end int) (string, int) {
	if end > len(q) {
		return "", len(q)
	}
	a := aliasPattern.FindStringSubmatchIndex(q[end:])
	if a == nil {
		return "", end
	}
	alias := q[end+a[2] : end+a[3]]
	if _, kw := notAlias[strings.ToLower(alias)]; kw {
		return "", end
	}
	return alias, end + a[1]
}

// hasFilter reports whether the WHERE body q[start:end] already restricts ref
// to a single tenant.
func (r *Rewriter) hasFilter(q string, mask []int, start, end int, ref string, refCount int) bool {
	col := `"?` + regexp.QuoteMeta(r.column) + `"?`
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`(?i)(^|[^\w."])"?` + regexp.QuoteMeta(ref) + `"?\s*\.\s*` + col + filterValue),
	}
	if refCount == 1 {
		patterns = append(patterns, regexp.MustCompile(`(?i)(^|[^\w."])`+col+filterValue))
	}

	body := q[start:end]
	for _, re := range patterns {
		for _, loc := range re.FindAllStringSubmatchIndex(body, -1) {
			pos := start + loc[3]
			if mask[pos] >= 0 && conjunct(q, mask, start, end, pos) {
				return true
			}
		}
	}
	return false
}

// conjunct reports whether the predicate at pos is ANDed into the WHERE body
// q[start:end] at every enclosing parenthesis level.
func conjunct(q string, mask []int, start, end, pos int) bool {
	lo, hi := start, end
	for level := 0; ; level++ {
		for _, loc := range orPattern.FindAllStringIndex(q[lo:hi], -1) {
			if mask[lo+loc[0]] == level {
				return false
			}
		}
		if level == mask[pos] {
			return true
		}

		open := -1
		for i := pos - 1; i >= lo; i-- {
			if q[i] == '(' && mask[i] == level {
				open = i
				break
			}
		}
		if open < 0 || !conjunctPrefix.MatchString(q[lo:open]) {
			return false
		}
		lo, hi = open+1, matchingParen(q, mask, open)
	}
}

func skipSpace(q string, i int) int {
	for i < len(q) && (q[i] == ' ' || q[i] == '\t' || q[i] == '\n' || q[i] == '\r') {
		i++
	}
	return i
}

// matchingParen returns the index of the parenthesis closing the one at open,
// or the last index of q when it is unbalanced.
func matchingParen(q string, mask []int, open int) int {
	for j := open + 1; j < len(q); j++ {
		if q[j] == ')' && mask[j] == mask[open] {
			return j
		}
	}
	return len(q) - 1
}

// scanDepth returns, for each byte of q, the parenthesis depth at that byte.
// Bytes inside string literals are marked -1.
func scanDepth(q string) []int {
	mask := make([]int, len(q)+1)
	depth := 0
	var quote byte
	for i := 0; i < len(q); i++ {
		c := q[i]
		if quote != 0 {
			mask[i] = -1
			if c == quote {
				if i+1 < len(q) && q[i+1] == quote {
					mask[i+1] = -1
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		switch c {
		case '\'':
			quote = c
			mask[i] = -1
			continue
		case '(':
			mask[i] = depth
			depth++
			continue
		case ')':
			if depth > 0 {
				depth--
			}
		}
		mask[i] = depth
	}
	mask[len(q)] = depth
	return mask
}

// firstTopLevel finds the first match of re at depth zero starting at from
func firstTopLevel(re *regexp.Regexp, q string, mask []int, from int) []int {
	for _, loc := range re.FindAllStringIndex(q[from:], -1) {
		start := loc[0] + from
		if mask[start] == 0 {
			return []int{start, loc[1] + from}
		}
	}
	return nil
}
