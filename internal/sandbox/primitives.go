package sandbox

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	lua "github.com/yuin/gopher-lua"

	"github.com/dusk-indust/querydesk/internal/table"
)

// Primer documents the program environment for prompts.
const Primer = `Write a Lua program. Globals available:
  rows     array of row tables; row["Column Name"] reads a cell
  columns  array of column names
  df       helpers:
    df.filter(rows, function(row) return <bool> end) -> rows
    df.select(rows, {"col", ...})                    -> rows with only those columns
    df.sort(rows, "col", descending)                 -> rows
    df.head(rows, n)                                 -> first n rows
    df.count(rows)                                   -> number
    df.group_count(rows, "col")                      -> rows {col, count}, largest first
    df.unique(rows, "col")                           -> rows {col}
    df.sum(rows, "col"), df.mean(rows, "col")        -> number
    df.contains(s, sub), df.icontains(s, sub)        -> bool
    df.len(s)                                        -> number of characters
    df.result({"col", ...}, rows)                    -> rows with an explicit column order
The program must end with "return <rows>" or "return {name = value, ...}" for a single row.
No file, network, or module access is available.`

// columnsKey is the metatable field carrying a rows array's column order.
const columnsKey = "__columns"

// session holds the per-execution view of the dataset.
type session struct {
	headers []string
	known   map[string]bool
}

func newSession(headers []string) *session {
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}
	return &session{headers: headers, known: known}
}

// install publishes rows, columns, and df into L. Every dataset row shares
// a metatable that rejects reads of unknown columns.
func (s *session) install(L *lua.LState, dataset table.Table) {
	rowMeta := L.NewTable()
	rowMeta.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("unknown column %q; available columns: %s", L.Get(2).String(), strings.Join(s.headers, ", "))
		return 0
	}))

	rows := L.NewTable()
	for _, r := range dataset.Rows {
		rt := L.NewTable()
		for _, h := range dataset.Headers {
			rt.RawSetString(h, toLValue(r[h]))
		}
		L.SetMetatable(rt, rowMeta)
		rows.Append(rt)
	}
	s.setColumns(L, rows, dataset.Headers)
	L.SetGlobal("rows", rows)

	cols := L.NewTable()
	for _, h := range dataset.Headers {
		cols.Append(lua.LString(h))
	}
	L.SetGlobal("columns", cols)

	df := L.NewTable()
	L.SetFuncs(df, map[string]lua.LGFunction{
		"filter":      s.filter,
		"select":      s.selectCols,
		"sort":        s.sort,
		"head":        s.head,
		"count":       s.count,
		"group_count": s.groupCount,
		"unique":      s.unique,
		"sum":         s.sum,
		"mean":        s.mean,
		"contains":    contains,
		"icontains":   icontains,
		"len":         runeLen,
		"result":      s.result,
	})
	L.SetGlobal("df", df)
}

func (s *session) filter(L *lua.LState) int {
	rows := L.CheckTable(1)
	fn := L.CheckFunction(2)
	out := L.NewTable()
	n := rows.Len()
	for i := 1; i <= n; i++ {
		row := rows.RawGetInt(i)
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, row); err != nil {
			L.RaiseError("filter: %s", luaMessage(err))
		}
		keep := L.Get(-1)
		L.Pop(1)
		if lua.LVAsBool(keep) {
			out.Append(row)
		}
	}
	s.setColumns(L, out, s.columnsOf(L, rows))
	L.Push(out)
	return 1
}

func (s *session) selectCols(L *lua.LState) int {
	rows := L.CheckTable(1)
	cols := stringList(L, 2)
	for _, c := range cols {
		s.mustKnow(L, rows, c, "select")
	}
	out := L.NewTable()
	n := rows.Len()
	for i := 1; i <= n; i++ {
		rt, ok := rows.RawGetInt(i).(*lua.LTable)
		if !ok {
			L.RaiseError("select: row %d is not a table", i)
		}
		nt := L.NewTable()
		for _, c := range cols {
			nt.RawSetString(c, rt.RawGetString(c))
		}
		out.Append(nt)
	}
	s.setColumns(L, out, cols)
	L.Push(out)
	return 1
}

func (s *session) sort(L *lua.LState) int {
	rows := L.CheckTable(1)
	col := L.CheckString(2)
	desc := L.OptBool(3, false)
	s.mustKnow(L, rows, col, "sort")

	items := tableSlice(rows)
	sort.SliceStable(items, func(i, j int) bool {
		a, b := cell(items[i], col), cell(items[j], col)
		if desc {
			return less(b, a)
		}
		return less(a, b)
	})
	out := L.NewTable()
	for _, v := range items {
		out.Append(v)
	}
	s.setColumns(L, out, s.columnsOf(L, rows))
	L.Push(out)
	return 1
}

func (s *session) head(L *lua.LState) int {
	rows := L.CheckTable(1)
	n := L.OptInt(2, 5)
	out := L.NewTable()
	for i := 1; i <= rows.Len() && i <= n; i++ {
		out.Append(rows.RawGetInt(i))
	}
	s.setColumns(L, out, s.columnsOf(L, rows))
	L.Push(out)
	return 1
}

func (s *session) count(L *lua.LState) int {
	L.Push(lua.LNumber(L.CheckTable(1).Len()))
	return 1
}

func (s *session) groupCount(L *lua.LState) int {
	rows := L.CheckTable(1)
	col := L.CheckString(2)
	s.mustKnow(L, rows, col, "group_count")

	type group struct {
		value lua.LValue
		count int
	}
	var groups []*group
	index := map[string]*group{}
	for _, v := range tableSlice(rows) {
		val := cell(v, col)
		key := val.Type().String() + ":" + val.String()
		g, ok := index[key]
		if !ok {
			g = &group{value: val}
			index[key] = g
			groups = append(groups, g)
		}
		g.count++
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].count > groups[j].count })

	out := L.NewTable()
	for _, g := range groups {
		nt := L.NewTable()
		nt.RawSetString(col, g.value)
		nt.RawSetString("count", lua.LNumber(g.count))
		out.Append(nt)
	}
	s.setColumns(L, out, []string{col, "count"})
	L.Push(out)
	return 1
}

func (s *session) unique(L *lua.LState) int {
	rows := L.CheckTable(1)
	col := L.CheckString(2)
	s.mustKnow(L, rows, col, "unique")

	seen := map[string]bool{}
	out := L.NewTable()
	for _, v := range tableSlice(rows) {
		val := cell(v, col)
		key := val.Type().String() + ":" + val.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		nt := L.NewTable()
		nt.RawSetString(col, val)
		out.Append(nt)
	}
	s.setColumns(L, out, []string{col})
	L.Push(out)
	return 1
}

func (s *session) sum(L *lua.LState) int {
	total, _ := s.numbers(L, "sum")
	L.Push(lua.LNumber(total))
	return 1
}

func (s *session) mean(L *lua.LState) int {
	total, n := s.numbers(L, "mean")
	if n == 0 {
		L.Push(lua.LNumber(0))
		return 1
	}
	L.Push(lua.LNumber(total / float64(n)))
	return 1
}

// numbers sums the numeric cells of a column, skipping non-numeric ones.
func (s *session) numbers(L *lua.LState, op string) (float64, int) {
	rows := L.CheckTable(1)
	col := L.CheckString(2)
	s.mustKnow(L, rows, col, op)
	var total float64
	var n int
	for _, v := range tableSlice(rows) {
		if f, ok := number(cell(v, col)); ok {
			total += f
			n++
		}
	}
	return total, n
}

func (s *session) result(L *lua.LState) int {
	cols := stringList(L, 1)
	rows := L.CheckTable(2)
	out := L.NewTable()
	for _, v := range tableSlice(rows) {
		out.Append(v)
	}
	s.setColumns(L, out, cols)
	L.Push(out)
	return 1
}

func contains(L *lua.LState) int {
	L.Push(lua.LBool(strings.Contains(L.CheckString(1), L.CheckString(2))))
	return 1
}

func icontains(L *lua.LState) int {
	L.Push(lua.LBool(strings.Contains(strings.ToLower(L.CheckString(1)), strings.ToLower(L.CheckString(2)))))
	return 1
}

func runeLen(L *lua.LState) int {
	L.Push(lua.LNumber(utf8.RuneCountInString(L.CheckString(1))))
	return 1
}

// mustKnow raises a Lua error when col is neither a dataset column, a
// column declared on rows, nor present on its first row.
func (s *session) mustKnow(L *lua.LState, rows *lua.LTable, col, op string) {
	if s.known[col] {
		return
	}
	for _, c := range s.columnsOf(L, rows) {
		if c == col {
			return
		}
	}
	if first, ok := rows.RawGetInt(1).(*lua.LTable); ok && first.RawGetString(col) != lua.LNil {
		return
	}
	if rows.Len() == 0 {
		return
	}
	L.RaiseError("%s: unknown column %q; available columns: %s", op, col, strings.Join(s.headers, ", "))
}

func (s *session) setColumns(L *lua.LState, rows *lua.LTable, cols []string) {
	if len(cols) == 0 {
		return
	}
	list := L.NewTable()
	for _, c := range cols {
		list.Append(lua.LString(c))
	}
	mt := L.NewTable()
	mt.RawSetString(columnsKey, list)
	L.SetMetatable(rows, mt)
}

func (s *session) columnsOf(L *lua.LState, rows *lua.LTable) []string {
	mt, ok := L.GetMetatable(rows).(*lua.LTable)
	if !ok {
		return nil
	}
	list, ok := mt.RawGetString(columnsKey).(*lua.LTable)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range tableSlice(list) {
		if str, ok := v.(lua.LString); ok {
			out = append(out, string(str))
		}
	}
	return out
}

// toTable converts a program's return value into a table. Accepted shapes
// are an array of row tables and a single table of scalar fields.
func (s *session) toTable(L *lua.LState, v lua.LValue) (table.Table, error) {
	tb, ok := v.(*lua.LTable)
	if !ok {
		if v == lua.LNil {
			return table.Table{}, fmt.Errorf("program returned nothing; return a table of rows")
		}
		return table.Table{}, fmt.Errorf("program returned a %s; return a table of rows", v.Type())
	}
	hint := s.columnsOf(L, tb)

	if tb.Len() == 0 {
		row, keys, err := toRow(tb)
		if err != nil {
			return table.Table{}, err
		}
		if len(keys) == 0 {
			if len(hint) == 0 {
				hint = s.headers
			}
			return table.New(hint, nil), nil
		}
		return table.New(orderHeaders(keys, hint, s.headers), []table.Row{row}), nil
	}

	seen := map[string]bool{}
	var keys []string
	rows := make([]table.Row, 0, tb.Len())
	for i, el := range tableSlice(tb) {
		rt, ok := el.(*lua.LTable)
		if !ok {
			return table.Table{}, fmt.Errorf("row %d is a %s, want a table of column values", i+1, el.Type())
		}
		row, rowKeys, err := toRow(rt)
		if err != nil {
			return table.Table{}, fmt.Errorf("row %d: %w", i+1, err)
		}
		for _, k := range rowKeys {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		rows = append(rows, row)
	}
	return table.New(orderHeaders(keys, hint, s.headers), rows), nil
}

func toRow(rt *lua.LTable) (table.Row, []string, error) {
	row := table.Row{}
	var keys []string
	var err error
	rt.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		name, ok := k.(lua.LString)
		if !ok {
			err = fmt.Errorf("key %s is not a column name", k.String())
			return
		}
		val, cerr := fromLValue(v)
		if cerr != nil {
			err = fmt.Errorf("column %q: %w", string(name), cerr)
			return
		}
		row[string(name)] = val
		keys = append(keys, string(name))
	})
	return row, keys, err
}

// orderHeaders orders keys by the declared column order, then by dataset
// order, then alphabetically.
func orderHeaders(keys, hint, base []string) []string {
	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		present[k] = true
	}
	var out []string
	placed := map[string]bool{}
	if len(hint) > 0 {
		for _, h := range hint {
			if !placed[h] {
				placed[h] = true
				out = append(out, h)
			}
		}
	} else {
		for _, h := range base {
			if present[h] && !placed[h] {
				placed[h] = true
				out = append(out, h)
			}
		}
	}
	var rest []string
	for _, k := range keys {
		if !placed[k] {
			placed[k] = true
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func toLValue(v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LString("")
	case string:
		return lua.LString(x)
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(x)
	case int32:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

func fromLValue(v lua.LValue) (any, error) {
	switch x := v.(type) {
	case lua.LString:
		return string(x), nil
	case lua.LBool:
		return bool(x), nil
	case lua.LNumber:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("is not a finite number (%v)", f)
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case *lua.LNilType:
		return "", nil
	default:
		return nil, fmt.Errorf("holds a %s, want a string, number, or boolean", v.Type())
	}
}

func tableSlice(tb *lua.LTable) []lua.LValue {
	n := tb.Len()
	out := make([]lua.LValue, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, tb.RawGetInt(i))
	}
	return out
}

func stringList(L *lua.LState, n int) []string {
	switch v := L.Get(n).(type) {
	case lua.LString:
		return []string{string(v)}
	case *lua.LTable:
		var out []string
		for _, el := range tableSlice(v) {
			out = append(out, el.String())
		}
		return out
	default:
		L.ArgError(n, "column name or list of column names expected")
		return nil
	}
}

func cell(row lua.LValue, col string) lua.LValue {
	if rt, ok := row.(*lua.LTable); ok {
		return rt.RawGetString(col)
	}
	return lua.LNil
}

func number(v lua.LValue) (float64, bool) {
	switch x := v.(type) {
	case lua.LNumber:
		return float64(x), true
	case lua.LString:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
		return f, err == nil
	}
	return 0, false
}

// less orders numbers numerically, then strings lexically; nil sorts last.
func less(a, b lua.LValue) bool {
	if a == lua.LNil {
		return false
	}
	if b == lua.LNil {
		return true
	}
	fa, okA := number(a)
	fb, okB := number(b)
	if okA && okB {
		return fa < fb
	}
	return a.String() < b.String()
}
