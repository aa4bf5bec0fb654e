package starshell

import (
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/leapstack-labs/leaprepl/internal/shell"
)

var keywords = []string{
	"and", "break", "continue", "def", "elif", "else", "for", "if", "in",
	"lambda", "load", "not", "or", "pass", "return", "while",
	"True", "False", "None",
}

// segment is one step of a dotted access chain such as db.select(x).where.
type segment struct {
	name string
	call bool
}

// Suggestions implements shell.Shell. The anchor is the start of the
// identifier being typed.
func (s *Session) Suggestions(code string, cursor int) ([]shell.Suggestion, int) {
	cursor = clamp(cursor, len(code))
	if inString, inComment := lexicalContext(code, cursor); inString || inComment {
		return nil, cursor
	}

	anchor := identStart(code, cursor)
	prefix := code[anchor:cursor]
	locals := s.localTypes(code, anchor)

	var names []string
	matchesType := false
	if receiver, ok := chainBefore(code, anchor); ok {
		v, typeName := s.resolveChain(receiver, locals)
		if v == nil && typeName == "" {
			return nil, anchor
		}
		names = s.attributeNames(v, typeName)
		matchesType = true
	} else {
		names = s.visibleNames(locals)
	}

	var out []shell.Suggestion
	for _, name := range sortedUnique(names) {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if strings.HasPrefix(name, "_") && !strings.HasPrefix(prefix, "_") {
			continue
		}
		out = append(out, shell.Suggestion{
			Continuation: name,
			Insert:       name[len(prefix):],
			MatchesType:  matchesType,
		})
	}
	return out, anchor
}

// Documentation implements shell.Shell.
func (s *Session) Documentation(code string, cursor int) []shell.Documentation {
	cursor = clamp(cursor, len(code))
	chain, ok := chainAt(code, cursor)
	if !ok {
		return nil
	}
	locals := s.localTypes(code, cursor)
	last := chain[len(chain)-1].name

	if len(chain) == 1 {
		return s.nameDocs(last)
	}

	v, typeName := s.resolveChain(chain[:len(chain)-1], locals)
	if v != nil {
		typeName = v.Type()
	}
	if doc, ok := s.docs.Member(typeName, last); ok {
		return []shell.Documentation{{Signature: doc.Signature, Documentation: doc.Text}}
	}
	return nil
}

// AnalyzeType implements shell.Shell.
func (s *Session) AnalyzeType(code string, cursor int) string {
	cursor = clamp(cursor, len(code))
	chain, ok := chainAt(code, cursor)
	if !ok {
		return ""
	}
	v, typeName := s.resolveChain(chain, s.localTypes(code, cursor))
	if v != nil {
		return v.Type()
	}
	return typeName
}

// nameDocs documents a bare name: a loaded member, a global, a type or a
// user-defined function.
func (s *Session) nameDocs(name string) []shell.Documentation {
	if qualified, ok := s.loads[name]; ok {
		module, member, _ := strings.Cut(qualified, ".")
		if doc, ok := s.docs.Modules[module][member]; ok {
			return []shell.Documentation{{Signature: doc.Signature, Documentation: doc.Text}}
		}
	}
	if doc, ok := s.docs.Globals[name]; ok {
		return []shell.Documentation{{Signature: doc.Signature, Documentation: doc.Text}}
	}
	if td, ok := s.docs.Types[name]; ok {
		return []shell.Documentation{{Signature: td.Name, Documentation: td.Text}}
	}
	if fn, ok := s.globals[name].(*starlark.Function); ok {
		return []shell.Documentation{{Signature: functionSignature(fn), Documentation: fn.Doc()}}
	}
	return nil
}

// resolveChain follows a dotted chain through live values where it can and
// through documented return types where it must. Calls are never made.
func (s *Session) resolveChain(chain []segment, locals map[string]string) (starlark.Value, string) {
	if len(chain) == 0 {
		return nil, ""
	}
	v, typeName, ok := s.resolveName(chain[0], locals)
	if !ok {
		return nil, ""
	}
	for _, seg := range chain[1:] {
		if v, typeName, ok = s.step(v, typeName, seg); !ok {
			return nil, ""
		}
	}
	return v, typeName
}

func (s *Session) resolveName(seg segment, locals map[string]string) (starlark.Value, string, bool) {
	var v starlark.Value
	var typeName string
	if gv, ok := s.globals[seg.name]; ok {
		v = gv
	} else if uv, ok := starlark.Universe[seg.name]; ok {
		v = uv
	} else if t, ok := locals[seg.name]; ok && t != "" {
		typeName = t
	} else {
		return nil, "", false
	}
	if seg.call {
		typeName = s.callResult(seg.name, v)
		return nil, typeName, typeName != ""
	}
	return v, typeName, true
}

// step resolves one attribute access or method call on a receiver known
// either as a live value or only by its type name.
func (s *Session) step(v starlark.Value, typeName string, seg segment) (starlark.Value, string, bool) {
	if v != nil {
		typeName = v.Type()
		if ha, ok := v.(starlark.HasAttrs); ok && !seg.call {
			if av, err := ha.Attr(seg.name); err == nil && av != nil {
				return av, av.Type(), true
			}
		}
	}
	doc, ok := s.docs.Member(typeName, seg.name)
	if !ok || doc.Returns == "" {
		return nil, "", false
	}
	return nil, doc.Returns, true
}

// resolveExpr is resolveChain for parsed expressions, whose chains may
// start at a literal.
func (s *Session) resolveExpr(e syntax.Expr, locals map[string]string) (starlark.Value, string, bool) {
	switch x := e.(type) {
	case *syntax.Ident:
		return s.resolveName(segment{name: x.Name}, locals)
	case *syntax.DotExpr:
		v, t, ok := s.resolveExpr(x.X, locals)
		if !ok {
			return nil, "", false
		}
		return s.step(v, t, segment{name: x.Name.Name})
	case *syntax.CallExpr:
		switch fn := x.Fn.(type) {
		case *syntax.Ident:
			return s.resolveName(segment{name: fn.Name, call: true}, locals)
		case *syntax.DotExpr:
			v, t, ok := s.resolveExpr(fn.X, locals)
			if !ok {
				return nil, "", false
			}
			return s.step(v, t, segment{name: fn.Name.Name, call: true})
		}
		return nil, "", false
	}
	if t := s.inferType(e, locals); t != "" {
		return nil, t, true
	}
	return nil, "", false
}

// callResult is the documented result type of calling a bare name.
func (s *Session) callResult(name string, v starlark.Value) string {
	if qualified, ok := s.loads[name]; ok {
		module, member, _ := strings.Cut(qualified, ".")
		if doc, ok := s.docs.Modules[module][member]; ok {
			return doc.Returns
		}
	}
	if doc, ok := s.docs.Globals[name]; ok {
		return doc.Returns
	}
	if b, ok := v.(*starlark.Builtin); ok {
		if doc, ok := s.docs.Globals[b.Name()]; ok {
			return doc.Returns
		}
	}
	return ""
}

func (s *Session) attributeNames(v starlark.Value, typeName string) []string {
	var names []string
	if ha, ok := v.(starlark.HasAttrs); ok {
		names = append(names, ha.AttrNames()...)
	}
	if v != nil {
		typeName = v.Type()
	}
	if td, ok := s.docs.Types[typeName]; ok {
		for name := range td.Members {
			names = append(names, name)
		}
	}
	return names
}

func (s *Session) visibleNames(locals map[string]string) []string {
	names := make([]string, 0, len(s.globals)+len(locals)+len(starlark.Universe)+len(keywords))
	for name := range s.globals {
		names = append(names, name)
	}
	for name := range locals {
		names = append(names, name)
	}
	for name := range starlark.Universe {
		names = append(names, name)
	}
	return append(names, keywords...)
}

// localTypes parses the complete units before offset and infers types for
// the names they bind, without running them.
func (s *Session) localTypes(code string, offset int) map[string]string {
	locals := make(map[string]string)
	rest := code
	consumed := 0
	for {
		unit := Split(rest)
		if unit.Completeness == shell.Empty || unit.Source == "" {
			break
		}
		if consumed+len(unit.Source) > offset {
			break
		}
		if f, err := fileOptions.Parse("<completion>", unit.Source, 0); err == nil {
			s.bindLocals(f, locals)
		}
		consumed += len(unit.Source)
		rest = unit.Remaining
	}
	return locals
}

func (s *Session) bindLocals(f *syntax.File, locals map[string]string) {
	for _, stmt := range f.Stmts {
		switch x := stmt.(type) {
		case *syntax.AssignStmt:
			if id, ok := x.LHS.(*syntax.Ident); ok && x.Op == syntax.EQ {
				locals[id.Name] = s.inferType(x.RHS, locals)
				continue
			}
			for _, name := range boundIdents(x.LHS) {
				locals[name] = ""
			}
		case *syntax.DefStmt:
			locals[x.Name.Name] = "function"
		case *syntax.ForStmt:
			for _, name := range boundIdents(x.Vars) {
				locals[name] = ""
			}
		case *syntax.LoadStmt:
			module, _ := x.Module.Value.(string)
			for i, to := range x.To {
				locals[to.Name] = ""
				if v, ok := s.modules[module][x.From[i].Name]; ok {
					locals[to.Name] = v.Type()
				}
			}
		}
	}
}

// inferType gives the static type of an expression where it is evident.
func (s *Session) inferType(e syntax.Expr, locals map[string]string) string {
	switch x := e.(type) {
	case *syntax.Literal:
		switch x.Token {
		case syntax.STRING:
			return "string"
		case syntax.BYTES:
			return "bytes"
		case syntax.INT:
			return "int"
		case syntax.FLOAT:
			return "float"
		}
	case *syntax.ListExpr, *syntax.Comprehension:
		if c, ok := x.(*syntax.Comprehension); ok && c.Curly {
			return "dict"
		}
		return "list"
	case *syntax.DictExpr:
		return "dict"
	case *syntax.TupleExpr:
		return "tuple"
	case *syntax.ParenExpr:
		return s.inferType(x.X, locals)
	case *syntax.BinaryExpr:
		switch x.Op {
		case syntax.EQL, syntax.NEQ, syntax.LT, syntax.GT, syntax.LE, syntax.GE, syntax.IN, syntax.NOT_IN:
			return "bool"
		}
		return s.inferType(x.X, locals)
	case *syntax.Ident:
		switch x.Name {
		case "True", "False":
			return "bool"
		case "None":
			return "NoneType"
		}
		v, typeName, _ := s.resolveExpr(x, locals)
		if v != nil {
			return v.Type()
		}
		return typeName
	case *syntax.DotExpr, *syntax.CallExpr:
		v, typeName, _ := s.resolveExpr(x, locals)
		if v != nil {
			return v.Type()
		}
		return typeName
	}
	return ""
}

// chainBefore reads the receiver chain that ends with a '.' right before
// pos, for instance "db.select(a)" in "db.select(a).wh".
func chainBefore(code string, pos int) ([]segment, bool) {
	if pos == 0 || code[pos-1] != '.' {
		return nil, false
	}
	var chain []segment
	i := pos - 1
	for {
		call := false
		end := i
		if end > 0 && code[end-1] == ')' {
			open := matchingParen(code, end-1)
			if open < 0 {
				return nil, false
			}
			call = true
			end = open
		}
		start := identStart(code, end)
		if start == end {
			return nil, false
		}
		chain = append([]segment{{name: code[start:end], call: call}}, chain...)
		if start == 0 || code[start-1] != '.' {
			return chain, true
		}
		i = start - 1
	}
}

// chainAt reads the chain whose last identifier spans pos. When pos is not
// on an identifier, the function of the innermost open call is used.
func chainAt(code string, pos int) ([]segment, bool) {
	end := pos
	for end < len(code) && isIdentByte(code[end]) {
		end++
	}
	start := identStart(code, pos)
	if start == end {
		open := enclosingParen(code, pos)
		if open < 0 {
			return nil, false
		}
		end = open
		start = identStart(code, end)
		if start == end {
			return nil, false
		}
	}

	last := segment{name: code[start:end]}
	if receiver, ok := chainBefore(code, start); ok {
		return append(receiver, last), true
	}
	return []segment{last}, true
}

func identStart(code string, pos int) int {
	start := pos
	for start > 0 && isIdentByte(code[start-1]) {
		start--
	}
	return start
}

// matchingParen finds the '(' matching the ')' at close, or -1.
func matchingParen(code string, close int) int {
	depth := 0
	for i := close; i >= 0; i-- {
		switch code[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// enclosingParen finds the innermost unclosed '(' before pos, or -1.
func enclosingParen(code string, pos int) int {
	depth := 0
	for i := pos - 1; i >= 0; i-- {
		switch code[i] {
		case ')':
			depth++
		case '(':
			if depth == 0 {
				return i
			}
			depth--
		case '\n':
			if depth == 0 && i > 0 && code[i-1] != '\\' {
				return -1
			}
		}
	}
	return -1
}

// lexicalContext reports whether pos lies inside a string literal or a
// comment.
func lexicalContext(code string, pos int) (inString, inComment bool) {
	quote := ""
	for i := 0; i < pos; i++ {
		c := code[i]
		if quote != "" {
			switch {
			case c == '\\':
				i++
			case strings.HasPrefix(code[i:], quote):
				i += len(quote) - 1
				quote = ""
			case c == '\n' && len(quote) == 1:
				quote = ""
			}
			continue
		}
		switch c {
		case '#':
			nl := strings.IndexByte(code[i:pos], '\n')
			if nl < 0 {
				return false, true
			}
			i += nl
		case '"', '\'':
			if strings.HasPrefix(code[i:], strings.Repeat(string(c), 3)) {
				quote = strings.Repeat(string(c), 3)
				i += 2
			} else {
				quote = string(c)
			}
		}
	}
	return quote != "", false
}

func functionSignature(fn *starlark.Function) string {
	params := make([]string, fn.NumParams())
	for i := range params {
		name, _ := fn.Param(i)
		params[i] = name
	}
	return fmt.Sprintf("%s(%s)", fn.Name(), strings.Join(params, ", "))
}

func sortedUnique(names []string) []string {
	sort.Strings(names)
	out := names[:0]
	for i, name := range names {
		if i > 0 && name == names[i-1] {
			continue
		}
		out = append(out, name)
	}
	return out
}

func clamp(pos, n int) int {
	if pos < 0 {
		return 0
	}
	if pos > n {
		return n
	}
	return pos
}
