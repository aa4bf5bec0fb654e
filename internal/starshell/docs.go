package starshell

import (
	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

// Doc documents one function, method or value.
type Doc struct {
	Signature string
	Text      string
	// Returns is the Starlark type name of the result. Completion uses it
	// to follow call chains without running them.
	Returns string
}

// TypeDoc documents a Starlark type and its attributes.
type TypeDoc struct {
	Name    string
	Text    string
	Members map[string]Doc
}

// Docs is the documentation index a session consults.
type Docs struct {
	// Globals documents predeclared and universe names.
	Globals map[string]Doc
	// Modules documents members of loadable modules, keyed by module name.
	Modules map[string]map[string]Doc
	// Types is keyed by the value's Type() string.
	Types map[string]*TypeDoc
}

// NewDocs returns an empty index.
func NewDocs() *Docs {
	return &Docs{
		Globals: make(map[string]Doc),
		Modules: make(map[string]map[string]Doc),
		Types:   make(map[string]*TypeDoc),
	}
}

// Merge copies other into d. Entries in other win.
func (d *Docs) Merge(other *Docs) {
	if other == nil {
		return
	}
	for name, doc := range other.Globals {
		d.Globals[name] = doc
	}
	for module, members := range other.Modules {
		if d.Modules[module] == nil {
			d.Modules[module] = make(map[string]Doc)
		}
		for name, doc := range members {
			d.Modules[module][name] = doc
		}
	}
	for name, td := range other.Types {
		existing, ok := d.Types[name]
		if !ok {
			d.Types[name] = &TypeDoc{Name: td.Name, Text: td.Text, Members: make(map[string]Doc)}
			existing = d.Types[name]
		} else if td.Text != "" {
			existing.Text = td.Text
		}
		for member, doc := range td.Members {
			existing.Members[member] = doc
		}
	}
}

// Member returns the documentation of attribute name on type typeName.
func (d *Docs) Member(typeName, name string) (Doc, bool) {
	td, ok := d.Types[typeName]
	if !ok {
		return Doc{}, false
	}
	doc, ok := td.Members[name]
	return doc, ok
}

// StandardModules returns the modules every session can load.
func StandardModules() map[string]starlark.StringDict {
	return map[string]starlark.StringDict{
		"json": json.Module.Members,
		"math": math.Module.Members,
		"time": time.Module.Members,
	}
}

// BuiltinDocs documents the universe, eprint and the standard modules.
func BuiltinDocs() *Docs {
	d := NewDocs()
	d.Globals = map[string]Doc{
		"print":     {Signature: "print(*args, sep=\" \")", Text: "Writes its arguments, separated by sep, to the output stream.", Returns: "NoneType"},
		"eprint":    {Signature: "eprint(*args, sep=\" \")", Text: "Writes its arguments, separated by sep, to the error stream.", Returns: "NoneType"},
		"len":       {Signature: "len(x)", Text: "Returns the number of elements in a string, bytes, list, tuple, dict or result.", Returns: "int"},
		"str":       {Signature: "str(x)", Text: "Returns the string form of x.", Returns: "string"},
		"repr":      {Signature: "repr(x)", Text: "Returns the quoted string form of x.", Returns: "string"},
		"int":       {Signature: "int(x, base=10)", Text: "Converts x to an integer.", Returns: "int"},
		"float":     {Signature: "float(x)", Text: "Converts x to a floating point number.", Returns: "float"},
		"bool":      {Signature: "bool(x)", Text: "Returns the truth value of x.", Returns: "bool"},
		"list":      {Signature: "list(iterable=())", Text: "Returns a new list holding the elements of iterable.", Returns: "list"},
		"dict":      {Signature: "dict(pairs=(), **kwargs)", Text: "Returns a new dictionary.", Returns: "dict"},
		"tuple":     {Signature: "tuple(iterable=())", Text: "Returns a tuple holding the elements of iterable.", Returns: "tuple"},
		"range":     {Signature: "range(start, stop, step=1)", Text: "Returns an immutable sequence of integers.", Returns: "range"},
		"enumerate": {Signature: "enumerate(iterable, start=0)", Text: "Returns a list of (index, element) pairs.", Returns: "list"},
		"sorted":    {Signature: "sorted(iterable, key=None, reverse=False)", Text: "Returns a new sorted list.", Returns: "list"},
		"type":      {Signature: "type(x)", Text: "Returns the name of the type of x.", Returns: "string"},
		"dir":       {Signature: "dir(x)", Text: "Returns the attribute names of x.", Returns: "list"},
		"getattr":   {Signature: "getattr(x, name, default)", Text: "Returns the attribute name of x.", Returns: ""},
		"hasattr":   {Signature: "hasattr(x, name)", Text: "Reports whether x has an attribute name.", Returns: "bool"},
		"fail":      {Signature: "fail(*args, sep=\" \")", Text: "Raises an error carrying the given message.", Returns: "NoneType"},
		"load":      {Signature: "load(module, *names, **aliases)", Text: "Makes members of a module visible as globals.", Returns: ""},
	}

	d.Types["string"] = &TypeDoc{Name: "string", Text: "An immutable sequence of bytes holding UTF-8 text.", Members: map[string]Doc{
		"format":     {Signature: "string.format(*args, **kwargs)", Text: "Substitutes {} fields with arguments.", Returns: "string"},
		"join":       {Signature: "string.join(iterable)", Text: "Concatenates the strings of iterable separated by the receiver.", Returns: "string"},
		"lower":      {Signature: "string.lower()", Text: "Returns the string in lower case.", Returns: "string"},
		"upper":      {Signature: "string.upper()", Text: "Returns the string in upper case.", Returns: "string"},
		"replace":    {Signature: "string.replace(old, new, count=-1)", Text: "Replaces occurrences of old by new.", Returns: "string"},
		"split":      {Signature: "string.split(sep=None, maxsplit=-1)", Text: "Splits the string around sep.", Returns: "list"},
		"startswith": {Signature: "string.startswith(prefix)", Text: "Reports whether the string starts with prefix.", Returns: "bool"},
		"endswith":   {Signature: "string.endswith(suffix)", Text: "Reports whether the string ends with suffix.", Returns: "bool"},
		"strip":      {Signature: "string.strip(cutset=None)", Text: "Removes leading and trailing whitespace.", Returns: "string"},
	}}
	d.Types["list"] = &TypeDoc{Name: "list", Text: "A mutable sequence of values.", Members: map[string]Doc{
		"append": {Signature: "list.append(x)", Text: "Appends x to the list.", Returns: "NoneType"},
		"extend": {Signature: "list.extend(iterable)", Text: "Appends all elements of iterable.", Returns: "NoneType"},
		"index":  {Signature: "list.index(x, start=0, end=None)", Text: "Returns the index of the first occurrence of x.", Returns: "int"},
		"insert": {Signature: "list.insert(index, x)", Text: "Inserts x at index.", Returns: "NoneType"},
		"pop":    {Signature: "list.pop(index=-1)", Text: "Removes and returns the element at index.", Returns: ""},
		"remove": {Signature: "list.remove(x)", Text: "Removes the first occurrence of x.", Returns: "NoneType"},
	}}
	d.Types["dict"] = &TypeDoc{Name: "dict", Text: "A mutable mapping preserving insertion order.", Members: map[string]Doc{
		"get":    {Signature: "dict.get(key, default=None)", Text: "Returns the value for key, or default.", Returns: ""},
		"items":  {Signature: "dict.items()", Text: "Returns the (key, value) pairs.", Returns: "list"},
		"keys":   {Signature: "dict.keys()", Text: "Returns the keys.", Returns: "list"},
		"values": {Signature: "dict.values()", Text: "Returns the values.", Returns: "list"},
		"pop":    {Signature: "dict.pop(key, default)", Text: "Removes key and returns its value.", Returns: ""},
		"update": {Signature: "dict.update(pairs=(), **kwargs)", Text: "Adds the given entries.", Returns: "NoneType"},
	}}

	d.Modules["math"] = map[string]Doc{
		"floor": {Signature: "math.floor(x)", Text: "Returns the largest integer not greater than x.", Returns: "int"},
		"ceil":  {Signature: "math.ceil(x)", Text: "Returns the smallest integer not less than x.", Returns: "int"},
		"sqrt":  {Signature: "math.sqrt(x)", Text: "Returns the square root of x.", Returns: "float"},
		"pow":   {Signature: "math.pow(x, y)", Text: "Returns x raised to the power y.", Returns: "float"},
		"round": {Signature: "math.round(x)", Text: "Rounds x to the nearest integer, halves away from zero.", Returns: "float"},
		"pi":    {Signature: "math.pi", Text: "The ratio of a circle's circumference to its diameter.", Returns: "float"},
	}
	d.Modules["json"] = map[string]Doc{
		"encode": {Signature: "json.encode(x)", Text: "Returns the JSON encoding of x.", Returns: "string"},
		"decode": {Signature: "json.decode(s)", Text: "Returns the Starlark value denoted by the JSON text s.", Returns: ""},
		"indent": {Signature: "json.indent(s, prefix=\"\", indent=\"\\t\")", Text: "Returns the JSON text s re-indented.", Returns: "string"},
	}
	d.Modules["time"] = map[string]Doc{
		"now":            {Signature: "time.now()", Text: "Returns the current local time.", Returns: "time.time"},
		"parse_time":     {Signature: "time.parse_time(x, format=\"2006-01-02T15:04:05Z07:00\", location=\"UTC\")", Text: "Parses a timestamp.", Returns: "time.time"},
		"parse_duration": {Signature: "time.parse_duration(d)", Text: "Parses a duration string such as \"1h30m\".", Returns: "time.duration"},
	}
	return d
}
