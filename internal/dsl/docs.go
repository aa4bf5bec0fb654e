package dsl

import "github.com/leapstack-labs/leaprepl/internal/starshell"

// Docs documents the query builder for completion and documentation
// queries.
func Docs() *starshell.Docs {
	d := starshell.NewDocs()

	d.Globals["connect"] = starshell.Doc{
		Signature: "connect(url, user=None, password=None)",
		Text:      "Opens a connection and returns a query builder for it. The scheme of url selects the driver: postgres, duckdb or sqlite.",
		Returns:   "query_builder",
	}
	d.Globals["offline"] = starshell.Doc{
		Signature: "offline(dialect)",
		Text:      "Returns a query builder that renders statements for dialect without connecting.",
		Returns:   "query_builder",
	}
	d.Globals["setting"] = starshell.Doc{
		Signature: "setting(name, default=None)",
		Text:      "Reads a named setting the sandbox grants access to.",
		Returns:   "string",
	}

	d.Modules[ModuleName] = map[string]starshell.Doc{
		"field": {Signature: "sql.field(name)", Text: "Returns a reference to the column name.", Returns: "field"},
		"table": {Signature: "sql.table(name)", Text: "Returns a reference to the table name. Its attributes are column references.", Returns: "table"},
		"asc":   {Signature: "sql.asc(field)", Text: "Orders by field, ascending.", Returns: "sort_field"},
		"desc":  {Signature: "sql.desc(field)", Text: "Orders by field, descending.", Returns: "sort_field"},
		"count": {Signature: "sql.count(field=None)", Text: "COUNT over field, or COUNT(*) without one.", Returns: "field"},
		"val":   {Signature: "sql.val(value)", Text: "Binds value as a parameter where a field is expected.", Returns: "val"},
		"and_":  {Signature: "sql.and_(*conditions)", Text: "Joins conditions with AND.", Returns: "condition"},
		"or_":   {Signature: "sql.or_(*conditions)", Text: "Joins conditions with OR.", Returns: "condition"},
		"not_":  {Signature: "sql.not_(condition)", Text: "Negates condition.", Returns: "condition"},
	}

	d.Types["query_builder"] = &starshell.TypeDoc{
		Name: "query_builder",
		Text: "Builds and runs statements against one database.",
		Members: map[string]starshell.Doc{
			"dialect":   {Signature: "query_builder.dialect", Text: "The SQL dialect name.", Returns: "string"},
			"select":    {Signature: "query_builder.select(*fields)", Text: "Starts a SELECT of fields, or of every column when none are given.", Returns: "select_query"},
			"table":     {Signature: "query_builder.table(name)", Text: "Returns a table reference whose columns are known.", Returns: "table"},
			"fetch":     {Signature: "query_builder.fetch(sql, *params)", Text: "Runs a query and returns its rows.", Returns: "result"},
			"fetch_one": {Signature: "query_builder.fetch_one(sql, *params)", Text: "Runs a query and returns its first row as a dict, or None.", Returns: "dict"},
			"execute":   {Signature: "query_builder.execute(sql, *params)", Text: "Runs a statement and returns the number of affected rows.", Returns: "int"},
			"tables":    {Signature: "query_builder.tables()", Text: "Lists the tables of the default schema.", Returns: "list"},
			"describe":  {Signature: "query_builder.describe(table)", Text: "Describes the columns of table.", Returns: "result"},
		},
	}

	d.Types["select_query"] = &starshell.TypeDoc{
		Name: "select_query",
		Text: "An immutable SELECT statement. Every method returns a new query.",
		Members: map[string]starshell.Doc{
			"from_":    {Signature: "select_query.from_(table)", Text: "Sets the table to select from.", Returns: "select_query"},
			"where":    {Signature: "select_query.where(*conditions)", Text: "Adds conditions, joined with AND.", Returns: "select_query"},
			"order_by": {Signature: "select_query.order_by(*fields)", Text: "Adds ORDER BY entries.", Returns: "select_query"},
			"limit":    {Signature: "select_query.limit(n)", Text: "Limits the number of rows.", Returns: "select_query"},
			"offset":   {Signature: "select_query.offset(n)", Text: "Skips the first n rows.", Returns: "select_query"},
			"sql":      {Signature: "select_query.sql()", Text: "Renders the statement.", Returns: "string"},
			"params":   {Signature: "select_query.params()", Text: "Returns the bind parameters in placeholder order.", Returns: "list"},
			"fetch":    {Signature: "select_query.fetch()", Text: "Runs the query and returns its rows.", Returns: "result"},
			"count":    {Signature: "select_query.count()", Text: "Returns the number of rows the query would return.", Returns: "int"},
		},
	}

	d.Types["field"] = &starshell.TypeDoc{
		Name: "field",
		Text: "A column reference.",
		Members: map[string]starshell.Doc{
			"eq":          {Signature: "field.eq(value)", Text: "field = value. eq(None) tests IS NULL.", Returns: "condition"},
			"ne":          {Signature: "field.ne(value)", Text: "field <> value.", Returns: "condition"},
			"lt":          {Signature: "field.lt(value)", Text: "field < value.", Returns: "condition"},
			"le":          {Signature: "field.le(value)", Text: "field <= value.", Returns: "condition"},
			"gt":          {Signature: "field.gt(value)", Text: "field > value.", Returns: "condition"},
			"ge":          {Signature: "field.ge(value)", Text: "field >= value.", Returns: "condition"},
			"like":        {Signature: "field.like(pattern)", Text: "field LIKE pattern.", Returns: "condition"},
			"in_":         {Signature: "field.in_(values)", Text: "field IN (values).", Returns: "condition"},
			"is_null":     {Signature: "field.is_null()", Text: "field IS NULL.", Returns: "condition"},
			"is_not_null": {Signature: "field.is_not_null()", Text: "field IS NOT NULL.", Returns: "condition"},
			"asc":         {Signature: "field.asc()", Text: "Ascending order on field.", Returns: "sort_field"},
			"desc":        {Signature: "field.desc()", Text: "Descending order on field.", Returns: "sort_field"},
			"as_":         {Signature: "field.as_(alias)", Text: "Renames the field in a select list.", Returns: "field"},
		},
	}

	d.Types["condition"] = &starshell.TypeDoc{
		Name: "condition",
		Text: "A boolean expression. Combine conditions with & and |.",
		Members: map[string]starshell.Doc{
			"and_": {Signature: "condition.and_(other)", Text: "Both conditions hold.", Returns: "condition"},
			"or_":  {Signature: "condition.or_(other)", Text: "Either condition holds.", Returns: "condition"},
			"not_": {Signature: "condition.not_()", Text: "The condition does not hold.", Returns: "condition"},
		},
	}

	d.Types["table"] = &starshell.TypeDoc{
		Name: "table",
		Text: "A table reference. Attributes name its columns.",
		Members: map[string]starshell.Doc{
			"as_": {Signature: "table.as_(alias)", Text: "Aliases the table.", Returns: "table"},
		},
	}

	d.Types["result"] = &starshell.TypeDoc{
		Name: "result",
		Text: "Rows returned by a query. Indexing and iteration yield row tuples.",
		Members: map[string]starshell.Doc{
			"columns":      {Signature: "result.columns", Text: "The column names.", Returns: "list"},
			"rows":         {Signature: "result.rows", Text: "The rows as tuples.", Returns: "list"},
			"records":      {Signature: "result.records", Text: "The rows as dicts keyed by column.", Returns: "list"},
			"column":       {Signature: "result.column(name)", Text: "The values of one column.", Returns: "list"},
			"format_json":  {Signature: "result.format_json()", Text: "Renders the rows as a JSON grid document.", Returns: "string"},
			"format_table": {Signature: "result.format_table()", Text: "Renders the rows as a text table.", Returns: "string"},
		},
	}

	return d
}
