package adapter

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseSQLAdapter_Close(t *testing.T) {
	tests := []struct {
		name    string
		setupDB bool
	}{
		{name: "close with nil DB", setupDB: false},
		{name: "close with open DB", setupDB: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &BaseSQLAdapter{}

			if tt.setupDB {
				db, mock, err := sqlmock.New()
				require.NoError(t, err)
				mock.ExpectClose()
				base.DB = db
			}

			assert.NoError(t, base.Close())
		})
	}
}

func TestBaseSQLAdapter_Exec(t *testing.T) {
	tests := []struct {
		name      string
		setupDB   bool
		setupMock func(mock sqlmock.Sqlmock)
		sql       string
		wantRows  int64
		errMsg    string
	}{
		{
			name:    "exec without connection",
			setupDB: false,
			sql:     "DELETE FROM users",
			errMsg:  "database connection not established",
		},
		{
			name:    "exec reports affected rows",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 3))
			},
			sql:      "UPDATE users SET active = 1",
			wantRows: 3,
		},
		{
			name:    "exec with error",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INVALID SQL").WillReturnError(assert.AnError)
			},
			sql:    "INVALID SQL",
			errMsg: "failed to execute SQL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &BaseSQLAdapter{}

			if tt.setupDB {
				db, mock, err := sqlmock.New()
				require.NoError(t, err)
				defer func() { _ = db.Close() }()
				tt.setupMock(mock)
				base.DB = db
			}

			n, err := base.Exec(context.Background(), tt.sql)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, n)
		})
	}
}

func TestBaseSQLAdapter_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT id, name FROM users").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "ada"))

	base := &BaseSQLAdapter{DB: db}
	rows, err := base.Query(context.Background(), "SELECT id, name FROM users WHERE id = ?", 1)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	require.True(t, rows.Next())
	var id int
	var name string
	require.NoError(t, rows.Scan(&id, &name))
	assert.Equal(t, "ada", name)
	require.NoError(t, rows.Err())
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = (&BaseSQLAdapter{}).Query(context.Background(), "SELECT 1")
	assert.ErrorContains(t, err, "database connection not established")
}

func TestBaseSQLAdapter_TablesCommon(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT table_name").
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("orders").AddRow("users"))

	d, _ := LookupDialect("postgres")
	base := &BaseSQLAdapter{DB: db}
	tables, err := base.TablesCommon(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, tables)
}

func TestBaseSQLAdapter_GetTableMetadataCommon(t *testing.T) {
	d, _ := LookupDialect("postgres")

	tests := []struct {
		name      string
		table     string
		setupMock func(mock sqlmock.Sqlmock)
		want      *Metadata
		errMsg    string
	}{
		{
			name:  "qualified table",
			table: "sales.orders",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT").
					WithArgs("sales", "orders").
					WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "ordinal_position"}).
						AddRow("id", "integer", "NO", 1).
						AddRow("note", "text", "YES", 2))
				mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "sales"."orders"`).
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
			},
			want: &Metadata{
				Schema: "sales",
				Name:   "orders",
				Columns: []Column{
					{Name: "id", Type: "integer", Nullable: false, Position: 1},
					{Name: "note", Type: "text", Nullable: true, Position: 2},
				},
				RowCount: 7,
			},
		},
		{
			name:  "missing table",
			table: "ghost",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT").
					WithArgs("public", "ghost").
					WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "ordinal_position"}))
			},
			errMsg: "table ghost not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer func() { _ = db.Close() }()
			tt.setupMock(mock)

			base := &BaseSQLAdapter{DB: db}
			got, err := base.GetTableMetadataCommon(context.Background(), tt.table, d)
			if tt.errMsg != "" {
				assert.ErrorContains(t, err, tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialect(t *testing.T) {
	pg, ok := LookupDialect("postgres")
	require.True(t, ok)
	lite, ok := LookupDialect("sqlite")
	require.True(t, ok)

	assert.Equal(t, "$2", pg.FormatPlaceholder(2))
	assert.Equal(t, "?", lite.FormatPlaceholder(2))
	assert.Equal(t, `"main"."a""b"`, lite.QuoteIdent(`main.a"b`))
	assert.Equal(t, `"t".*`, pg.QuoteIdent("t.*"))
	assert.Equal(t, "*", pg.QuoteIdent("*"))

	_, ok = LookupDialect("oracle")
	assert.False(t, ok)
}
