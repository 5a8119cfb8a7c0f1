package orm_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/mickamy/relmap/orm"
)

type plain struct{}

type valueNamer struct{}

func (valueNamer) TableName() string { return "custom_values" }

type ptrNamer struct{}

func (*ptrNamer) TableName() string { return "custom_ptrs" }

func TestResolveTableName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		resolve  func() string
		expected string
	}{
		{
			name:     "fallback when TableNamer not implemented",
			resolve:  func() string { return orm.ResolveTableName[plain]("fallback") },
			expected: "fallback",
		},
		{
			name:     "value receiver",
			resolve:  func() string { return orm.ResolveTableName[valueNamer]("fallback") },
			expected: "custom_values",
		},
		{
			name:     "pointer receiver",
			resolve:  func() string { return orm.ResolveTableName[ptrNamer]("fallback") },
			expected: "custom_ptrs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.resolve(); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

type Writer struct {
	ID        int
	Name      string
	Bio       *string   `db:"biography,deferred"`
	Secret    string    `db:"-"`
	CreatedAt time.Time `db:"created_at,createdAt"`
	Novels    []Novel   `rel:"has_many,foreign_key:writer_id,load:selectin"`
}

type Novel struct {
	ID       int
	Title    string
	WriterID int `db:"writer_id,references:Writer.id"`
}

func (Novel) TableName() string { return "novel_table" }

func TestDefine(t *testing.T) {
	t.Parallel()

	rt, err := orm.Define[Writer]()
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	if rt.Name() != "Writer" || rt.Table() != "writers" {
		t.Errorf("name/table = %s/%s", rt.Name(), rt.Table())
	}
	var names []string
	for _, f := range rt.Fields() {
		names = append(names, f.Name())
	}
	if want := []string{"id", "name", "biography", "created_at"}; !reflect.DeepEqual(names, want) {
		t.Errorf("fields = %v, want %v", names, want)
	}
	if pk := rt.PrimaryKey(); pk == nil || pk.Name() != "id" {
		t.Errorf("PrimaryKey = %v", pk)
	}
	bio, _ := rt.Field("biography")
	if !bio.IsDeferred() || !bio.IsNullable() || bio.Type() != orm.String {
		t.Errorf("biography = deferred %t nullable %t type %s", bio.IsDeferred(), bio.IsNullable(), bio.Type())
	}
	rel, ok := rt.Relation("novels")
	if !ok {
		t.Fatal("relation novels missing")
	}
	if rel.Kind() != orm.OneToMany || rel.Target() != "Novel" || rel.Policy() != orm.LazyBatch {
		t.Errorf("novels = %s %s %s", rel.Kind(), rel.Target(), rel.Policy())
	}

	novel, err := orm.Define[Novel]()
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	if novel.Table() != "novel_table" {
		t.Errorf("Table = %q, want novel_table", novel.Table())
	}
	reg := orm.NewRegistry()
	if err := reg.Register(rt, novel); err != nil {
		t.Fatal(err)
	}
	if err := reg.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	rt, err := orm.Define[Writer]()
	if err != nil {
		t.Fatal(err)
	}
	bio := "born somewhere"
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	values, err := orm.Encode(Writer{Name: "Ann", Bio: &bio, Secret: "x", CreatedAt: at})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, ok := values["id"]; ok {
		t.Error("zero primary key must be omitted")
	}
	if _, ok := values["secret"]; ok {
		t.Error("skipped field encoded")
	}

	r, err := orm.NewRecord(rt, values)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	got, err := orm.Decode[Writer](r)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Name != "Ann" || got.Bio == nil || *got.Bio != bio || !got.CreatedAt.Equal(at) {
		t.Errorf("Decode = %+v", got)
	}
}
