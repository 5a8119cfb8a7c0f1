package scope_test

import (
	"reflect"
	"testing"

	"github.com/mickamy/relmap/expr"
	"github.com/mickamy/relmap/scope"
)

// mockApplier records calls from Scope.Apply for assertions.
type mockApplier struct {
	wheres   []expr.Predicate
	orderBys []appliedOrder
	groupBys []string
	undefers []string
	limit    *int
	offset   *int
}

type appliedOrder struct {
	field string
	desc  bool
}

func (m *mockApplier) ApplyWhere(p expr.Predicate) { m.wheres = append(m.wheres, p) }
func (m *mockApplier) ApplyOrderBy(field string, desc bool) {
	m.orderBys = append(m.orderBys, appliedOrder{field, desc})
}
func (m *mockApplier) ApplyGroupBy(fields ...string) { m.groupBys = append(m.groupBys, fields...) }
func (m *mockApplier) ApplyLimit(n int)              { m.limit = &n }
func (m *mockApplier) ApplyOffset(n int)             { m.offset = &n }
func (m *mockApplier) ApplyUndefer(fields ...string) { m.undefers = append(m.undefers, fields...) }

func render(t *testing.T, p expr.Predicate) (string, []any) {
	t.Helper()
	sql, args, err := expr.Render(p, func(f string) (string, error) { return f, nil })
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return sql, args
}

func TestWhere(t *testing.T) {
	t.Parallel()

	m := &mockApplier{}
	scope.Where(expr.Gt("age", 18)).Apply(m)

	if len(m.wheres) != 1 {
		t.Fatalf("expected 1 where, got %d", len(m.wheres))
	}
	sql, args := render(t, m.wheres[0])
	if sql != "age > ?" {
		t.Errorf("clause = %q, want %q", sql, "age > ?")
	}
	if len(args) != 1 || args[0] != 18 {
		t.Errorf("args = %v, want [18]", args)
	}
}

func TestRaw(t *testing.T) {
	t.Parallel()

	m := &mockApplier{}
	scope.Raw("name = ? AND role = ?", "alice", "admin").Apply(m)

	if len(m.wheres) != 1 {
		t.Fatalf("expected 1 where, got %d", len(m.wheres))
	}
	sql, args := render(t, m.wheres[0])
	if sql != "name = ? AND role = ?" {
		t.Errorf("clause = %q", sql)
	}
	if len(args) != 2 {
		t.Errorf("args = %v, want 2 args", args)
	}
}

func TestOrderBy(t *testing.T) {
	t.Parallel()

	m := &mockApplier{}
	scope.OrderBy("age").Apply(m)
	scope.OrderByDesc("created_at").Apply(m)

	want := []appliedOrder{{"age", false}, {"created_at", true}}
	if !reflect.DeepEqual(m.orderBys, want) {
		t.Errorf("orderBys = %v, want %v", m.orderBys, want)
	}
}

func TestGroupBy(t *testing.T) {
	t.Parallel()

	m := &mockApplier{}
	scope.GroupBy("sex", "age").Apply(m)

	if !reflect.DeepEqual(m.groupBys, []string{"sex", "age"}) {
		t.Errorf("groupBys = %v", m.groupBys)
	}
}

func TestLimit(t *testing.T) {
	t.Parallel()

	m := &mockApplier{}
	scope.Limit(10).Apply(m)

	if m.limit == nil || *m.limit != 10 {
		t.Errorf("limit = %v, want 10", m.limit)
	}
}

func TestOffset(t *testing.T) {
	t.Parallel()

	m := &mockApplier{}
	scope.Offset(20).Apply(m)

	if m.offset == nil || *m.offset != 20 {
		t.Errorf("offset = %v, want 20", m.offset)
	}
}

func TestUndefer(t *testing.T) {
	t.Parallel()

	m := &mockApplier{}
	scope.Undefer("nickname", "last_name").Apply(m)

	if !reflect.DeepEqual(m.undefers, []string{"nickname", "last_name"}) {
		t.Errorf("undefers = %v", m.undefers)
	}
}

func TestIn(t *testing.T) {
	t.Parallel()

	m := &mockApplier{}
	scope.In("id", []int{1, 2, 3}).Apply(m)

	if len(m.wheres) != 1 {
		t.Fatalf("expected 1 where, got %d", len(m.wheres))
	}
	sql, args := render(t, m.wheres[0])
	if sql != "id IN (?, ?, ?)" {
		t.Errorf("clause = %q, want %q", sql, "id IN (?, ?, ?)")
	}
	for i, want := range []int{1, 2, 3} {
		if args[i] != want {
			t.Errorf("args[%d] = %v, want %d", i, args[i], want)
		}
	}
}

func TestInEmpty(t *testing.T) {
	t.Parallel()

	m := &mockApplier{}
	scope.In("id", []int{}).Apply(m)

	sql, _ := render(t, m.wheres[0])
	if sql != "1 = 0" {
		t.Errorf("clause = %q, want %q", sql, "1 = 0")
	}
}

func TestPaginate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		page, perPage, wantOffset int
	}{
		{1, 10, 0},
		{3, 10, 20},
		{0, 5, 0},
	}
	for _, tt := range tests {
		m := &mockApplier{}
		for _, s := range scope.Paginate(tt.page, tt.perPage) {
			s.Apply(m)
		}
		if m.limit == nil || *m.limit != tt.perPage {
			t.Errorf("page %d: limit = %v, want %d", tt.page, m.limit, tt.perPage)
		}
		if m.offset == nil || *m.offset != tt.wantOffset {
			t.Errorf("page %d: offset = %v, want %d", tt.page, m.offset, tt.wantOffset)
		}
	}
}

func TestScopesAppend(t *testing.T) {
	t.Parallel()

	s1 := scope.Combine(scope.Where(expr.Eq("a", 1)))
	s2 := s1.Append(scope.Where(expr.Eq("b", 2)), scope.Limit(10))

	if len(s1) != 1 {
		t.Errorf("original modified: len = %d, want 1", len(s1))
	}
	if len(s2) != 3 {
		t.Errorf("appended len = %d, want 3", len(s2))
	}
}

func TestScopesMerge(t *testing.T) {
	t.Parallel()

	base := scope.Combine(scope.Where(expr.Eq("active", true)), scope.OrderBy("id"))
	page := scope.Combine(scope.Limit(20), scope.Offset(40))
	merged := base.Merge(page)

	if len(base) != 2 {
		t.Errorf("base modified: len = %d, want 2", len(base))
	}
	if len(page) != 2 {
		t.Errorf("page modified: len = %d, want 2", len(page))
	}
	if len(merged) != 4 {
		t.Errorf("merged len = %d, want 4", len(merged))
	}

	m := &mockApplier{}
	for _, s := range merged {
		s.Apply(m)
	}
	if len(m.wheres) != 1 {
		t.Errorf("wheres = %d, want 1", len(m.wheres))
	}
	if len(m.orderBys) != 1 {
		t.Errorf("orderBys = %d, want 1", len(m.orderBys))
	}
	if m.limit == nil || *m.limit != 20 {
		t.Errorf("limit = %v, want 20", m.limit)
	}
	if m.offset == nil || *m.offset != 40 {
		t.Errorf("offset = %v, want 40", m.offset)
	}
}

func TestScopesAppendDoesNotMutate(t *testing.T) {
	t.Parallel()

	original := scope.Combine(scope.Where(expr.Eq("x", 1)))
	_ = original.Append(scope.Where(expr.Eq("y", 2)))

	if len(original) != 1 {
		t.Fatalf("original mutated: len = %d", len(original))
	}
}
