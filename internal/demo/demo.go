// Package demo holds runnable walkthroughs of the mapper. Each scenario
// declares its own schema, creates the tables it needs and prints what it
// does to an io.Writer. Scenarios expect an empty database.
package demo

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mickamy/relmap/orm"
)

// Env is what a scenario runs against.
type Env struct {
	DB     *orm.DB
	Out    io.Writer
	Logger orm.Logger // optional; receives every statement
}

type scenario struct {
	name    string
	summary string
	run     func(ctx context.Context, r *runner) error
}

var scenarios = []scenario{
	{"crud", "insert, query, update and delete one record type", crud},
	{"one-to-one", "a user with a single address", oneToOne},
	{"one-to-many", "teachers and their posts with back-references", oneToMany},
	{"many-to-many", "students and courses through an association table", manyToMany},
	{"follow", "users following users through an association table", follow},
	{"linked-list", "nodes pointing at the next node", linkedList},
	{"loading", "statements issued by each load policy", loading},
	{"deferred", "fields loaded on first access", deferred},
	{"joins", "inner, left, full and anti joins", joins},
}

// Names returns the scenario names in presentation order.
func Names() []string {
	out := make([]string, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.name
	}
	return out
}

// Summary returns the one-line description of a scenario.
func Summary(name string) (string, bool) {
	for _, s := range scenarios {
		if s.name == name {
			return s.summary, true
		}
	}
	return "", false
}

// Run executes the named scenario.
func Run(ctx context.Context, name string, env Env) error {
	for _, s := range scenarios {
		if s.name != name {
			continue
		}
		t := &tally{next: env.Logger}
		r := &runner{db: env.DB.Debug(t), out: env.Out, tally: t}
		if err := s.run(ctx, r); err != nil {
			return fmt.Errorf("demo %s: %w", name, err)
		}
		return nil
	}
	return fmt.Errorf("unknown scenario %q (available: %s)", name, strings.Join(Names(), ", "))
}

// tally counts statements and forwards them.
type tally struct {
	next orm.Logger
	n    int
}

func (t *tally) Log(ctx context.Context, query string, args ...any) {
	t.n++
	if t.next != nil {
		t.next.Log(ctx, query, args...)
	}
}

type runner struct {
	db    *orm.DB
	out   io.Writer
	tally *tally
}

func (r *runner) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

// open creates the tables of reg and starts a session.
func (r *runner) open(ctx context.Context, reg *orm.Registry) (*orm.Session, error) {
	if err := orm.CreateAll(ctx, r.db, reg); err != nil {
		return nil, err
	}
	return orm.NewSession(r.db, reg)
}

// statements returns the number of statements since the last call.
func (r *runner) statements() int {
	n := r.tally.n
	r.tally.n = 0
	return n
}

func teacherType(rels ...*orm.Relationship) *orm.RecordType {
	return orm.NewRecordType("Teacher",
		orm.IntField("id").PrimaryKey(),
		orm.StringField("name"),
		orm.TextField("bio").Nullable().Deferred(),
	).Relate(rels...)
}

func postType(rels ...*orm.Relationship) *orm.RecordType {
	return orm.NewRecordType("Post",
		orm.IntField("id").PrimaryKey(),
		orm.TextField("content"),
		orm.IntField("teacher_id").Nullable(),
	).Relate(rels...)
}

// list joins field of records with ", ".
func list(records []*orm.Record, field string) string {
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = fmt.Sprint(rec.Value(field))
	}
	return strings.Join(out, ", ")
}

func sorted(records []*orm.Record, field string) string {
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = fmt.Sprint(rec.Value(field))
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
