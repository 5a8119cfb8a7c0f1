package orm_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mickamy/relmap/orm"
)

// newLibrary returns the schema shared by the session and query tests:
//
//	Author 1-n Book (books, policy booksPolicy), Author 1-1 Profile,
//	Book n-n Tag through BookTag, User n-n User through Follow,
//	Node -> Node through next_id.
func newLibrary(t *testing.T, booksPolicy orm.LoadPolicy) *orm.Registry {
	t.Helper()

	reg := orm.NewRegistry()
	err := reg.Register(
		orm.NewRecordType("Author",
			orm.IntField("id").PrimaryKey(),
			orm.StringField("name"),
			orm.TextField("bio").Nullable().Deferred(),
		).Relate(
			orm.HasMany("books", "Book", "author_id").Load(booksPolicy).BackRef("author"),
			orm.HasMany("catalog", "Book", "author_id").Load(orm.ExplicitOnly),
			orm.HasMany("drafts", "Book", "author_id").Load(orm.WriteOnly),
			orm.HasMany("titles", "Book", "author_id").Load(orm.Dynamic),
			orm.HasOne("profile", "Profile", "author_id"),
		),
		orm.NewRecordType("Profile",
			orm.IntField("id").PrimaryKey(),
			orm.IntField("author_id").Unique(),
			orm.StringField("website").Nullable(),
		),
		orm.NewRecordType("Book",
			orm.IntField("id").PrimaryKey(),
			orm.StringField("title"),
			orm.IntField("author_id").Nullable(),
			orm.TimeField("created_at").Nullable().CreatedAt(),
			orm.TimeField("updated_at").Nullable().UpdatedAt(),
		).Relate(
			orm.BelongsTo("author", "Author", "author_id").BackRef("books"),
			orm.ManyToMany("tags", "Tag", "BookTag", "book_id", "tag_id").Load(orm.LazyBatch),
		),
		orm.NewRecordType("Tag",
			orm.IntField("id").PrimaryKey(),
			orm.StringField("name").Unique(),
		),
		orm.NewRecordType("BookTag",
			orm.IntField("book_id"),
			orm.IntField("tag_id"),
		).Association(),
		orm.NewRecordType("User",
			orm.IntField("id").PrimaryKey(),
			orm.StringField("name"),
		).Relate(
			orm.SelfRefThrough("following", "Follow", "follower_id", "followed_id").BackRef("followers"),
			orm.SelfRefThrough("followers", "Follow", "followed_id", "follower_id").BackRef("following"),
		),
		orm.NewRecordType("Follow",
			orm.IntField("follower_id"),
			orm.IntField("followed_id"),
		).Association(),
		orm.NewRecordType("Node",
			orm.IntField("id").PrimaryKey(),
			orm.StringField("label"),
			orm.IntField("next_id").Nullable(),
		).Relate(
			orm.SelfRef("next", "next_id"),
		),
	)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	return reg
}

// statementLog counts the statements submitted through a DB.
type statementLog struct {
	queries []string
}

func (l *statementLog) Log(_ context.Context, query string, _ ...any) {
	l.queries = append(l.queries, query)
}

func (l *statementLog) reset() { l.queries = nil }

func (l *statementLog) selects() int {
	n := 0
	for _, q := range l.queries {
		if strings.HasPrefix(q, "SELECT") {
			n++
		}
	}
	return n
}

// openLibrary opens a fresh SQLite database file with the library schema.
func openLibrary(t *testing.T, booksPolicy orm.LoadPolicy) (*orm.DB, *orm.Registry, *statementLog) {
	t.Helper()

	reg := newLibrary(t, booksPolicy)
	path := filepath.Join(t.TempDir(), "library.db")
	log := &statementLog{}
	db, err := orm.Open(t.Context(), "sqlite://"+path, orm.WithLogger(log))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := orm.CreateAll(t.Context(), db, reg); err != nil {
		t.Fatalf("CreateAll: %v", err)
	}
	log.reset()
	return db, reg, log
}

func newSession(t *testing.T, db *orm.DB, reg *orm.Registry) *orm.Session {
	t.Helper()

	sess, err := orm.NewSession(db, reg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}
