package orm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/relmap/expr"
	"github.com/mickamy/relmap/orm"
)

func values(t *testing.T, records []*orm.Record, field string) []any {
	t.Helper()

	out := make([]any, len(records))
	for i, r := range records {
		v, err := r.Get(t.Context(), field)
		require.NoError(t, err)
		out[i] = v
	}
	return out
}

// seedAuthor commits an author with the given book titles.
func seedAuthor(t *testing.T, sess *orm.Session, name string, titles ...string) *orm.Record {
	t.Helper()

	a, err := sess.New("Author", map[string]any{"name": name})
	require.NoError(t, err)
	bookType, err := sess.Registry().Type("Book")
	require.NoError(t, err)
	for _, title := range titles {
		b, err := orm.NewRecord(bookType, map[string]any{"title": title})
		require.NoError(t, err)
		require.NoError(t, a.Append("books", b))
	}
	require.NoError(t, sess.Commit(t.Context()))
	return a
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()

	sess := newSession(t, db, reg)
	a, err := sess.New("Author", map[string]any{"name": "Ann", "bio": "writes things"})
	require.NoError(t, err)
	require.Nil(t, a.PK())
	require.NoError(t, sess.Commit(ctx))
	require.NotNil(t, a.PK())

	other := newSession(t, db, reg)
	got, err := other.Get(ctx, "Author", a.PK())
	require.NoError(t, err)
	assert.NotSame(t, a, got)
	assert.False(t, got.IsLoaded("bio"))
	_, err = got.Get(ctx, "bio")
	require.NoError(t, err)
	assert.Equal(t, a.Values(), got.Values())
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	sess := newSession(t, db, reg)
	_, err := sess.Get(t.Context(), "Author", 42)
	assert.ErrorIs(t, err, orm.ErrNotFound)
	_, err = sess.Query("Author").Where(expr.Eq("name", "nobody")).First(t.Context())
	assert.ErrorIs(t, err, orm.ErrNotFound)
}

func TestIdentityMap(t *testing.T) {
	t.Parallel()

	db, reg, log := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()
	seedAuthor(t, newSession(t, db, reg), "Ann")

	sess := newSession(t, db, reg)
	first, err := sess.Query("Author").First(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Set("name", "local"))

	again, err := sess.Query("Author").First(ctx)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, "local", again.Value("name"))

	log.reset()
	byPK, err := sess.Get(ctx, "Author", first.PK())
	require.NoError(t, err)
	assert.Same(t, first, byPK)
	assert.Zero(t, log.selects())
}

func TestEagerLoading(t *testing.T) {
	t.Parallel()

	db, reg, log := openLibrary(t, orm.Eager)
	ctx := t.Context()
	seedAuthor(t, newSession(t, db, reg), "Ann", "First", "Second")

	sess := newSession(t, db, reg)
	log.reset()
	authors, err := sess.Query("Author").All(ctx)
	require.NoError(t, err)
	require.Len(t, authors, 1)

	books, err := authors[0].Related(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, []any{"First", "Second"}, values(t, books, "title"))
	assert.Equal(t, 1, log.selects())
}

func TestEagerLoadingWithLimit(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.Eager)
	ctx := t.Context()
	seed := newSession(t, db, reg)
	seedAuthor(t, seed, "Ann", "A1", "A2", "A3")
	seedAuthor(t, seed, "Bob", "B1")
	seedAuthor(t, seed, "Cid")

	sess := newSession(t, db, reg)
	authors, err := sess.Query("Author").OrderBy("name").Limit(2).All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"Ann", "Bob"}, values(t, authors, "name"))

	books, err := authors[0].Related(ctx, "books")
	require.NoError(t, err)
	assert.Len(t, books, 3)
}

func TestLazyBatchLoading(t *testing.T) {
	t.Parallel()

	db, reg, log := openLibrary(t, orm.LazyBatch)
	ctx := t.Context()
	seed := newSession(t, db, reg)
	seedAuthor(t, seed, "Ann", "First", "Second")
	seedAuthor(t, seed, "Bob", "Third")
	seedAuthor(t, seed, "Cid")

	sess := newSession(t, db, reg)
	authors, err := sess.Query("Author").OrderBy("name").All(ctx)
	require.NoError(t, err)
	require.Len(t, authors, 3)

	log.reset()
	var counts []int
	for _, a := range authors {
		books, err := a.Related(ctx, "books")
		require.NoError(t, err)
		counts = append(counts, len(books))
	}
	assert.Equal(t, []int{2, 1, 0}, counts)
	assert.Equal(t, 1, log.selects())

	books, err := authors[0].Related(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, []any{"First", "Second"}, values(t, books, "title"))
}

func TestLazyPerAccessLoading(t *testing.T) {
	t.Parallel()

	db, reg, log := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()
	seed := newSession(t, db, reg)
	seedAuthor(t, seed, "Ann", "First")
	seedAuthor(t, seed, "Bob", "Second")

	sess := newSession(t, db, reg)
	authors, err := sess.Query("Author").All(ctx)
	require.NoError(t, err)

	log.reset()
	for _, a := range authors {
		_, err := a.Related(ctx, "books")
		require.NoError(t, err)
		_, err = a.Related(ctx, "books")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, log.selects())
}

func TestBackReferenceFilledByLoad(t *testing.T) {
	t.Parallel()

	db, reg, log := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()
	seedAuthor(t, newSession(t, db, reg), "Ann", "First")

	sess := newSession(t, db, reg)
	a, err := sess.Query("Author").First(ctx)
	require.NoError(t, err)
	books, err := a.Related(ctx, "books")
	require.NoError(t, err)
	require.Len(t, books, 1)

	log.reset()
	owner, err := books[0].RelatedOne(ctx, "author")
	require.NoError(t, err)
	assert.Same(t, a, owner)
	assert.Zero(t, log.selects())
}

func TestExplicitOnly(t *testing.T) {
	t.Parallel()

	db, reg, log := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()
	seedAuthor(t, newSession(t, db, reg), "Ann", "First", "Second")

	sess := newSession(t, db, reg)
	a, err := sess.Query("Author").First(ctx)
	require.NoError(t, err)

	log.reset()
	items, err := a.Related(ctx, "catalog")
	var accErr *orm.AccessError
	require.ErrorAs(t, err, &accErr)
	assert.Equal(t, orm.ExplicitOnly, accErr.Policy)
	assert.Nil(t, items)
	assert.Zero(t, log.selects())

	authors, err := sess.Query("Author").Eager("catalog").All(ctx)
	require.NoError(t, err)
	items, err = authors[0].Related(ctx, "catalog")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestWriteOnly(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()
	seedAuthor(t, newSession(t, db, reg), "Ann")

	sess := newSession(t, db, reg)
	a, err := sess.Query("Author").First(ctx)
	require.NoError(t, err)

	_, err = a.Related(ctx, "drafts")
	var accErr *orm.AccessError
	require.ErrorAs(t, err, &accErr)
	assert.Equal(t, orm.WriteOnly, accErr.Policy)

	draft, err := sess.New("Book", map[string]any{"title": "Draft"})
	require.NoError(t, err)
	require.NoError(t, a.Append("drafts", draft))
	require.NoError(t, sess.Commit(ctx))

	n, err := sess.Query("Book").Where(expr.Eq("author_id", a.PK())).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, a.Remove("drafts", draft))
	require.NoError(t, sess.Commit(ctx))
	n, err = sess.Query("Book").Where(expr.IsNull("author_id")).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDynamic(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()
	seedAuthor(t, newSession(t, db, reg), "Ann", "Alpha", "Gamma", "Beta")
	seedAuthor(t, newSession(t, db, reg), "Bob", "Other")

	sess := newSession(t, db, reg)
	a, err := sess.Query("Author").Where(expr.Eq("name", "Ann")).First(ctx)
	require.NoError(t, err)

	q, err := a.Dynamic("titles")
	require.NoError(t, err)
	last, err := q.OrderByDesc("title").Limit(2).All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"Gamma", "Beta"}, values(t, last, "title"))

	n, err := q.Where(expr.Like("title", "%a")).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	all, err := a.Related(ctx, "titles")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = a.Dynamic("profile")
	assert.Error(t, err)
}

func TestDynamicThroughAssociation(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()
	sess := newSession(t, db, reg)
	book, err := sess.New("Book", map[string]any{"title": "Go"})
	require.NoError(t, err)
	for _, name := range []string{"lang", "cs", "web"} {
		tag, err := sess.New("Tag", map[string]any{"name": name})
		require.NoError(t, err)
		require.NoError(t, book.Append("tags", tag))
	}
	require.NoError(t, sess.Commit(ctx))

	q, err := book.Dynamic("tags")
	require.NoError(t, err)
	tags, err := q.Where(expr.Ne("name", "web")).OrderBy("name").All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"cs", "lang"}, values(t, tags, "name"))
}

func TestDeferredField(t *testing.T) {
	t.Parallel()

	db, reg, log := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()
	seed := newSession(t, db, reg)
	_, err := seed.New("Author", map[string]any{"name": "Ann", "bio": "long"})
	require.NoError(t, err)
	require.NoError(t, seed.Commit(ctx))

	sess := newSession(t, db, reg)
	a, err := sess.Query("Author").First(ctx)
	require.NoError(t, err)
	assert.False(t, a.IsLoaded("bio"))
	assert.Nil(t, a.Value("bio"))

	log.reset()
	bio, err := a.Get(ctx, "bio")
	require.NoError(t, err)
	assert.Equal(t, "long", bio)
	_, err = a.Get(ctx, "bio")
	require.NoError(t, err)
	assert.Equal(t, 1, log.selects())

	other := newSession(t, db, reg)
	b, err := other.Query("Author").Undefer("bio").First(ctx)
	require.NoError(t, err)
	assert.True(t, b.IsLoaded("bio"))
}

func TestFollowGraph(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()

	sess := newSession(t, db, reg)
	users := make(map[string]*orm.Record)
	for _, name := range []string{"A", "B", "C"} {
		u, err := sess.New("User", map[string]any{"name": name})
		require.NoError(t, err)
		users[name] = u
	}
	require.NoError(t, users["A"].Append("following", users["B"]))
	require.NoError(t, users["B"].Append("following", users["C"]))
	require.NoError(t, users["C"].Append("following", users["A"]))
	require.NoError(t, sess.Commit(ctx))

	fresh := newSession(t, db, reg)
	a, err := fresh.Query("User").Where(expr.Eq("name", "A")).First(ctx)
	require.NoError(t, err)

	following, err := a.Related(ctx, "following")
	require.NoError(t, err)
	assert.Equal(t, []any{"B"}, values(t, following, "name"))

	followers, err := a.Related(ctx, "followers")
	require.NoError(t, err)
	assert.Equal(t, []any{"C"}, values(t, followers, "name"))

	eager, err := fresh.Query("User").Eager("following").OrderBy("name").All(ctx)
	require.NoError(t, err)
	for _, u := range eager {
		items, err := u.Related(ctx, "following")
		require.NoError(t, err)
		assert.Len(t, items, 1)
	}
}

func TestLinkedList(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()

	sess := newSession(t, db, reg)
	var nodes []*orm.Record
	for _, label := range []string{"n1", "n2", "n3"} {
		n, err := sess.New("Node", map[string]any{"label": label})
		require.NoError(t, err)
		nodes = append(nodes, n)
	}
	require.NoError(t, nodes[0].SetRelated("next", nodes[1]))
	require.NoError(t, nodes[1].SetRelated("next", nodes[2]))
	require.NoError(t, sess.Commit(ctx))
	assert.Equal(t, nodes[1].PK(), nodes[0].Value("next_id"))

	fresh := newSession(t, db, reg)
	cur, err := fresh.Query("Node").Where(expr.Eq("label", "n1")).First(ctx)
	require.NoError(t, err)
	var labels []any
	for cur != nil {
		labels = append(labels, cur.Value("label"))
		cur, err = cur.RelatedOne(ctx, "next")
		require.NoError(t, err)
	}
	assert.Equal(t, []any{"n1", "n2", "n3"}, labels)
}

func TestSelfReferenceCycleRejected(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()

	sess := newSession(t, db, reg)
	a, err := sess.New("Node", map[string]any{"label": "a"})
	require.NoError(t, err)
	b, err := sess.New("Node", map[string]any{"label": "b"})
	require.NoError(t, err)
	require.NoError(t, a.SetRelated("next", b))
	require.NoError(t, b.SetRelated("next", a))

	err = sess.Commit(ctx)
	var intErr *orm.IntegrityError
	require.ErrorAs(t, err, &intErr)
	assert.ErrorIs(t, err, orm.ErrCyclicReference)
	assert.Nil(t, a.PK())

	require.NoError(t, b.SetRelated("next", nil))
	require.NoError(t, sess.Commit(ctx))
	assert.NotNil(t, a.PK())
	assert.Equal(t, b.PK(), a.Value("next_id"))
}

func TestIntegrityErrorRestoresState(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()
	seed := newSession(t, db, reg)
	_, err := seed.New("Tag", map[string]any{"name": "go"})
	require.NoError(t, err)
	require.NoError(t, seed.Commit(ctx))

	sess := newSession(t, db, reg)
	author, err := sess.New("Author", map[string]any{"name": "Ann"})
	require.NoError(t, err)
	tag, err := sess.New("Tag", map[string]any{"name": "go"})
	require.NoError(t, err)

	err = sess.Commit(ctx)
	var intErr *orm.IntegrityError
	require.ErrorAs(t, err, &intErr)
	assert.Equal(t, "tags", intErr.Table)
	assert.Nil(t, author.PK(), "insert rolled back")
	assert.Nil(t, tag.PK())

	require.NoError(t, tag.Set("name", "rust"))
	require.NoError(t, sess.Commit(ctx))
	assert.NotNil(t, author.PK())

	n, err := newSession(t, db, reg).Query("Author").Where(expr.Eq("name", "Ann")).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestForeignKeyViolationOnDelete(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()
	seedAuthor(t, newSession(t, db, reg), "Ann", "First")

	sess := newSession(t, db, reg)
	a, err := sess.Query("Author").First(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Delete(a))

	err = sess.Commit(ctx)
	var intErr *orm.IntegrityError
	require.ErrorAs(t, err, &intErr)

	got, err := sess.Get(ctx, "Author", a.PK())
	assert.ErrorIs(t, err, orm.ErrNotFound, "still marked for deletion")
	assert.Nil(t, got)

	require.NoError(t, sess.Rollback())
	got, err = sess.Get(ctx, "Author", a.PK())
	require.NoError(t, err)
	assert.Same(t, a, got)
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	db, reg, log := openLibrary(t, orm.LazyPerAccess)
	seedAuthor(t, newSession(t, db, reg), "Ann", "Draft")

	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	ctx := orm.WithClock(t.Context(), fixedClock{at})

	sess := newSession(t, db, reg)
	book, err := sess.Query("Book").First(ctx)
	require.NoError(t, err)
	require.NoError(t, book.Set("title", "Final"))

	log.reset()
	require.NoError(t, sess.Commit(ctx))
	assert.Equal(t, at, book.Value("updated_at"))
	require.Len(t, log.queries, 1)
	assert.Equal(t, `UPDATE "books" SET "title" = ?, "updated_at" = ? WHERE "id" = ?`, log.queries[0])

	log.reset()
	require.NoError(t, book.Set("title", "Final"))
	require.NoError(t, sess.Commit(ctx))
	assert.Empty(t, log.queries, "unchanged value is not written")

	fresh, err := newSession(t, db, reg).Get(ctx, "Book", book.PK())
	require.NoError(t, err)
	assert.Equal(t, "Final", fresh.Value("title"))
	stamped, ok := fresh.Value("updated_at").(time.Time)
	require.True(t, ok)
	assert.WithinDuration(t, at, stamped, 0)
}

func TestReassignBelongsTo(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()
	seed := newSession(t, db, reg)
	seedAuthor(t, seed, "Ann", "Book")
	seedAuthor(t, seed, "Bob")

	sess := newSession(t, db, reg)
	book, err := sess.Query("Book").First(ctx)
	require.NoError(t, err)
	bob, err := sess.Query("Author").Where(expr.Eq("name", "Bob")).First(ctx)
	require.NoError(t, err)

	require.NoError(t, book.SetRelated("author", bob))
	owner, err := book.RelatedOne(ctx, "author")
	require.NoError(t, err)
	assert.Same(t, bob, owner)
	require.NoError(t, sess.Commit(ctx))

	books, err := newSession(t, db, reg).Query("Book").Where(expr.Eq("author_id", bob.PK())).All(ctx)
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()

	seed := newSession(t, db, reg)
	book, err := seed.New("Book", map[string]any{"title": "Tagged"})
	require.NoError(t, err)
	tag, err := seed.New("Tag", map[string]any{"name": "go"})
	require.NoError(t, err)
	require.NoError(t, book.Append("tags", tag))
	require.NoError(t, seed.Commit(ctx))

	sess := newSession(t, db, reg)
	b, err := sess.Get(ctx, "Book", book.PK())
	require.NoError(t, err)
	require.NoError(t, sess.Delete(b))
	require.NoError(t, sess.Commit(ctx))

	var links int
	require.NoError(t, db.SQL().QueryRowContext(ctx, `SELECT COUNT(*) FROM "book_tags"`).Scan(&links))
	assert.Zero(t, links)
	n, err := sess.Query("Book").Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteMissingRowIsNoop(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()
	seedAuthor(t, newSession(t, db, reg), "Ann", "Gone")

	sess := newSession(t, db, reg)
	book, err := sess.Query("Book").First(ctx)
	require.NoError(t, err)

	n, err := newSession(t, db, reg).Query("Book").Where(expr.Eq("id", book.PK())).Delete(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, sess.Delete(book))
	assert.NoError(t, sess.Commit(ctx))
}

func TestDeletePendingRecord(t *testing.T) {
	t.Parallel()

	db, reg, log := openLibrary(t, orm.LazyPerAccess)
	sess := newSession(t, db, reg)
	a, err := sess.New("Author", map[string]any{"name": "Never"})
	require.NoError(t, err)
	require.NoError(t, sess.Delete(a))
	require.NoError(t, sess.Commit(t.Context()))
	assert.Empty(t, log.queries)
	assert.Nil(t, a.Session())
}

func TestRollback(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()
	seedAuthor(t, newSession(t, db, reg), "Ann")

	sess := newSession(t, db, reg)
	a, err := sess.Query("Author").First(ctx)
	require.NoError(t, err)
	flushed, err := sess.New("Author", map[string]any{"name": "Flushed"})
	require.NoError(t, err)
	require.NoError(t, sess.Flush(ctx))
	require.NotNil(t, flushed.PK())
	require.NoError(t, a.Set("name", "Changed"))
	pending, err := sess.New("Author", map[string]any{"name": "Pending"})
	require.NoError(t, err)

	require.NoError(t, sess.Rollback())
	assert.Equal(t, "Ann", a.Value("name"))
	assert.Nil(t, pending.Session())
	assert.Nil(t, flushed.Session())
	assert.Nil(t, flushed.PK())

	n, err := sess.Query("Author").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGroupsAndExists(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	ctx := t.Context()
	seed := newSession(t, db, reg)
	ann := seedAuthor(t, seed, "Ann", "A1", "A2")
	bob := seedAuthor(t, seed, "Bob", "B1")

	sess := newSession(t, db, reg)
	rows, err := sess.Query("Book").GroupBy("author_id").OrderByDesc("n").Groups(ctx, orm.CountAll("n"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ann.PK(), rows[0]["author_id"])
	assert.EqualValues(t, 2, rows[0]["n"])
	assert.Equal(t, bob.PK(), rows[1]["author_id"])

	ok, err := sess.Query("Book").Where(expr.Eq("title", "B1")).Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = sess.Query("Book").Where(expr.Eq("title", "Z")).Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionIDOnContext(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	var ids []string
	logged := db.Debug(loggerFunc(func(ctx context.Context, _ string, _ ...any) {
		ids = append(ids, orm.SessionIDFromContext(ctx))
	}))
	sess := newSession(t, logged, reg)
	_, err := sess.Query("Author").All(t.Context())
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, sess.ID(), ids[0])
	assert.NotEmpty(t, sess.ID())
}

func TestAddAcrossSessions(t *testing.T) {
	t.Parallel()

	db, reg, _ := openLibrary(t, orm.LazyPerAccess)
	one := newSession(t, db, reg)
	two := newSession(t, db, reg)
	a, err := one.New("Author", map[string]any{"name": "Ann"})
	require.NoError(t, err)
	assert.Error(t, two.Add(a))

	rt, err := reg.Type("Author")
	require.NoError(t, err)
	r, err := orm.NewRecord(rt, map[string]any{"name": "x", "missing": 1})
	assert.Error(t, err)
	assert.Nil(t, r)

	require.NoError(t, two.Close())
	_, err = two.Query("Author").All(t.Context())
	assert.True(t, errors.Is(err, orm.ErrSessionClosed))
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type loggerFunc func(ctx context.Context, query string, args ...any)

func (f loggerFunc) Log(ctx context.Context, query string, args ...any) { f(ctx, query, args...) }
