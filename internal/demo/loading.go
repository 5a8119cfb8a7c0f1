package demo

import (
	"context"
	"errors"
	"fmt"

	"github.com/mickamy/relmap/expr"
	"github.com/mickamy/relmap/orm"
)

// loadingRegistry declares Teacher.posts with policy.
func loadingRegistry(policy orm.LoadPolicy) *orm.Registry {
	return orm.NewRegistry().MustRegister(
		teacherType(orm.HasMany("posts", "Post", "teacher_id").Load(policy)),
		postType(),
	)
}

func loading(ctx context.Context, r *runner) error {
	if err := seedTeachers(ctx, r, loadingRegistry(orm.LazyPerAccess)); err != nil {
		return err
	}

	for _, policy := range []orm.LoadPolicy{orm.LazyPerAccess, orm.Eager, orm.LazyBatch} {
		if err := readPosts(ctx, r, policy); err != nil {
			return err
		}
	}
	if err := explicitOnly(ctx, r); err != nil {
		return err
	}
	if err := writeOnly(ctx, r); err != nil {
		return err
	}
	return dynamic(ctx, r)
}

// seedTeachers stores three teachers with three posts each.
func seedTeachers(ctx context.Context, r *runner, reg *orm.Registry) error {
	sess, err := r.open(ctx, reg)
	if err != nil {
		return err
	}
	defer sess.Close()

	postRT, err := reg.Type("Post")
	if err != nil {
		return err
	}
	for y := 1000; y < 1003; y++ {
		t, err := sess.New("Teacher", map[string]any{"name": fmt.Sprintf("Teacher%d", y)})
		if err != nil {
			return err
		}
		for x := range 3 {
			p, err := orm.NewRecord(postRT, map[string]any{"content": fmt.Sprintf("This is the content for %d", (y-1000)*3+x)})
			if err != nil {
				return err
			}
			if err := t.Append("posts", p); err != nil {
				return err
			}
		}
	}
	return sess.Commit(ctx)
}

func readPosts(ctx context.Context, r *runner, policy orm.LoadPolicy) error {
	sess, err := orm.NewSession(r.db, loadingRegistry(policy))
	if err != nil {
		return err
	}
	defer sess.Close()

	r.statements()
	teachers, err := sess.Query("Teacher").OrderBy("id").All(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, t := range teachers {
		posts, err := t.Related(ctx, "posts")
		if err != nil {
			return err
		}
		total += len(posts)
	}
	r.printf("%-17s %d teachers, %d posts, %d statement(s)\n", policy.String()+":", len(teachers), total, r.statements())
	return nil
}

func explicitOnly(ctx context.Context, r *runner) error {
	sess, err := orm.NewSession(r.db, loadingRegistry(orm.ExplicitOnly))
	if err != nil {
		return err
	}
	defer sess.Close()

	t, err := sess.Query("Teacher").OrderBy("id").First(ctx)
	if err != nil {
		return err
	}
	var access *orm.AccessError
	if _, err := t.Related(ctx, "posts"); !errors.As(err, &access) {
		return fmt.Errorf("expected an access error, got %v", err)
	}
	r.printf("explicit-only: unrequested read refused (%v)\n", access)

	r.statements()
	teachers, err := sess.Query("Teacher").Eager("posts").All(ctx)
	if err != nil {
		return err
	}
	posts, err := teachers[0].Related(ctx, "posts")
	if err != nil {
		return err
	}
	r.printf("explicit-only: requested with Eager, %d posts in %d statement(s)\n", len(posts), r.statements())
	return nil
}

func writeOnly(ctx context.Context, r *runner) error {
	reg := loadingRegistry(orm.WriteOnly)
	sess, err := orm.NewSession(r.db, reg)
	if err != nil {
		return err
	}
	defer sess.Close()

	t, err := sess.Query("Teacher").Where(expr.Eq("name", "Teacher1000")).First(ctx)
	if err != nil {
		return err
	}
	var access *orm.AccessError
	if _, err := t.Related(ctx, "posts"); !errors.As(err, &access) {
		return fmt.Errorf("expected an access error, got %v", err)
	}
	r.printf("write-only: read refused (%v)\n", access)

	postRT, err := reg.Type("Post")
	if err != nil {
		return err
	}
	p, err := orm.NewRecord(postRT, map[string]any{"content": "This is a new line !!!!!"})
	if err != nil {
		return err
	}
	if err := t.Append("posts", p); err != nil {
		return err
	}
	if err := sess.Commit(ctx); err != nil {
		return err
	}
	n, err := sess.Query("Post").Where(expr.Eq("teacher_id", t.PK())).Count(ctx)
	if err != nil {
		return err
	}
	r.printf("write-only: appended a post, %s now has %d posts\n", t.Value("name"), n)
	return nil
}

func dynamic(ctx context.Context, r *runner) error {
	sess, err := orm.NewSession(r.db, loadingRegistry(orm.Dynamic))
	if err != nil {
		return err
	}
	defer sess.Close()

	t, err := sess.Query("Teacher").Where(expr.Eq("name", "Teacher1001")).First(ctx)
	if err != nil {
		return err
	}
	q, err := t.Dynamic("posts")
	if err != nil {
		return err
	}
	latest, err := q.OrderByDesc("id").Limit(2).All(ctx)
	if err != nil {
		return err
	}
	n, err := q.Count(ctx)
	if err != nil {
		return err
	}
	r.printf("dynamic: %s has %d posts, latest two: %s\n", t.Value("name"), n, list(latest, "content"))
	return nil
}

func deferred(ctx context.Context, r *runner) error {
	reg := orm.NewRegistry().MustRegister(teacherType())
	sess, err := r.open(ctx, reg)
	if err != nil {
		return err
	}
	defer sess.Close()

	if _, err := sess.New("Teacher", map[string]any{"name": "Monica", "bio": "Teaches chemistry since 2001."}); err != nil {
		return err
	}
	if err := sess.Commit(ctx); err != nil {
		return err
	}

	fresh, err := orm.NewSession(r.db, reg)
	if err != nil {
		return err
	}
	defer fresh.Close()
	t, err := fresh.Query("Teacher").First(ctx)
	if err != nil {
		return err
	}
	r.printf("bio loaded with the record: %t\n", t.IsLoaded("bio"))
	r.statements()
	bio, err := t.Get(ctx, "bio")
	if err != nil {
		return err
	}
	r.printf("bio on first access (%d statement): %s\n", r.statements(), bio)

	other, err := orm.NewSession(r.db, reg)
	if err != nil {
		return err
	}
	defer other.Close()
	u, err := other.Query("Teacher").Undefer("bio").First(ctx)
	if err != nil {
		return err
	}
	r.printf("bio loaded with Undefer: %t\n", u.IsLoaded("bio"))
	return nil
}
