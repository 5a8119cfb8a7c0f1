package demo

import (
	"context"

	"github.com/mickamy/relmap/expr"
	"github.com/mickamy/relmap/orm"
)

func crud(ctx context.Context, r *runner) error {
	reg := orm.NewRegistry().MustRegister(teacherType())
	sess, err := r.open(ctx, reg)
	if err != nil {
		return err
	}
	defer sess.Close()

	for _, name := range []string{"Monica", "Zhen", "Ross"} {
		if _, err := sess.New("Teacher", map[string]any{"name": name}); err != nil {
			return err
		}
	}
	if err := sess.Commit(ctx); err != nil {
		return err
	}
	all, err := sess.Query("Teacher").OrderBy("name").All(ctx)
	if err != nil {
		return err
	}
	r.printf("created: %s\n", list(all, "name"))

	zhen, err := sess.Query("Teacher").Where(expr.Eq("name", "Zhen")).First(ctx)
	if err != nil {
		return err
	}
	if err := zhen.Set("name", "Zhen Li"); err != nil {
		return err
	}
	if err := sess.Commit(ctx); err != nil {
		return err
	}
	r.printf("renamed Zhen to %s\n", zhen.Value("name"))

	ross, err := sess.Query("Teacher").Where(expr.Eq("name", "Ross")).First(ctx)
	if err != nil {
		return err
	}
	if err := sess.Delete(ross); err != nil {
		return err
	}
	if err := sess.Commit(ctx); err != nil {
		return err
	}
	n, err := sess.Query("Teacher").Count(ctx)
	if err != nil {
		return err
	}
	r.printf("deleted Ross, %d remaining\n", n)

	fresh, err := orm.NewSession(r.db, reg)
	if err != nil {
		return err
	}
	defer fresh.Close()
	stored, err := fresh.Query("Teacher").OrderBy("id").All(ctx)
	if err != nil {
		return err
	}
	r.printf("stored: %s\n", list(stored, "name"))
	return nil
}
