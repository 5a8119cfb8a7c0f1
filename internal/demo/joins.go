package demo

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mickamy/relmap/orm"
)

func joins(ctx context.Context, r *runner) error {
	reg := orm.NewRegistry().MustRegister(
		userType(orm.HasOne("address", "Address", "user_id")),
		addressType(),
	)
	sess, err := r.open(ctx, reg)
	if err != nil {
		return err
	}
	defer sess.Close()

	used, err := sess.New("Address", map[string]any{"data": "1234 Random Address"})
	if err != nil {
		return err
	}
	for _, data := range []string{"5678 Non-existent Address", "9895 Extra Address"} {
		if _, err := sess.New("Address", map[string]any{"data": data}); err != nil {
			return err
		}
	}
	zeq, err := sess.New("User", map[string]any{"first_name": "Zeq", "last_name": "Tech"})
	if err != nil {
		return err
	}
	if err := zeq.SetRelated("address", used); err != nil {
		return err
	}
	if _, err := sess.New("User", map[string]any{"first_name": "Banana", "last_name": "Kan"}); err != nil {
		return err
	}
	if err := sess.Commit(ctx); err != nil {
		return err
	}

	for _, kind := range []orm.JoinKind{orm.InnerJoin, orm.LeftJoin, orm.FullJoin, orm.AntiJoin} {
		pairs, err := sess.Query("User").JoinWith("address", kind).Pairs(ctx)
		if err != nil {
			return err
		}
		lines := make([]string, len(pairs))
		for i, p := range pairs {
			lines[i] = side(p.Left, "first_name") + " / " + side(p.Right, "data")
		}
		sort.Strings(lines)
		r.printf("%s join (%d):\n", kind, len(pairs))
		for _, l := range lines {
			r.printf("  %s\n", l)
		}
	}
	return nil
}

func side(rec *orm.Record, field string) string {
	if rec == nil {
		return "-"
	}
	return strings.TrimSpace(fmt.Sprint(rec.Value(field)))
}
