package orm

import (
	"context"
	"fmt"

	"github.com/mickamy/relmap/expr"
)

// JoinPair holds a source key and one record related to it.
type JoinPair[S, T comparable] struct {
	Source S
	Target T
}

// GroupBySource groups JoinPair values by source key into a map[S][]T.
// Targets keep their first-seen order; repeated pairs are dropped.
func GroupBySource[S, T comparable](pairs []JoinPair[S, T]) map[S][]T {
	m := make(map[S][]T)
	seen := make(map[JoinPair[S, T]]struct{}, len(pairs))
	for _, p := range pairs {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		m[p.Source] = append(m[p.Source], p.Target)
	}
	return m
}

// queryJoinTable reads the targets of an association relationship for
// every source key in keys, joining the association table to the target
// table in one statement:
//
//	SELECT "j"."follower_id" AS "j__follower_id", "t0"."id" AS "t0__id", ...
//	FROM "follows" AS "j" INNER JOIN "users" AS "t0" ON "t0"."id" = "j"."followed_id"
//	WHERE "j"."follower_id" IN (?, ?)
func (s *Session) queryJoinTable(ctx context.Context, spec *JoinSpec, keys []any) ([]JoinPair[any, *Record], error) {
	d := s.dialect()
	qi := d.QuoteIdent
	qcol := func(alias, name string) string { return qi(alias) + "." + qi(name) }

	sourceKey := spec.Through.byName[spec.TargetColumn]
	cols := []outCol{{alias: "j", field: sourceKey}}
	sel := qcol("j", sourceKey.name) + " AS " + qi("j__"+sourceKey.name)
	for _, f := range spec.Target.selectFields(nil, false) {
		cols = append(cols, outCol{alias: rootAlias, field: f})
		sel += ", " + qcol(rootAlias, f.name) + " AS " + qi(rootAlias+"__"+f.name)
	}

	in, args, err := expr.Render(expr.In(spec.TargetColumn, keys), func(field string) (string, error) {
		return qcol("j", field), nil
	})
	if err != nil {
		return nil, err
	}
	orderBy := qcol(rootAlias, spec.Target.pk.name)
	if spec.Through.pk != nil {
		orderBy = qcol("j", spec.Through.pk.name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s AS %s INNER JOIN %s AS %s ON %s = %s WHERE %s ORDER BY %s",
		sel, qi(spec.Through.table), qi("j"), qi(spec.Target.table), qi(rootAlias),
		qcol(rootAlias, spec.Target.pk.name), qcol("j", spec.ThroughTargetColumn), in, orderBy)

	rows, err := s.fetch(ctx, rewritePlaceholders(d, query), args)
	if err != nil {
		return nil, classify("select", spec.Through.table, err)
	}
	pairs := make([]JoinPair[any, *Record], 0, len(rows))
	for _, row := range rows {
		key, err := sourceKey.typ.normalize(row[0])
		if err != nil {
			return nil, fmt.Errorf("orm: scan %s.%s: %w", spec.Through.name, sourceKey.name, err)
		}
		target, err := s.materialize(spec.Target, rootAlias, cols, row)
		if err != nil {
			return nil, err
		}
		if target != nil {
			pairs = append(pairs, JoinPair[any, *Record]{Source: key, Target: target})
		}
	}
	return pairs, nil
}
