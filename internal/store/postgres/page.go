package postgres

import (
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// pageClause renders the WHERE/ORDER/LIMIT tail for a ListOpts query over a
// table with a created_at column.
func pageClause(opts domain.ListOpts, orderBy string) (string, pgx.NamedArgs) {
	args := pgx.NamedArgs{}
	var conds []string
	if opts.Since != nil {
		conds = append(conds, "created_at >= @since")
		args["since"] = *opts.Since
	}
	if opts.Until != nil {
		conds = append(conds, "created_at <= @until")
		args["until"] = *opts.Until
	}

	var b strings.Builder
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy)
	if opts.Limit > 0 {
		b.WriteString(" LIMIT @limit")
		args["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		b.WriteString(" OFFSET @offset")
		args["offset"] = opts.Offset
	}
	return b.String(), args
}
