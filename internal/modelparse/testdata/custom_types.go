package testdata

type Labels []string

type Issue struct {
	ID     int    `db:"id,primaryKey"`
	Labels Labels `db:"labels,text"`
	Owner  *User  `rel:"belongs_to,foreign_key:owner_id"`
}
