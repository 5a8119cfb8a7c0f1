package testdata

type StringArray []string

type Repository struct {
	ID     int         `db:"id,primaryKey"`
	Topics StringArray `db:"topics"`
}
