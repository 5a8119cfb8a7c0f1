package testdata

type Author struct {
	ID    int64
	Name  string
	Books []Book `rel:"has_many,foreign_key:author_id,load:selectin"`
}

type Book struct {
	ID       int64
	Title    string
	AuthorID *int64 `db:"author_id"`
}
