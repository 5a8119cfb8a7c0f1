package testdata

import (
	"database/sql"
	"time"

	amodel "github.com/example/auth/model"
)

type Author struct {
	ID       int64
	Name     string                `db:"name,unique"`
	Bio      *string               `db:"bio,text,deferred"`
	Books    []Book                `rel:"has_many,foreign_key:author_id,load:selectin,back_ref:author"`
	Accounts []amodel.OAuthAccount `rel:"has_many,foreign_key:author_id"`
	internal string                // unexported, no tag: skipped
}

type Book struct {
	ID        int64         `db:",primaryKey"`
	AuthorID  sql.NullInt64 `db:"author_id"`
	Title     string        // no db tag, column inferred as "title"
	Rating    float64
	Draft     bool
	Secret    string     `db:"-"` // explicitly skipped
	CreatedAt time.Time  // convention
	UpdatedAt *time.Time `db:"modified_at"` // convention still applies with tag
	Author    *Author    `rel:"belongs_to,foreign_key:author_id,back_ref:books"`
	Tags      []Tag      `rel:"many_to_many,through:BookTag,foreign_key:book_id,references:tag_id,lazy:raise"`
}

func (Book) TableName() string { return "library_books" }

type Tag struct {
	ID   int64
	Name string
}

type BookTag struct {
	BookID int64 `db:"book_id"`
	TagID  int64 `db:"tag_id"`
}

type User struct {
	ID        int64
	Following []User `rel:"self,through:Follow,foreign_key:follower_id,references:followed_id"`
}

// Options is not a model: it has no column fields.
type Options struct {
	verbose bool
}
