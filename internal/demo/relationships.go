package demo

import (
	"context"
	"fmt"

	"github.com/mickamy/relmap/expr"
	"github.com/mickamy/relmap/orm"
)

func userType(rels ...*orm.Relationship) *orm.RecordType {
	return orm.NewRecordType("User",
		orm.IntField("id").PrimaryKey(),
		orm.StringField("first_name"),
		orm.StringField("last_name"),
	).Relate(rels...)
}

func addressType(rels ...*orm.Relationship) *orm.RecordType {
	return orm.NewRecordType("Address",
		orm.IntField("id").PrimaryKey(),
		orm.IntField("user_id").Nullable().Unique(),
		orm.StringField("data"),
	).Relate(rels...)
}

func oneToOne(ctx context.Context, r *runner) error {
	reg := orm.NewRegistry().MustRegister(
		userType(orm.HasOne("address", "Address", "user_id").BackRef("user")),
		addressType(orm.BelongsTo("user", "User", "user_id").BackRef("address")),
	)
	sess, err := r.open(ctx, reg)
	if err != nil {
		return err
	}
	defer sess.Close()

	user, err := sess.New("User", map[string]any{"first_name": "Zeq", "last_name": "Tech"})
	if err != nil {
		return err
	}
	addr, err := sess.New("Address", map[string]any{"data": "1234 Random Address"})
	if err != nil {
		return err
	}
	if err := user.SetRelated("address", addr); err != nil {
		return err
	}
	if err := sess.Commit(ctx); err != nil {
		return err
	}
	r.printf("address %v belongs to user %v\n", addr.Value("id"), addr.Value("user_id"))

	fresh, err := orm.NewSession(r.db, reg)
	if err != nil {
		return err
	}
	defer fresh.Close()
	loaded, err := fresh.Get(ctx, "User", user.PK())
	if err != nil {
		return err
	}
	got, err := loaded.RelatedOne(ctx, "address")
	if err != nil {
		return err
	}
	owner, err := got.RelatedOne(ctx, "user")
	if err != nil {
		return err
	}
	r.printf("%s %s lives at %s\n", loaded.Value("first_name"), loaded.Value("last_name"), got.Value("data"))
	r.printf("back-reference resolves to the same record: %t\n", owner == loaded)

	// Moving the address to another user rewrites its foreign key.
	other, err := fresh.New("User", map[string]any{"first_name": "Banana", "last_name": "Kan"})
	if err != nil {
		return err
	}
	if err := other.SetRelated("address", got); err != nil {
		return err
	}
	if err := fresh.Commit(ctx); err != nil {
		return err
	}

	check, err := orm.NewSession(r.db, reg)
	if err != nil {
		return err
	}
	defer check.Close()
	for _, pk := range []any{user.PK(), other.PK()} {
		u, err := check.Get(ctx, "User", pk)
		if err != nil {
			return err
		}
		a, err := u.RelatedOne(ctx, "address")
		if err != nil {
			return err
		}
		if a == nil {
			r.printf("%s has no address\n", u.Value("first_name"))
		} else {
			r.printf("%s lives at %s\n", u.Value("first_name"), a.Value("data"))
		}
	}
	return nil
}

func oneToMany(ctx context.Context, r *runner) error {
	reg := orm.NewRegistry().MustRegister(
		teacherType(orm.HasMany("posts", "Post", "teacher_id").BackRef("teacher")),
		postType(orm.BelongsTo("teacher", "Teacher", "teacher_id").BackRef("posts")),
	)
	sess, err := r.open(ctx, reg)
	if err != nil {
		return err
	}
	defer sess.Close()

	monica, err := sess.New("Teacher", map[string]any{"name": "Monica"})
	if err != nil {
		return err
	}
	postRT, err := reg.Type("Post")
	if err != nil {
		return err
	}
	for x := 1; x <= 4; x++ {
		post, err := orm.NewRecord(postRT, map[string]any{"content": fmt.Sprintf("This is the content for %d", x)})
		if err != nil {
			return err
		}
		if err := monica.Append("posts", post); err != nil {
			return err
		}
	}
	if err := sess.Commit(ctx); err != nil {
		return err
	}

	fresh, err := orm.NewSession(r.db, reg)
	if err != nil {
		return err
	}
	defer fresh.Close()
	teacher, err := fresh.Query("Teacher").Where(expr.Eq("name", "Monica")).First(ctx)
	if err != nil {
		return err
	}
	posts, err := teacher.Related(ctx, "posts")
	if err != nil {
		return err
	}
	r.printf("%s has %d posts: %s\n", teacher.Value("name"), len(posts), list(posts, "id"))
	back, err := posts[0].RelatedOne(ctx, "teacher")
	if err != nil {
		return err
	}
	r.printf("post %v was written by %s\n", posts[0].Value("id"), back.Value("name"))

	if err := teacher.Remove("posts", posts[0]); err != nil {
		return err
	}
	if err := fresh.Commit(ctx); err != nil {
		return err
	}
	orphans, err := fresh.Query("Post").Where(expr.IsNull("teacher_id")).Count(ctx)
	if err != nil {
		return err
	}
	r.printf("removed one post, %d post(s) without a teacher\n", orphans)
	return nil
}

func manyToMany(ctx context.Context, r *runner) error {
	reg := orm.NewRegistry().MustRegister(
		orm.NewRecordType("Student",
			orm.IntField("id").PrimaryKey(),
			orm.StringField("name"),
		).Relate(
			orm.ManyToMany("courses", "Course", "Enrollment", "student_id", "course_id").BackRef("students"),
		),
		orm.NewRecordType("Course",
			orm.IntField("id").PrimaryKey(),
			orm.StringField("title"),
		).Relate(
			orm.ManyToMany("students", "Student", "Enrollment", "course_id", "student_id").BackRef("courses").Load(orm.LazyBatch),
		),
		orm.NewRecordType("Enrollment",
			orm.IntField("student_id"),
			orm.IntField("course_id"),
		).Association(),
	)
	sess, err := r.open(ctx, reg)
	if err != nil {
		return err
	}
	defer sess.Close()

	courses := map[string]*orm.Record{}
	for _, title := range []string{"Algebra", "Biology", "Chemistry"} {
		c, err := sess.New("Course", map[string]any{"title": title})
		if err != nil {
			return err
		}
		courses[title] = c
	}
	enrol := map[string][]string{
		"Ann":  {"Algebra", "Biology"},
		"Ben":  {"Biology"},
		"Cleo": {"Algebra", "Biology", "Chemistry"},
	}
	for _, name := range []string{"Ann", "Ben", "Cleo"} {
		s, err := sess.New("Student", map[string]any{"name": name})
		if err != nil {
			return err
		}
		for _, title := range enrol[name] {
			if err := s.Append("courses", courses[title]); err != nil {
				return err
			}
		}
	}
	if err := sess.Commit(ctx); err != nil {
		return err
	}

	fresh, err := orm.NewSession(r.db, reg)
	if err != nil {
		return err
	}
	defer fresh.Close()
	all, err := fresh.Query("Course").OrderBy("title").All(ctx)
	if err != nil {
		return err
	}
	r.statements()
	for _, c := range all {
		students, err := c.Related(ctx, "students")
		if err != nil {
			return err
		}
		r.printf("%s: %s\n", c.Value("title"), sorted(students, "name"))
	}
	r.printf("students of %d courses loaded with %d statement(s)\n", len(all), r.statements())

	ben, err := fresh.Query("Student").Where(expr.Eq("name", "Ben")).First(ctx)
	if err != nil {
		return err
	}
	benCourses, err := ben.Related(ctx, "courses")
	if err != nil {
		return err
	}
	if err := ben.Remove("courses", benCourses...); err != nil {
		return err
	}
	if err := fresh.Commit(ctx); err != nil {
		return err
	}
	n, err := fresh.Query("Student").Join("courses").Where(expr.Eq("courses.title", "Biology")).Count(ctx)
	if err != nil {
		return err
	}
	r.printf("after Ben drops out, Biology has %d student(s)\n", n)
	return nil
}

func follow(ctx context.Context, r *runner) error {
	reg := orm.NewRegistry().MustRegister(
		orm.NewRecordType("Member",
			orm.IntField("id").PrimaryKey(),
			orm.StringField("name"),
		).Relate(
			orm.SelfRefThrough("following", "Follow", "follower_id", "followed_id").BackRef("followers"),
			orm.SelfRefThrough("followers", "Follow", "followed_id", "follower_id").BackRef("following"),
		),
		orm.NewRecordType("Follow",
			orm.IntField("follower_id"),
			orm.IntField("followed_id"),
		).Association(),
	)
	sess, err := r.open(ctx, reg)
	if err != nil {
		return err
	}
	defer sess.Close()

	members := map[string]*orm.Record{}
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		m, err := sess.New("Member", map[string]any{"name": name})
		if err != nil {
			return err
		}
		members[name] = m
	}
	edges := [][2]string{{"Alice", "Bob"}, {"Carol", "Alice"}, {"Carol", "Bob"}}
	for _, e := range edges {
		if err := members[e[0]].Append("following", members[e[1]]); err != nil {
			return err
		}
	}
	if err := sess.Commit(ctx); err != nil {
		return err
	}

	fresh, err := orm.NewSession(r.db, reg)
	if err != nil {
		return err
	}
	defer fresh.Close()
	all, err := fresh.Query("Member").OrderBy("name").All(ctx)
	if err != nil {
		return err
	}
	for _, m := range all {
		following, err := m.Related(ctx, "following")
		if err != nil {
			return err
		}
		followers, err := m.Related(ctx, "followers")
		if err != nil {
			return err
		}
		r.printf("%s follows [%s], followed by [%s]\n", m.Value("name"), sorted(following, "name"), sorted(followers, "name"))
	}
	return nil
}

func linkedList(ctx context.Context, r *runner) error {
	reg := orm.NewRegistry().MustRegister(
		orm.NewRecordType("Node",
			orm.IntField("id").PrimaryKey(),
			orm.StringField("label"),
			orm.IntField("next_id").Nullable(),
		).Relate(
			orm.SelfRef("next", "next_id"),
		),
	)
	sess, err := r.open(ctx, reg)
	if err != nil {
		return err
	}
	defer sess.Close()

	var head, prev *orm.Record
	for _, label := range []string{"n1", "n2", "n3"} {
		n, err := sess.New("Node", map[string]any{"label": label})
		if err != nil {
			return err
		}
		if prev != nil {
			if err := prev.SetRelated("next", n); err != nil {
				return err
			}
		} else {
			head = n
		}
		prev = n
	}
	if err := sess.Commit(ctx); err != nil {
		return err
	}

	fresh, err := orm.NewSession(r.db, reg)
	if err != nil {
		return err
	}
	defer fresh.Close()
	node, err := fresh.Get(ctx, "Node", head.PK())
	if err != nil {
		return err
	}
	var labels []*orm.Record
	for node != nil {
		labels = append(labels, node)
		if node, err = node.RelatedOne(ctx, "next"); err != nil {
			return err
		}
	}
	r.printf("walk: %s\n", list(labels, "label"))

	// A loop can only be closed once the nodes exist.
	last := labels[len(labels)-1]
	if err := last.SetRelated("next", labels[0]); err != nil {
		return err
	}
	if err := fresh.Commit(ctx); err != nil {
		return err
	}

	check, err := orm.NewSession(r.db, reg)
	if err != nil {
		return err
	}
	defer check.Close()
	tail, err := check.Get(ctx, "Node", last.PK())
	if err != nil {
		return err
	}
	next, err := tail.RelatedOne(ctx, "next")
	if err != nil {
		return err
	}
	r.printf("%s now points back at %s\n", tail.Value("label"), next.Value("label"))
	return nil
}
