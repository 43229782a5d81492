package tcms

import (
	"context"
	"strings"

	"github.com/CaliLuke/go-nitrate/nitrate"
	"github.com/CaliLuke/go-nitrate/remote"
)

var userKind = &nitrate.Kind{
	Name:   "User",
	Prefix: "UID",
	IDKey:  "id",
	Fetch:  nitrate.FilterByID("User.filter", "id"),
	All:    "User.filter",
}

// User is a server account. It is read-only.
type User struct {
	nitrate.Base
	keyLogin string
	keyEmail string
	me       bool

	login nitrate.Field[string]
	email nitrate.Field[string]
	name  nitrate.Field[string]
}

func newUser(s *nitrate.Session, id int) *User {
	u := &User{}
	nitrate.Init(u, s, userKind)
	u.Identify(id)
	return u
}

// User returns the user with the given id.
func (c *Client) User(ctx context.Context, id int) *User {
	return nitrate.Lookup(ctx, c.s, userKind, id, newUser)
}

// UserByLogin returns the user with the given login. A value containing
// "@" is taken as an email address.
func (c *Client) UserByLogin(login string) *User {
	return userByLogin(c.s, login)
}

func userByLogin(s *nitrate.Session, login string) *User {
	if strings.Contains(login, "@") {
		u := &User{keyEmail: login}
		nitrate.Init(u, s, userKind)
		u.email.Put(login)
		return u
	}
	u := &User{keyLogin: login}
	nitrate.Init(u, s, userKind)
	u.login.Put(login)
	return u
}

// UserByEmail returns the user with the given email address.
func (c *Client) UserByEmail(email string) *User {
	u := &User{keyEmail: email}
	nitrate.Init(u, c.s, userKind)
	u.email.Put(email)
	return u
}

// Me returns the user the session is authenticated as. The same instance
// is returned on every call.
func (c *Client) Me() *User {
	c.meOnce.Do(func() {
		u := &User{me: true}
		nitrate.Init(u, c.s, userKind)
		c.me = u
	})
	return c.me
}

// SearchUsers returns the users matching filters, e.g. Eq("username", "joe").
func (c *Client) SearchUsers(ctx context.Context, filters ...Filter) ([]*User, error) {
	return search(ctx, c.s, "User.filter", userKind, newUser, filters)
}

// Login returns the user name used to log in.
func (u *User) Login(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, u, &u.login)
}

// Email returns the email address.
func (u *User) Email(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, u, &u.email)
}

// Name returns "first last", or "" when either part is missing.
func (u *User) Name(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, u, &u.name)
}

// Materialize implements nitrate.Materializer.
func (u *User) Materialize(_ context.Context, rec remote.Record) error {
	login, err := rec.String("username")
	if err != nil {
		return err
	}
	email, err := rec.String("email")
	if err != nil {
		return err
	}
	first, err := rec.String("first_name")
	if err != nil {
		return err
	}
	last, err := rec.String("last_name")
	if err != nil {
		return err
	}
	var name string
	if first != "" && last != "" {
		name = first + " " + last
	}
	u.login.Put(login)
	u.email.Put(email)
	u.name.Put(name)
	return nil
}

// HasKey implements nitrate.KeyFetcher.
func (u *User) HasKey() bool {
	return u.me || u.keyLogin != "" || u.keyEmail != ""
}

// FetchByKey implements nitrate.KeyFetcher.
func (u *User) FetchByKey(ctx context.Context) (remote.Record, error) {
	s := u.Session()
	switch {
	case u.keyLogin != "":
		return nitrate.FilterOne(ctx, s, "User.filter", remote.Record{"username": u.keyLogin})
	case u.keyEmail != "":
		return nitrate.FilterOne(ctx, s, "User.filter", remote.Record{"email": u.keyEmail})
	}
	v, err := s.Call(ctx, "User.get_me")
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nitrate.ErrNoRecord
	}
	return remote.AsRecord(v)
}
