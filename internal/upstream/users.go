package upstream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/velicb/supplydesk/internal/session"
)

// Users lists all accounts known to the inventory API (admin only).
func (c *Client) Users(ctx context.Context) ([]session.User, error) {
	var users []session.User
	if err := c.do(ctx, http.MethodGet, "/users", nil, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) User(ctx context.Context, id int) (*session.User, error) {
	var user session.User
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%d", id), nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) CreateUser(ctx context.Context, user *session.User) (*session.User, error) {
	var created session.User
	if err := c.do(ctx, http.MethodPost, "/users", nil, user, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateUser(ctx context.Context, id int, user *session.User) (*session.User, error) {
	var updated session.User
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/users/%d", id), nil, user, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) DeleteUser(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/users/%d", id), nil, nil, nil)
}
