package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cuemby/swms/pkg/types"
)

// ListUsers lists all user accounts
func (c *Client) ListUsers(ctx context.Context) ([]types.User, error) {
	var users []types.User
	_, err := c.do(ctx, &request{
		method: http.MethodGet,
		path:   "/api/admin/users",
	}, &users)
	if err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser gets a user account by ID
func (c *Client) GetUser(ctx context.Context, id int64) (*types.User, error) {
	var user types.User
	_, err := c.do(ctx, &request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/api/admin/users/%d", id),
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser creates an account; the backend emails a temporary password
func (c *Client) CreateUser(ctx context.Context, req types.CreateUserRequest) (*types.User, error) {
	body, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	var user types.User
	_, err = c.do(ctx, &request{
		method: http.MethodPost,
		path:   "/api/admin/users",
		body:   body,
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser updates an account
func (c *Client) UpdateUser(ctx context.Context, id int64, req types.UpdateUserRequest) error {
	body, err := encodeBody(req)
	if err != nil {
		return err
	}

	var ok bool
	_, err = c.do(ctx, &request{
		method: http.MethodPut,
		path:   fmt.Sprintf("/api/admin/users/%d", id),
		body:   body,
	}, &ok)
	return err
}

// DeleteUser deletes an account
func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.adminAction(ctx, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", id))
}

// DeactivateUser disables an account without deleting it
func (c *Client) DeactivateUser(ctx context.Context, id int64) error {
	return c.adminAction(ctx, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/deactivate", id))
}

// ResendTemporaryPassword issues a new temporary password
func (c *Client) ResendTemporaryPassword(ctx context.Context, id int64) error {
	return c.adminAction(ctx, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/resend-password", id))
}

func (c *Client) adminAction(ctx context.Context, method, path string) error {
	var ok bool
	_, err := c.do(ctx, &request{method: method, path: path}, &ok)
	return err
}
