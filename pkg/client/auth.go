package client

import (
	"context"
	"net/http"

	"github.com/cuemby/swms/pkg/types"
)

// Login authenticates with email and password. It does not persist anything;
// the session controller owns that.
func (c *Client) Login(ctx context.Context, creds types.Credentials) (*types.Profile, error) {
	body, err := encodeBody(creds)
	if err != nil {
		return nil, err
	}

	var profile types.Profile
	_, err = c.do(ctx, &request{
		method:    http.MethodPost,
		path:      "/api/auth/login",
		body:      body,
		anonymous: true,
		noRefresh: true,
	}, &profile)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// RefreshToken exchanges a refresh token for a new token pair
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*types.TokenPair, error) {
	body, err := encodeBody(types.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}

	var pair types.TokenPair
	_, err = c.do(ctx, &request{
		method:    http.MethodPost,
		path:      "/api/auth/refresh-token",
		body:      body,
		anonymous: true,
		noRefresh: true,
	}, &pair)
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// ChangePassword changes the current user's password and returns the backend message
func (c *Client) ChangePassword(ctx context.Context, req types.ChangePasswordRequest) (string, error) {
	body, err := encodeBody(req)
	if err != nil {
		return "", err
	}

	var ok bool
	return c.do(ctx, &request{
		method: http.MethodPost,
		path:   "/api/auth/change-password",
		body:   body,
	}, &ok)
}

// Logout invalidates the session on the backend
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, &request{
		method:    http.MethodPost,
		path:      "/api/auth/logout",
		noRefresh: true,
	}, nil)
	return err
}
