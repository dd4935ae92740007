package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cuemby/swms/pkg/types"
)

// Default notification page
const (
	DefaultPageSize   = 20
	DefaultPageNumber = 1
)

// Notifications fetches one page of the current user's notifications, newest first
func (c *Client) Notifications(ctx context.Context, pageSize, pageNumber int) ([]types.Notification, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageNumber <= 0 {
		pageNumber = DefaultPageNumber
	}

	query := url.Values{}
	query.Set("pageSize", strconv.Itoa(pageSize))
	query.Set("pageNumber", strconv.Itoa(pageNumber))

	var list []types.Notification
	_, err := c.do(ctx, &request{
		method: http.MethodGet,
		path:   "/api/user/notifications",
		query:  query,
	}, &list)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// UnreadCount returns the server-side unread notification count
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var count int
	_, err := c.do(ctx, &request{
		method: http.MethodGet,
		path:   "/api/user/notifications/unread-count",
	}, &count)
	return count, err
}

// MarkNotificationRead marks one notification read
func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	var ok bool
	_, err := c.do(ctx, &request{
		method: http.MethodPost,
		path:   fmt.Sprintf("/api/user/notifications/%d/mark-read", id),
	}, &ok)
	return err
}

// MarkAllNotificationsRead marks every notification read
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	var ok bool
	_, err := c.do(ctx, &request{
		method: http.MethodPost,
		path:   "/api/user/notifications/mark-all-read",
	}, &ok)
	return err
}

// DashboardStats returns the current user's dashboard figures
func (c *Client) DashboardStats(ctx context.Context) (*types.DashboardStats, error) {
	var stats types.DashboardStats
	_, err := c.do(ctx, &request{
		method: http.MethodGet,
		path:   "/api/user/dashboard",
	}, &stats)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
