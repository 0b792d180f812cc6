package upstream

import (
	"context"
	"fmt"
	"net/http"
)

const (
	RequestStatusPending  = "pending"
	RequestStatusApproved = "approved"
	RequestStatusRejected = "rejected"
	RequestStatusReturned = "returned"
)

// BorrowRequest is a faculty member's request to borrow an item from
// the supply office.
type BorrowRequest struct {
	ID        int    `json:"id"`
	ItemID    int    `json:"item_id"`
	ItemName  string `json:"item_name,omitempty"`
	UserID    int    `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	Quantity  int    `json:"quantity"`
	Purpose   string `json:"purpose,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Requests lists all borrow requests (admin view).
func (c *Client) Requests(ctx context.Context) ([]BorrowRequest, error) {
	var requests []BorrowRequest
	if err := c.do(ctx, http.MethodGet, "/requests", nil, nil, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

// MyRequests lists the requests submitted by the logged-in user.
func (c *Client) MyRequests(ctx context.Context) ([]BorrowRequest, error) {
	var requests []BorrowRequest
	if err := c.do(ctx, http.MethodGet, "/my-requests", nil, nil, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

func (c *Client) CreateRequest(ctx context.Context, request *BorrowRequest) (*BorrowRequest, error) {
	var created BorrowRequest
	if err := c.do(ctx, http.MethodPost, "/requests", nil, request, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateRequestStatus moves a request through its approval flow.
func (c *Client) UpdateRequestStatus(ctx context.Context, id int, status string) (*BorrowRequest, error) {
	var updated BorrowRequest
	path := fmt.Sprintf("/requests/%d/status", id)
	if err := c.do(ctx, http.MethodPut, path, nil, map[string]string{"status": status}, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}
