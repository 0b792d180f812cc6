package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"
)

const (
	itemsCacheVersionKey = "supplydesk::items::version"
	itemsCacheKeyPrefix  = "supplydesk::items::"
)

type Item struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CategoryID  int    `json:"category_id"`
	Quantity    int    `json:"quantity"`
	Unit        string `json:"unit,omitempty"`
	MinQuantity int    `json:"min_quantity"`
	ExpiryDate  string `json:"expiry_date,omitempty"`
	DeletedAt   string `json:"deleted_at,omitempty"`
}

// ItemsPage is one page of an item listing, in the API's pagination
// envelope.
type ItemsPage struct {
	Items   []Item `json:"data"`
	Page    int    `json:"current_page"`
	PerPage int    `json:"per_page"`
	Total   int    `json:"total"`
}

// Items lists a page of inventory items. Pages are cached in redis for a
// short while; any item write bumps the cache generation so stale pages
// stop being served.
func (c *Client) Items(ctx context.Context, page, perPage int) (*ItemsPage, error) {
	cacheKey := c.itemsCacheKey(ctx, page, perPage)
	if cached := c.cacheGet(ctx, cacheKey); cached != "" {
		var itemsPage ItemsPage
		if err := json.Unmarshal([]byte(cached), &itemsPage); err == nil {
			log.Tracef("items page %d served from cache", page)
			return &itemsPage, nil
		}
		log.Errorf("unmarshal cached items page [%s], will refetch", cacheKey)
	}

	var itemsPage ItemsPage
	if err := c.do(ctx, http.MethodGet, "/items", pageQuery(page, perPage), nil, &itemsPage); err != nil {
		return nil, err
	}

	c.cacheSet(ctx, cacheKey, &itemsPage)
	return &itemsPage, nil
}

func (c *Client) Item(ctx context.Context, id int) (*Item, error) {
	var item Item
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/items/%d", id), nil, nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) CreateItem(ctx context.Context, item *Item) (*Item, error) {
	var created Item
	if err := c.do(ctx, http.MethodPost, "/items", nil, item, &created); err != nil {
		return nil, err
	}
	c.bumpItemsCache(ctx)
	return &created, nil
}

func (c *Client) UpdateItem(ctx context.Context, id int, item *Item) (*Item, error) {
	var updated Item
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/items/%d", id), nil, item, &updated); err != nil {
		return nil, err
	}
	c.bumpItemsCache(ctx)
	return &updated, nil
}

func (c *Client) DeleteItem(ctx context.Context, id int) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/items/%d", id), nil, nil, nil); err != nil {
		return err
	}
	c.bumpItemsCache(ctx)
	return nil
}

func (c *Client) SearchItems(ctx context.Context, term string, page, perPage int) (*ItemsPage, error) {
	query := pageQuery(page, perPage)
	query.Set("term", term)
	var itemsPage ItemsPage
	if err := c.do(ctx, http.MethodGet, "/items/search", query, nil, &itemsPage); err != nil {
		return nil, err
	}
	return &itemsPage, nil
}

func (c *Client) LowStockItems(ctx context.Context, page, perPage int) (*ItemsPage, error) {
	var itemsPage ItemsPage
	if err := c.do(ctx, http.MethodGet, "/items/low-stock", pageQuery(page, perPage), nil, &itemsPage); err != nil {
		return nil, err
	}
	return &itemsPage, nil
}

func (c *Client) ExpiringSoonItems(ctx context.Context, page, perPage int) (*ItemsPage, error) {
	var itemsPage ItemsPage
	if err := c.do(ctx, http.MethodGet, "/items/expiring-soon", pageQuery(page, perPage), nil, &itemsPage); err != nil {
		return nil, err
	}
	return &itemsPage, nil
}

func (c *Client) ItemsByCategory(ctx context.Context, categoryID, page, perPage int) (*ItemsPage, error) {
	var itemsPage ItemsPage
	path := fmt.Sprintf("/items/category/%d", categoryID)
	if err := c.do(ctx, http.MethodGet, path, pageQuery(page, perPage), nil, &itemsPage); err != nil {
		return nil, err
	}
	return &itemsPage, nil
}

func (c *Client) TrashedItems(ctx context.Context, page, perPage int) (*ItemsPage, error) {
	var itemsPage ItemsPage
	if err := c.do(ctx, http.MethodGet, "/items/trashed", pageQuery(page, perPage), nil, &itemsPage); err != nil {
		return nil, err
	}
	return &itemsPage, nil
}

func (c *Client) RestoreItem(ctx context.Context, id int) (*Item, error) {
	var restored Item
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/items/%d/restore", id), nil, nil, &restored); err != nil {
		return nil, err
	}
	c.bumpItemsCache(ctx)
	return &restored, nil
}

// itemsCacheKey includes the current cache generation, so bumping the
// generation invalidates all cached pages at once.
func (c *Client) itemsCacheKey(ctx context.Context, page, perPage int) string {
	version := 0
	if c.redisClient != nil {
		if versionStr, err := c.redisClient.Get(ctx, itemsCacheVersionKey).Result(); err == nil {
			version, _ = strconv.Atoi(versionStr)
		}
	}
	return fmt.Sprintf("%sv%d::page-%d-size-%d", itemsCacheKeyPrefix, version, page, perPage)
}

func (c *Client) bumpItemsCache(ctx context.Context) {
	if c.redisClient == nil {
		return
	}
	if err := c.redisClient.Incr(ctx, itemsCacheVersionKey).Err(); err != nil {
		log.Errorf("bump items cache version: %s", err)
	}
}

func (c *Client) cacheGet(ctx context.Context, key string) string {
	if c.redisClient == nil {
		return ""
	}
	cmd := c.redisClient.Get(ctx, key)
	if err := cmd.Err(); err != nil {
		return ""
	}
	return cmd.Val()
}

func (c *Client) cacheSet(ctx context.Context, key string, value any) {
	if c.redisClient == nil {
		return
	}
	valueBytes, err := json.Marshal(value)
	if err != nil {
		log.Errorf("marshal cache value for [%s]: %s", key, err)
		return
	}
	if err := c.redisClient.Set(ctx, key, valueBytes, c.cacheTTL).Err(); err != nil {
		log.Errorf("cache set [%s]: %s", key, err)
	}
}
