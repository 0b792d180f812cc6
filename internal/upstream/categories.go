package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
)

const categoriesCacheKey = "supplydesk::categories"

type Category struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Categories lists all item categories. The full list is small and
// changes rarely, so it is cached under a single redis key that gets
// dropped on every category write.
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	if cached := c.cacheGet(ctx, categoriesCacheKey); cached != "" {
		var categories []Category
		if err := json.Unmarshal([]byte(cached), &categories); err == nil {
			return categories, nil
		}
		log.Errorf("unmarshal cached categories, will refetch")
	}

	var categories []Category
	if err := c.do(ctx, http.MethodGet, "/categories", nil, nil, &categories); err != nil {
		return nil, err
	}

	c.cacheSet(ctx, categoriesCacheKey, categories)
	return categories, nil
}

func (c *Client) CreateCategory(ctx context.Context, category *Category) (*Category, error) {
	var created Category
	if err := c.do(ctx, http.MethodPost, "/categories", nil, category, &created); err != nil {
		return nil, err
	}
	c.dropCategoriesCache(ctx)
	return &created, nil
}

func (c *Client) UpdateCategory(ctx context.Context, id int, category *Category) (*Category, error) {
	var updated Category
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/categories/%d", id), nil, category, &updated); err != nil {
		return nil, err
	}
	c.dropCategoriesCache(ctx)
	return &updated, nil
}

func (c *Client) DeleteCategory(ctx context.Context, id int) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/categories/%d", id), nil, nil, nil); err != nil {
		return err
	}
	c.dropCategoriesCache(ctx)
	return nil
}

func (c *Client) dropCategoriesCache(ctx context.Context) {
	if c.redisClient == nil {
		return
	}
	if err := c.redisClient.Del(ctx, categoriesCacheKey).Err(); err != nil {
		log.Errorf("drop categories cache: %s", err)
	}
}
