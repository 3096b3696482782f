// Package catalog предоставляет клиент внешнего каталога отелей.
// Сервис бронирования хранит локальную копию названий отелей и обращается
// к каталогу, когда бронирование ссылается на неизвестный отель.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/hotelbooking/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с каталогом отелей.
// Ответы 429 и 5xx повторяются с учётом заголовка Retry-After.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

type hotelResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// NewClient создаёт HTTP-клиент для обращения к каталогу по указанному адресу.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    base,
		httpClient: rc,
	}
}

// GetHotel запрашивает отель по идентификатору. Для отсутствующего отеля возвращается model.ErrNotFound.
func (c *Client) GetHotel(ctx context.Context, id int64) (*model.Hotel, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("catalog client not configured")
	}

	url := fmt.Sprintf("%s/api/hotels/%d", c.baseURL, id)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: hotel %d", model.ErrNotFound, id)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result hotelResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if result.Name == "" {
		return nil, fmt.Errorf("catalog returned hotel %d without name", id)
	}

	return &model.Hotel{ID: id, Name: result.Name}, nil
}
