package paynestsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/oakfield/lettings_backend/config"
	"github.com/sirupsen/logrus"
)

const (
	defaultPageSize     = 25
	defaultMaxPages     = 1000
	defaultRatePerSec   = 5
	defaultHistoryYears = 2

	// Reporting endpoints reject ranges wider than 93 days; the
	// all-payments report is heavier and gets a narrower window.
	defaultChunkDays     = 93
	allPaymentsChunkDays = 14
)

type Client struct {
	baseURL      string
	apiKey       string
	apiKeyHdr    string
	http         *http.Client
	pageSize     int
	maxPages     int
	callDelay    time.Duration
	chunkDelay   time.Duration
	historyYears int
	logger       *logrus.Logger

	// sleep is swapped out in tests; it must honour ctx cancellation.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient() (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("PAYNEST_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.paynest.com"
	}
	apiKey := strings.TrimSpace(os.Getenv("PAYNEST_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("paynest api key is empty")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("PAYNEST_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}

	ratePerSec := intFromEnv("PAYNEST_RATE_LIMIT_PER_SEC", defaultRatePerSec)
	if ratePerSec <= 0 {
		ratePerSec = defaultRatePerSec
	}

	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		apiKeyHdr:    apiKeyHeader,
		http:         &http.Client{Timeout: 30 * time.Second},
		pageSize:     intFromEnv("PAYNEST_PAGE_SIZE", defaultPageSize),
		maxPages:     intFromEnv("PAYNEST_MAX_PAGES", defaultMaxPages),
		callDelay:    time.Second / time.Duration(ratePerSec),
		chunkDelay:   time.Second,
		historyYears: intFromEnv("PAYNEST_HISTORY_YEARS", defaultHistoryYears),
		logger:       config.GetLogger(),
		sleep:        sleepCtx,
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	if c.maxPages <= 0 {
		c.maxPages = defaultMaxPages
	}
	return c, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type PageMeta struct {
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
	Total      int `json:"total"`
}

// PageResult is one page of a remote list. Items is never nil; Pagination
// may be absent, which switches termination to the full-page heuristic.
type PageResult struct {
	Items      []RemoteDocument
	Pagination *PageMeta
}

type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("paynest api error %d: %s", e.StatusCode, e.Body)
}

// IsAuthError reports an unrecoverable 401/403 from the remote API.
func IsAuthError(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && (ae.StatusCode == http.StatusUnauthorized || ae.StatusCode == http.StatusForbidden)
}

func isNotFound(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// The items collection travels under different keys per endpoint family.
var itemsKeys = []string{"items", "data", "tickets", "categories"}

func (c *Client) fetchSinglePage(ctx context.Context, endpoint string, page int, params url.Values) (PageResult, error) {
	q := url.Values{}
	for key, vals := range params {
		q[key] = vals
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("rows", strconv.Itoa(c.pageSize))

	body, _, err := c.do(ctx, http.MethodGet, endpoint, q, nil)
	if err != nil {
		return PageResult{}, err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return PageResult{}, fmt.Errorf("decode page %d of %s: %w", page, endpoint, err)
	}

	result := PageResult{Items: []RemoteDocument{}}
	for _, key := range itemsKeys {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		list, ok := raw.([]interface{})
		if !ok {
			continue
		}
		for _, item := range list {
			if m, ok := item.(map[string]interface{}); ok {
				result.Items = append(result.Items, RemoteDocument(m))
			}
		}
		break
	}

	if raw, ok := doc["pagination"].(map[string]interface{}); ok {
		meta := &PageMeta{}
		if v, ok := raw["page"].(float64); ok {
			meta.Page = int(v)
		}
		if v, ok := raw["total_pages"].(float64); ok {
			meta.TotalPages = int(v)
		}
		if v, ok := raw["total"].(float64); ok {
			meta.Total = int(v)
		}
		if meta.TotalPages > 0 {
			result.Pagination = meta
		}
	}

	return result, nil
}

// FetchAllPages walks endpoint pages 1..N, mapping each item. Mapper
// failures are counted per item, never fatal. Termination, in priority
// order: empty page, pagination metadata, short-page heuristic. A 401/403
// aborts the whole fetch; 404 just ends this endpoint's pagination; any
// other fetch error advances to the next page speculatively.
func FetchAllPages[T any](ctx context.Context, c *Client, rc *RunContext, endpoint string, params url.Values, mapper func(RemoteDocument) (T, error)) ([]T, error) {
	var out []T

	for page := 1; page <= c.maxPages; page++ {
		if page > 1 {
			if err := c.sleep(ctx, c.callDelay); err != nil {
				return out, err
			}
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		result, err := c.fetchSinglePage(ctx, endpoint, page, params)
		if err != nil {
			if IsAuthError(err) {
				return out, err
			}
			if isNotFound(err) {
				return out, nil
			}
			config.LogError(c.logger, "paynestsync", "FetchAllPages", endpoint+" page "+strconv.Itoa(page), nil, err)
			continue
		}

		rc.CountPage()
		rc.CountItems(len(result.Items))

		if len(result.Items) == 0 {
			break
		}

		for _, item := range result.Items {
			mapped, err := mapper(item)
			if err != nil {
				rc.CountMapperError(err.Error())
				c.logger.WithFields(logrus.Fields{
					"endpoint": endpoint,
					"page":     page,
				}).Warnf("item mapping failed: %v", err)
				continue
			}
			out = append(out, mapped)
		}

		if result.Pagination != nil {
			if result.Pagination.Page >= result.Pagination.TotalPages {
				break
			}
			continue
		}
		// No metadata: assume more pages while the page is full. May cost
		// one trailing empty fetch on an exact multiple of the page size.
		if len(result.Items) < c.pageSize {
			break
		}
	}

	return out, nil
}

// FetchHistoricalPages walks backward from now in fixed date windows until
// the lookback horizon, running FetchAllPages per window. A window's errors
// are logged and skipped; later windows still run.
func FetchHistoricalPages[T any](ctx context.Context, c *Client, rc *RunContext, endpoint string, yearsBack int, mapper func(RemoteDocument) (T, error)) ([]T, error) {
	if yearsBack <= 0 {
		yearsBack = c.historyYears
	}
	chunkDays := defaultChunkDays
	if strings.Contains(endpoint, "all-payments") {
		chunkDays = allPaymentsChunkDays
	}

	horizon := time.Now().AddDate(-yearsBack, 0, 0)
	to := time.Now()
	var out []T
	first := true

	for to.After(horizon) {
		if !first {
			// Each window issues several paged requests of its own.
			if err := c.sleep(ctx, c.chunkDelay); err != nil {
				return out, err
			}
		}
		first = false
		if err := ctx.Err(); err != nil {
			return out, err
		}

		from := to.AddDate(0, 0, -chunkDays)
		if from.Before(horizon) {
			from = horizon
		}

		params := url.Values{}
		params.Set("from_date", from.Format("2006-01-02"))
		params.Set("to_date", to.Format("2006-01-02"))

		chunk, err := FetchAllPages(ctx, c, rc, endpoint, params, mapper)
		out = append(out, chunk...)
		if err != nil {
			if IsAuthError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return out, err
			}
			config.LogError(c.logger, "paynestsync", "FetchHistoricalPages",
				endpoint+" "+from.Format("2006-01-02")+".."+to.Format("2006-01-02"), nil, err)
		}

		to = from
	}

	return out, nil
}

func (c *Client) do(ctx context.Context, method string, path string, params url.Values, payload interface{}) ([]byte, string, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, "", err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &apiError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) mutate(ctx context.Context, method string, path string, payload interface{}) (RemoteDocument, error) {
	if err := c.sleep(ctx, c.callDelay); err != nil {
		return nil, err
	}
	data, _, err := c.do(ctx, method, path, nil, payload)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return RemoteDocument{}, nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return RemoteDocument(doc), nil
}

func (c *Client) Get(ctx context.Context, path string) (RemoteDocument, error) {
	if err := c.sleep(ctx, c.callDelay); err != nil {
		return nil, err
	}
	data, _, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return RemoteDocument(doc), nil
}

func (c *Client) Post(ctx context.Context, path string, payload interface{}) (RemoteDocument, error) {
	return c.mutate(ctx, http.MethodPost, path, payload)
}

func (c *Client) Put(ctx context.Context, path string, payload interface{}) (RemoteDocument, error) {
	return c.mutate(ctx, http.MethodPut, path, payload)
}

func (c *Client) Patch(ctx context.Context, path string, payload interface{}) (RemoteDocument, error) {
	return c.mutate(ctx, http.MethodPatch, path, payload)
}

func (c *Client) Delete(ctx context.Context, path string) (RemoteDocument, error) {
	return c.mutate(ctx, http.MethodDelete, path, nil)
}

// DownloadAttachment returns the raw bytes and content type of a remote
// attachment.
func (c *Client) DownloadAttachment(ctx context.Context, path string) ([]byte, string, error) {
	if err := c.sleep(ctx, c.callDelay); err != nil {
		return nil, "", err
	}
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
