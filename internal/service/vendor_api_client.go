package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

var (
	// ErrAPIAuthFailed 在凭据登录被拒绝时返回
	ErrAPIAuthFailed = errors.New("vendor api authentication failed")
	// ErrAPICredentialsMissing 在既无令牌也无凭据时返回
	ErrAPICredentialsMissing = errors.New("vendor api credentials are required")
)

const (
	// vendorAPIMaxResponseBytes 限制单次响应体大小
	vendorAPIMaxResponseBytes = 4 << 20
	// vendorAPIMaxPages 限制单个端点的翻页次数，保证终止
	vendorAPIMaxPages = 50
	// vendorAPIRequestsPerSecond 对厂商接口的请求节奏
	vendorAPIRequestsPerSecond = 2
)

// vendorPage 是厂商分页端点的统一响应结构。
type vendorPage struct {
	Records    []map[string]any `json:"records"`
	NextOffset *int             `json:"next_offset"`
	Error      struct {
		Message string `json:"message"`
	} `json:"error"`
}

type vendorLoginResponse struct {
	Token string `json:"token"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// VendorAPIClient 通过认证分页拉取厂商的活动/睡眠/身体端点。
// 支持两种认证：预取令牌（含过期检查）与凭据登录换取令牌。
type VendorAPIClient struct {
	http     httpDoer
	baseURL  string
	limiter  *rate.Limiter
	username string
	password string
	token    string
	loc      *time.Location
}

// httpDoer 抽象 HTTP 客户端，便于测试注入。
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewVendorAPIClient 构造厂商 API 客户端。loc 为空时使用 time.Local。
func NewVendorAPIClient(baseURL string, loc *time.Location) *VendorAPIClient {
	if loc == nil {
		loc = time.Local
	}
	return &VendorAPIClient{
		http:    &http.Client{Timeout: 60 * time.Second},
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		limiter: rate.NewLimiter(rate.Limit(vendorAPIRequestsPerSecond), vendorAPIRequestsPerSecond),
		loc:     loc,
	}
}

// SetHTTPClient 注入自定义 HTTP 客户端（测试用）。
func (c *VendorAPIClient) SetHTTPClient(client httpDoer) {
	if client == nil {
		c.http = &http.Client{Timeout: 60 * time.Second}
		return
	}
	c.http = client
}

// SetCredentials 配置凭据登录。
func (c *VendorAPIClient) SetCredentials(username, password string) {
	c.username = strings.TrimSpace(username)
	c.password = password
}

// SetToken 配置预取令牌（例如从厂商 App 抓取的令牌）。
func (c *VendorAPIClient) SetToken(token string) {
	c.token = strings.TrimSpace(token)
}

// ensureToken 保证持有可用令牌：已有令牌未过期则复用，否则凭据登录。
func (c *VendorAPIClient) ensureToken(ctx context.Context) error {
	if c.token != "" && !tokenExpired(c.token) {
		return nil
	}

	if c.username == "" || c.password == "" {
		if c.token != "" {
			// 令牌已过期且无凭据可刷新
			return fmt.Errorf("%w: token expired", ErrAPICredentialsMissing)
		}
		return ErrAPICredentialsMissing
	}

	payload, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return fmt.Errorf("encode login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vendor login: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, vendorAPIMaxResponseBytes))
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}

	var login vendorLoginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		return fmt.Errorf("parse login response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest || login.Token == "" {
		msg := strings.TrimSpace(login.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("%w: %s", ErrAPIAuthFailed, msg)
	}

	c.token = login.Token
	return nil
}

// tokenExpired 不验签地解析 JWT 声明，仅检查过期时间。
// 非 JWT 格式的令牌视为长期有效，由服务端 401 驱动重新登录。
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}

// fetchPage 拉取一页数据，受速率限制与响应体大小限制约束。
func (c *VendorAPIClient) fetchPage(ctx context.Context, endpoint string, query url.Values) (*vendorPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, vendorAPIMaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: %s", ErrAPIAuthFailed, resp.Status)
	}

	var page vendorPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("parse %s response: %w", endpoint, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := strings.TrimSpace(page.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("%s returned error: %s", endpoint, msg)
	}

	return &page, nil
}

// fetchAll 翻页拉完一个端点的全部记录。
func (c *VendorAPIClient) fetchAll(ctx context.Context, endpoint string, since time.Time) ([]map[string]any, error) {
	var records []map[string]any
	offset := 0

	for page := 0; page < vendorAPIMaxPages; page++ {
		query := url.Values{}
		query.Set("since", since.Format("2006-01-02"))
		query.Set("offset", fmt.Sprintf("%d", offset))

		result, err := c.fetchPage(ctx, endpoint, query)
		if err != nil {
			return records, err
		}
		records = append(records, result.Records...)

		if result.NextOffset == nil {
			break
		}
		offset = *result.NextOffset
	}

	return records, nil
}

// VendorAPIAdapter 把 VendorAPIClient 封装为导入管线的来源适配器。
type VendorAPIAdapter struct {
	client *VendorAPIClient
	since  time.Time
	loc    *time.Location
}

// NewVendorAPIAdapter 构造厂商 API 适配器，since 限定拉取起始日期。
func NewVendorAPIAdapter(client *VendorAPIClient, since time.Time) *VendorAPIAdapter {
	return &VendorAPIAdapter{client: client, since: since, loc: client.loc}
}

// Name 返回来源标识。
func (a *VendorAPIAdapter) Name() string {
	return SourceVendorAPI
}

// Extract 依次拉取活动、睡眠、身体端点。
// 单端点失败记入错误列表，其余端点继续。
func (a *VendorAPIAdapter) Extract(ctx context.Context, userID uint) (*Extraction, error) {
	if err := a.client.ensureToken(ctx); err != nil {
		return nil, err
	}

	extraction := &Extraction{}

	endpoints := []struct {
		path  string
		sleep bool
	}{
		{path: "/v1/activities"},
		{path: "/v1/sleep", sleep: true},
		{path: "/v1/body"},
	}

	for _, endpoint := range endpoints {
		records, err := a.client.fetchAll(ctx, endpoint.path, a.since)
		if err != nil {
			extraction.FileErrors = append(extraction.FileErrors, fmt.Sprintf("%s: %v", endpoint.path, err))
		}
		extraction.FilesProcessed++

		for _, fields := range records {
			raw := RawRecord{
				Source: SourceVendorAPI,
				UserID: userID,
				Fields: fields,
			}
			if ts, ok := parseTimeValue(fields["start_time"], a.loc); ok {
				raw.MeasuredAt = ts
				if endpoint.sleep {
					// 睡眠会话按开始时刻归属到对应的夜
					raw.Fields["date"] = sleepCalendarDay(ts, a.loc).Format("2006-01-02")
				}
			}
			extraction.Records = append(extraction.Records, ExtractedRecord{Raw: raw})
		}
	}

	return extraction, nil
}
