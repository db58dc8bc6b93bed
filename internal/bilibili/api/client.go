package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/SpacervalLam/bilibili-mcp/pkg/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultAPIURL B站API地址
	DefaultAPIURL = "https://api.bilibili.com"
	// DefaultBaseURL B站主站地址，用作Referer
	DefaultBaseURL = "https://www.bilibili.com"
	// DefaultUserAgent 默认UA
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// popularPageSize 热门列表单页数量
	popularPageSize = 20
)

// deviceParams 浏览器环境参数，空间接口缺少时通常返回 -352 风控
var deviceParams = map[string]string{
	"dm_img_list":      "[]",
	"dm_img_str":       "V2ViR0wgMS4wIChPcGVuR0wgRVMgMi4wIENocm9taXVtKQ",
	"dm_cover_img_str": "QU5HTEUgKEludGVsLCBJbnRlbChSKSBVSEQgR3JhcGhpY3MgNjMwICgweDAwMDAzRTlCKSBEaXJlY3QzRDExIHZzXzVfMCBwc181XzAsIEQzRDExKUdvb2dsZSBJbmMuIChJbnRlbC",
	"dm_img_inter":     `{"ds":[],"wh":[0,0,0],"of":[0,0,0]}`,
}

// Options 客户端选项
type Options struct {
	APIURL    string
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// Cookies 初始cookie，为空时自动获取匿名指纹cookie
	Cookies map[string]string
	Logger  *logrus.Logger
}

// Client B站API客户端
//
// 每个方法只发起一次请求（WBI密钥和指纹cookie的首次获取除外），
// 并把响应的 data 字段原样返回。
type Client struct {
	httpClient *http.Client
	apiURL     string
	baseURL    string
	userAgent  string
	log        *logrus.Logger

	mu      sync.Mutex
	cookies map[string]string

	// fpSem 串行化指纹获取，并发的首次调用等待进行中的那一次
	fpSem        chan struct{}
	fingerprints bool // 是否已完成一次有效尝试，受 fpSem 保护

	wbi *wbiKeyCache
	now func() time.Time
}

// NewClient 创建API客户端
func NewClient(opts Options) *Client {
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	cookies := make(map[string]string, len(opts.Cookies))
	for k, v := range opts.Cookies {
		cookies[k] = v
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		apiURL:    strings.TrimRight(opts.APIURL, "/"),
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		log:       log,
		cookies:   cookies,
		fpSem:     make(chan struct{}, 1),
		wbi:       &wbiKeyCache{},
		now:       time.Now,
	}
}

// ResponseCodeError B站接口返回非0状态码
type ResponseCodeError struct {
	Code    int
	Message string
}

func (e *ResponseCodeError) Error() string {
	return fmt.Sprintf("接口返回错误代码：%d，信息：%s", e.Code, e.Message)
}

// envelope B站通用响应结构
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// ParseCookieHeader 解析 "a=1; b=2" 格式的Cookie请求头
func ParseCookieHeader(raw string) map[string]string {
	cookies := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		cookies[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return cookies
}

// MergeCookies 合并两组cookie，同名时 preferred 优先
func MergeCookies(discovered, preferred map[string]string) map[string]string {
	merged := make(map[string]string, len(discovered)+len(preferred))
	for k, v := range discovered {
		merged[k] = v
	}
	for k, v := range preferred {
		merged[k] = v
	}
	return merged
}

// SetCookies 合并cookie，已有同名cookie会被覆盖
func (c *Client) SetCookies(cookies map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range cookies {
		c.cookies[k] = v
	}
}

// Search 综合搜索
func (c *Client) Search(ctx context.Context, keyword string) (map[string]any, error) {
	params := url.Values{
		"keyword": {keyword},
	}
	return c.call(ctx, "/x/web-interface/wbi/search/all/v2", params, true)
}

// GetVideoInfo 按AV号获取视频信息
func (c *Client) GetVideoInfo(ctx context.Context, aid int64) (map[string]any, error) {
	params := url.Values{
		"aid": {strconv.FormatInt(aid, 10)},
	}
	return c.call(ctx, "/x/web-interface/view", params, false)
}

// GetUserInfo 按UID获取用户信息
func (c *Client) GetUserInfo(ctx context.Context, uid int64) (map[string]any, error) {
	params := url.Values{
		"mid":          {strconv.FormatInt(uid, 10)},
		"token":        {""},
		"platform":     {"web"},
		"web_location": {"1550101"},
	}
	for k, v := range deviceParams {
		params.Set(k, v)
	}
	return c.call(ctx, "/x/space/wbi/acc/info", params, true)
}

// GetComments 获取视频评论区指定页
func (c *Client) GetComments(ctx context.Context, aid int64, page int) (map[string]any, error) {
	params := url.Values{
		"type": {"1"}, // 视频评论区
		"oid":  {strconv.FormatInt(aid, 10)},
		"pn":   {strconv.Itoa(page)},
		"sort": {"0"}, // 按时间
	}
	return c.call(ctx, "/x/v2/reply", params, false)
}

// GetPopular 获取综合热门视频
func (c *Client) GetPopular(ctx context.Context) (map[string]any, error) {
	params := url.Values{
		"pn": {"1"},
		"ps": {strconv.Itoa(popularPageSize)},
	}
	return c.call(ctx, "/x/web-interface/popular", params, false)
}

// call 发起请求并解出 data 字段
func (c *Client) call(ctx context.Context, path string, params url.Values, signed bool) (map[string]any, error) {
	c.ensureFingerprint(ctx)

	if signed {
		mixinKey, err := c.wbiMixinKey(ctx)
		if err != nil {
			return nil, err
		}
		params = signParams(params, mixinKey, c.now())
	}

	body, err := c.doGet(ctx, path, params)
	if err != nil {
		return nil, err
	}

	return decodeData(body)
}

// decodeData 校验状态码并返回 data
//
// 数字保留为 json.Number，避免大整数ID丢失精度。
func decodeData(body []byte) (map[string]any, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrap(err, "解析API响应失败")
	}

	if env.Code != 0 {
		return nil, &ResponseCodeError{Code: env.Code, Message: env.Message}
	}

	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(env.Data))
	dec.UseNumber()

	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, errors.Wrap(err, "解析data字段失败")
	}

	if m, ok := data.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"data": data}, nil
}

// getHeaders 获取标准请求头
func (c *Client) getHeaders() map[string]string {
	return map[string]string{
		"User-Agent": c.userAgent,
		"Referer":    c.baseURL + "/",
		"Origin":     c.baseURL,
		"Accept":     "application/json, text/plain, */*",
	}
}

// getCookieString 获取cookie字符串，按名称排序保证输出稳定
func (c *Client) getCookieString() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.cookies))
	for name := range c.cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%s", name, c.cookies[name]))
	}
	return strings.Join(parts, "; ")
}

// doGet 发起GET请求，返回响应体
func (c *Client) doGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	reqURL := c.apiURL + path
	if len(params) > 0 {
		reqURL = reqURL + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "创建GET请求失败")
	}

	if cookie := c.getCookieString(); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	for key, value := range c.getHeaders() {
		req.Header.Set(key, value)
	}

	c.log.WithField("path", path).Debug("请求B站API")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "HTTP请求失败")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "读取响应失败")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("HTTP状态异常: %d", resp.StatusCode)
	}

	return body, nil
}

// spiResponse 指纹接口响应
type spiResponse struct {
	Code int `json:"code"`
	Data struct {
		B3 string `json:"b_3"`
		B4 string `json:"b_4"`
	} `json:"data"`
}

// ensureFingerprint 没有 buvid3 时获取匿名指纹cookie
//
// 搜索接口会拒绝不带 buvid3 的请求；获取失败只记录日志，不影响本次调用。
// 服务端失败后不再重试，因调用方context取消而失败的不算一次尝试。
func (c *Client) ensureFingerprint(ctx context.Context) {
	select {
	case c.fpSem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-c.fpSem }()

	if c.fingerprints || c.hasCookie("buvid3") {
		return
	}

	body, err := c.doGet(ctx, "/x/frontend/finger/spi", nil)
	if err != nil {
		if ctx.Err() != nil {
			c.log.WithError(err).Debug("获取指纹cookie被取消")
			return
		}
		c.fingerprints = true
		c.log.WithError(err).Warn("获取指纹cookie失败")
		return
	}
	c.fingerprints = true

	var resp spiResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Code != 0 || resp.Data.B3 == "" {
		c.log.WithField("code", resp.Code).Warn("指纹cookie响应无效")
		return
	}

	c.SetCookies(map[string]string{
		"buvid3": resp.Data.B3,
		"buvid4": resp.Data.B4,
	})
}

// hasCookie 是否已有指定cookie
func (c *Client) hasCookie(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cookies[name]
	return ok
}
