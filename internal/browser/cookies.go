package browser

import (
	"context"
	"time"

	"github.com/SpacervalLam/bilibili-mcp/pkg/config"
	"github.com/pkg/errors"
	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"
)

// CookieSource 用无头浏览器打开B站首页，获取匿名指纹cookie
//
// 不涉及登录，只取 buvid3、b_nut 等访客cookie。
type CookieSource struct {
	config *config.Config
	log    *logrus.Logger
}

// NewCookieSource 创建cookie来源
func NewCookieSource(cfg *config.Config, log *logrus.Logger) *CookieSource {
	return &CookieSource{config: cfg, log: log}
}

// Fetch 启动浏览器访问首页并返回cookie
func (s *CookieSource) Fetch(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, errors.Wrap(err, "启动playwright失败")
	}
	defer pw.Stop()

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(s.config.Browser.Headless),
		Args: []string{
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-dev-shm-usage",
			"--no-first-run",
			"--no-zygote",
			"--disable-gpu",
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "启动浏览器失败")
	}
	defer browser.Close()

	// 中断时关闭浏览器，使进行中的导航立即返回
	stop := context.AfterFunc(ctx, func() { browser.Close() })
	defer stop()

	browserCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(s.config.Bilibili.UserAgent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "创建浏览器上下文失败")
	}
	defer browserCtx.Close()

	page, err := browserCtx.NewPage()
	if err != nil {
		return nil, errors.Wrap(err, "创建页面失败")
	}

	timeout, err := navigationTimeout(ctx, s.config.Browser.Timeout, time.Now())
	if err != nil {
		return nil, err
	}

	s.log.WithField("url", s.config.Bilibili.BaseURL).Info("浏览器访问首页获取cookie")

	if _, err := page.Goto(s.config.Bilibili.BaseURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, "导航被中断")
		}
		return nil, errors.Wrap(err, "导航到首页失败")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cookies, err := browserCtx.Cookies()
	if err != nil {
		return nil, errors.Wrap(err, "获取cookies失败")
	}

	cookieMap := toCookieMap(cookies)
	if _, ok := cookieMap["buvid3"]; !ok {
		s.log.Warn("浏览器cookie中没有找到buvid3")
	}

	s.log.WithField("count", len(cookieMap)).Info("浏览器cookie获取完成")
	return cookieMap, nil
}

// navigationTimeout 取配置超时与context剩余时间中较小者
func navigationTimeout(ctx context.Context, configured time.Duration, now time.Time) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	timeout := configured
	if deadline, ok := ctx.Deadline(); ok {
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return 0, context.DeadlineExceeded
		}
		if timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	return timeout, nil
}

// toCookieMap 转换为 name->value
func toCookieMap(cookies []playwright.Cookie) map[string]string {
	cookieMap := make(map[string]string, len(cookies))
	for _, cookie := range cookies {
		if cookie.Name == "" {
			continue
		}
		cookieMap[cookie.Name] = cookie.Value
	}
	return cookieMap
}
