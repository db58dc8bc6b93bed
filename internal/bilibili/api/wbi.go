package api

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// mixinKeyEncTab WBI混淆表，对 img_key+sub_key 重排后取前32位
var mixinKeyEncTab = []int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35, 27, 43, 5, 49,
	33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13, 37, 48, 7, 16, 24, 55, 40,
	61, 26, 17, 0, 1, 60, 51, 30, 4, 22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11,
	36, 20, 34, 44, 52,
}

// wbiKeyTTL 密钥每日轮换，按小时刷新足够
const wbiKeyTTL = time.Hour

// wbiKeyCache 进程内的WBI密钥
type wbiKeyCache struct {
	mu        sync.Mutex
	mixinKey  string
	fetchedAt time.Time
}

// navWbiResponse 导航接口中的WBI图片地址
//
// 未登录时 code 为 -101，但 wbi_img 依然返回。
type navWbiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		WbiImg struct {
			ImgURL string `json:"img_url"`
			SubURL string `json:"sub_url"`
		} `json:"wbi_img"`
	} `json:"data"`
}

// getMixinKey 根据 img_key 和 sub_key 计算混淆密钥
func getMixinKey(imgKey, subKey string) string {
	raw := imgKey + subKey
	var b strings.Builder
	for _, idx := range mixinKeyEncTab {
		if idx < len(raw) {
			b.WriteByte(raw[idx])
		}
	}
	key := b.String()
	if len(key) > 32 {
		key = key[:32]
	}
	return key
}

// keyFromURL 取图片文件名（不含扩展名）作为密钥
func keyFromURL(rawURL string) string {
	base := path.Base(rawURL)
	return strings.TrimSuffix(base, path.Ext(base))
}

// signParams 为请求参数追加 wts 和 w_rid
func signParams(params url.Values, mixinKey string, now time.Time) url.Values {
	signed := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			signed.Add(k, sanitizeWbiValue(v))
		}
	}
	signed.Set("wts", strconv.FormatInt(now.Unix(), 10))

	// Encode 按键排序
	query := signed.Encode()
	sum := md5.Sum([]byte(query + mixinKey))
	signed.Set("w_rid", hex.EncodeToString(sum[:]))
	return signed
}

// sanitizeWbiValue 去掉签名不接受的字符
func sanitizeWbiValue(v string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '!', '\'', '(', ')', '*':
			return -1
		}
		return r
	}, v)
}

// wbiMixinKey 获取（必要时刷新）混淆密钥
func (c *Client) wbiMixinKey(ctx context.Context) (string, error) {
	c.wbi.mu.Lock()
	defer c.wbi.mu.Unlock()

	now := c.now()
	if c.wbi.mixinKey != "" && now.Sub(c.wbi.fetchedAt) < wbiKeyTTL {
		return c.wbi.mixinKey, nil
	}

	body, err := c.doGet(ctx, "/x/web-interface/nav", nil)
	if err != nil {
		return "", errors.Wrap(err, "获取WBI密钥失败")
	}

	var resp navWbiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrap(err, "解析导航API响应失败")
	}

	imgKey := keyFromURL(resp.Data.WbiImg.ImgURL)
	subKey := keyFromURL(resp.Data.WbiImg.SubURL)
	if imgKey == "" || subKey == "" || imgKey == "." || subKey == "." {
		return "", errors.Errorf("导航API未返回WBI密钥: %s (code: %d)", resp.Message, resp.Code)
	}

	c.wbi.mixinKey = getMixinKey(imgKey, subKey)
	c.wbi.fetchedAt = now
	c.log.Debug("WBI密钥已刷新")
	return c.wbi.mixinKey, nil
}
