package manifest

import "strings"

const versionQuery = "?v="

// ResolveKey 将完整请求 URL 映射为清单键。
// 源站本身、以 "origin/#" 开头的 URL 以及空键都归一到 RootKey；
// "?v=" 缓存破坏参数会被剥离。URL 不属于该源站时 ok 为 false。
func ResolveKey(origin, rawURL string) (string, bool) {
	origin = strings.TrimRight(origin, "/")
	if rawURL != origin && !strings.HasPrefix(rawURL, origin+"/") {
		return "", false
	}

	key := strings.TrimPrefix(strings.TrimPrefix(rawURL, origin), "/")
	if idx := strings.Index(key, versionQuery); idx >= 0 {
		key = key[:idx]
	}
	if rawURL == origin || strings.HasPrefix(rawURL, origin+"/#") || key == "" {
		key = RootKey
	}
	return key, true
}

// URLFor 返回 key 的规范请求 URL，缓存条目统一以此为键。
func URLFor(origin, key string) string {
	origin = strings.TrimRight(origin, "/")
	if key == RootKey {
		return origin + "/"
	}
	return origin + "/" + strings.TrimPrefix(key, "/")
}
