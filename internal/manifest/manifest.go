package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// RootKey 是源站根路径（壳页面）的哨兵键。
const RootKey = "/"

// ErrCoreKeyMissing 表示 Core 中的键没有出现在资源表里。
var ErrCoreKeyMissing = errors.New("core key not present in resources")

// Resources 是逻辑键到内容指纹的映射。
type Resources map[string]string

// Manifest 描述一次部署：全部受管资源及安装前必须就绪的壳资源。
type Manifest struct {
	Resources Resources `json:"resources"`
	Core      []string  `json:"core"`
}

// New 构造并校验清单，resources 会被复制以保证不可变。
func New(resources map[string]string, core []string) (*Manifest, error) {
	m := &Manifest{
		Resources: make(Resources, len(resources)),
		Core:      append([]string(nil), core...),
	}
	for key, fingerprint := range resources {
		m.Resources[key] = fingerprint
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate 确认每个 Core 键都存在于 Resources 中。
func (m *Manifest) Validate() error {
	if m == nil {
		return errors.New("manifest is nil")
	}
	for _, key := range m.Core {
		if _, ok := m.Resources[key]; !ok {
			return fmt.Errorf("%w: %s", ErrCoreKeyMissing, key)
		}
	}
	return nil
}

// Fingerprint 返回 key 的指纹；不受管时 ok 为 false。
func (m *Manifest) Fingerprint(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	fp, ok := m.Resources[key]
	return fp, ok
}

// Has 报告 key 是否受清单管理。
func (m *Manifest) Has(key string) bool {
	_, ok := m.Fingerprint(key)
	return ok
}

// Keys 返回排序后的全部资源键。
func (m *Manifest) Keys() []string {
	keys := make([]string, 0, len(m.Resources))
	for key := range m.Resources {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len 返回受管资源数量。
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Resources)
}

// Encode 序列化为持久化格式：仅包含资源表的 JSON 对象。
func (r Resources) Encode() ([]byte, error) {
	return json.Marshal(map[string]string(r))
}

// DecodeResources 解析持久化的资源表。
func DecodeResources(data []byte) (Resources, error) {
	var out Resources
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode persisted manifest: %w", err)
	}
	if out == nil {
		out = Resources{}
	}
	return out, nil
}

// Stale 判断内容缓存中的 key 在升级时是否需要淘汰：
// 当前清单不再包含它，或新旧指纹不一致。
func Stale(current, previous Resources, key string) bool {
	fp, ok := current[key]
	if !ok {
		return true
	}
	return fp != previous[key]
}
