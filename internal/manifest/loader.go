package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	resourcesBlock = regexp.MustCompile(`(?s)const\s+RESOURCES\s*=\s*(\{.*?\})\s*;`)
	coreBlock      = regexp.MustCompile(`(?s)const\s+CORE\s*=\s*(\[.*?\])\s*;`)
	trailingComma  = regexp.MustCompile(`,\s*([}\]])`)
)

// Load 按扩展名读取清单：.json 为 {"resources":{},"core":[]}，
// .js 为构建生成的 service worker 脚本。
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js":
		return ParseServiceWorker(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON 解析 JSON 形式的清单。
func ParseJSON(data []byte) (*Manifest, error) {
	var raw Manifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if len(raw.Resources) == 0 {
		return nil, errors.New("manifest has no resources")
	}
	return New(raw.Resources, raw.Core)
}

// ParseServiceWorker 从生成的 service worker 脚本中提取 RESOURCES 与 CORE 常量。
func ParseServiceWorker(script []byte) (*Manifest, error) {
	resMatch := resourcesBlock.FindSubmatch(script)
	if resMatch == nil {
		return nil, errors.New("RESOURCES table not found in script")
	}
	var resources map[string]string
	if err := json.Unmarshal(stripTrailingCommas(resMatch[1]), &resources); err != nil {
		return nil, fmt.Errorf("decode RESOURCES: %w", err)
	}

	var core []string
	if coreMatch := coreBlock.FindSubmatch(script); coreMatch != nil {
		if err := json.Unmarshal(stripTrailingCommas(coreMatch[1]), &core); err != nil {
			return nil, fmt.Errorf("decode CORE: %w", err)
		}
	}
	return New(resources, core)
}

func stripTrailingCommas(block []byte) []byte {
	return trailingComma.ReplaceAll(block, []byte("$1"))
}
