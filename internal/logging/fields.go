package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供资源键、服务策略与命中状态字段，供路由日志复用。
func RequestFields(key, policy, origin string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"key":       key,
		"policy":    policy,
		"origin":    origin,
		"cache_hit": cacheHit,
	}
}

// LifecycleFields 描述 install/activate/prefetch 等生命周期事件。
func LifecycleFields(action, state string, resources int) logrus.Fields {
	return logrus.Fields{
		"action":    action,
		"state":     state,
		"resources": resources,
	}
}
