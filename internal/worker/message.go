package worker

import "context"

// 控制通道接受的命令字面量。
const (
	MessageSkipWaiting     = "skipWaiting"
	MessageDownloadOffline = "downloadOffline"
)

// MessageResult 描述一条控制消息的处理结果。
type MessageResult struct {
	Command    string `json:"command"`
	Handled    bool   `json:"handled"`
	Activated  bool   `json:"activated,omitempty"`
	Downloaded int    `json:"downloaded,omitempty"`
}

// HandleMessage 处理控制消息：skipWaiting 让等待中的版本立即激活，
// downloadOffline 触发离线预取；其他消息（包括大小写或空白不同的变体）被忽略。
func (w *Worker) HandleMessage(ctx context.Context, msg string) (MessageResult, error) {
	result := MessageResult{Command: msg}

	switch msg {
	case MessageSkipWaiting:
		result.Handled = true
		activated, err := w.skipWaitingAndActivate(ctx)
		result.Activated = activated
		return result, err
	case MessageDownloadOffline:
		result.Handled = true
		n, err := w.DownloadOffline(ctx)
		result.Downloaded = n
		return result, err
	default:
		w.logger.WithField("action", "message").WithField("command", msg).Debug("message_ignored")
		return result, nil
	}
}

// skipWaitingAndActivate 设置 skipWaiting；若有版本处于 installed 等待中则立即激活。
func (w *Worker) skipWaitingAndActivate(ctx context.Context) (bool, error) {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.SkipWaiting()
	if w.State() != StateInstalled {
		return false, nil
	}
	return true, w.activate(ctx)
}
