package notifier

import (
	"context"
	"log"
	"os"
)

// Kind 表示通知的类别。
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Notice 表示一条面向用户的导入结果通知。
type Notice struct {
	Kind    Kind
	Title   string
	Message string
}

// Notifier 提供统一通知接口。
type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

// LogNotifier 仅打印通知，适合开发阶段使用。
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier 创建日志通知器，未提供 logger 时默认输出到标准输出。
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.New(os.Stdout, "[notify] ", log.LstdFlags)
	}
	return &LogNotifier{logger: logger}
}

// Notify 打印通知内容。
func (n LogNotifier) Notify(ctx context.Context, notice Notice) error {
	n.logger.Printf("%s: %s - %s", notice.Kind, notice.Title, notice.Message)
	return nil
}
