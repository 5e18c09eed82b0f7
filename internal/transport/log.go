// =============================================================================
// 文件: internal/transport/log.go
// 描述: 分级日志辅助
// =============================================================================
package transport

import (
	"fmt"
	"time"
)

// parseLogLevel 字符串日志级别转数值 (0=error 1=info 2=debug)
func parseLogLevel(s string) int {
	switch s {
	case "debug":
		return 2
	case "error":
		return 0
	default:
		return 1
	}
}

// logf 按级别输出一条日志
func logf(configured, level int, tag, format string, args ...interface{}) {
	if level > configured {
		return
	}
	prefix := map[int]string{0: "[ERROR]", 1: "[INFO]", 2: "[DEBUG]"}[level]
	fmt.Printf("%s %s [%s] %s\n", prefix, time.Now().Format("15:04:05"), tag, fmt.Sprintf(format, args...))
}
