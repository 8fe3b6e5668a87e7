package campaign

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ReportWriter 报告落盘
// 统一走 Encoder 以关闭 HTML 转义，保证非 ASCII 的库名和路径原样写出
type ReportWriter struct{}

func NewReportWriter() *ReportWriter {
	return &ReportWriter{}
}

// WriteJSON 把 v 以缩进 JSON 写到 path，父目录不存在则创建，已有文件直接覆盖
func (w *ReportWriter) WriteJSON(path string, v interface{}) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report dir: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
