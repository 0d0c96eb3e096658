package rules

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PhucNguyen204/cbquery/pkg/sigma"
)

// Entry là một rule đọc từ đĩa. Err != nil khi file không parse được; khi đó Rule rỗng.
type Entry struct {
	Path string
	Rule sigma.RuleIR
	Err  error
}

func isYAML(p string) bool {
	l := strings.ToLower(p)
	return strings.HasSuffix(l, ".yml") || strings.HasSuffix(l, ".yaml")
}

// Walk đọc root (file hoặc thư mục, đệ quy) theo thứ tự tên file.
// Lỗi IO dừng ngay; lỗi parse được ghi vào Entry để caller báo cáo.
func Walk(root string) ([]Entry, error) {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(p) {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)

	var out []Entry
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		rs, err := sigma.LoadRuleYAML(b)
		if err != nil {
			out = append(out, Entry{Path: p, Err: err})
			continue
		}
		for _, r := range rs {
			out = append(out, Entry{Path: p, Rule: r})
		}
	}
	return out, nil
}
