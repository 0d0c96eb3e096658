package sigma

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	sigmago "github.com/bradleyjkemp/sigma-go"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// namespace cho id sinh tự động của rule không khai báo id
var ruleNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("cbquery/sigma-rule"))

// ParseRule parse một document Sigma thành RuleIR.
func ParseRule(b []byte) (RuleIR, error) {
	rule, err := sigmago.ParseRule(b)
	if err != nil {
		return RuleIR{}, &ParseError{Err: err}
	}

	id := strings.TrimSpace(rule.ID)
	if id == "" {
		// id ổn định theo nội dung để upsert không tạo bản ghi trùng
		id = uuid.NewSHA1(ruleNamespace, b).String()
	}

	tree, err := BuildTree(rule.Detection)
	if err != nil {
		return RuleIR{}, &ParseError{RuleID: id, Err: err}
	}

	return RuleIR{
		ID:          id,
		Title:       strings.TrimSpace(rule.Title),
		Level:       rule.Level,
		Description: strings.TrimSpace(rule.Description),
		Logsource: Logsource{
			Category: rule.Logsource.Category,
			Product:  rule.Logsource.Product,
			Service:  rule.Logsource.Service,
		},
		Tree: tree,
	}, nil
}

// LoadRuleYAML đọc file có thể chứa nhiều document ("---").
// Document không có detection (vd. phần "action: global") bị bỏ qua.
func LoadRuleYAML(b []byte) ([]RuleIR, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	var out []RuleIR
	for i := 0; ; i++ {
		var doc yaml.Node
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("yaml document %d: %w", i, err)
		}
		if !hasDetection(&doc) {
			continue
		}
		raw, err := yaml.Marshal(&doc)
		if err != nil {
			return nil, fmt.Errorf("yaml document %d: %w", i, err)
		}
		r, err := ParseRule(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, &ParseError{Err: ErrNoDetection}
	}
	return out, nil
}

func hasDetection(doc *yaml.Node) bool {
	n := doc
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == "detection" {
			return true
		}
	}
	return false
}
