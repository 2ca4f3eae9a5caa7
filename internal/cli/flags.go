package cli

import (
	"fmt"
	"sort"
	"strings"
)

// pairFlag は "key<sep>value" 形式で繰り返し指定できるフラグ。
type pairFlag struct {
	sep    string
	values map[string]string
}

func newPairFlag(sep string) *pairFlag {
	return &pairFlag{sep: sep, values: make(map[string]string)}
}

// String は設定済みの値をキー順に連結して返す。
func (p *pairFlag) String() string {
	if p == nil || len(p.values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+p.sep+p.values[k])
	}
	return strings.Join(parts, ",")
}

// Set は1組の値を追加する。
func (p *pairFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, p.sep)
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return fmt.Errorf("%q は key%svalue 形式で指定してください", s, p.sep)
	}
	p.values[k] = strings.TrimSpace(v)
	return nil
}

// Map は設定済みの値を返す。未指定の場合はnil。
func (p *pairFlag) Map() map[string]string {
	if len(p.values) == 0 {
		return nil
	}
	return p.values
}
