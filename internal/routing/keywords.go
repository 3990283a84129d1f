package routing

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// KeywordConfig holds the externally editable keyword sets. Both lists can
// be changed without a code change; empty sections fall back to defaults.
type KeywordConfig struct {
	// SQLExclusion keywords force a question onto the alternate path.
	SQLExclusion []string `yaml:"sql_exclusion_keywords"`
	// Comparison keywords select the comparison report operation.
	Comparison []string `yaml:"comparison_keywords"`
}

// DefaultKeywords returns the built-in keyword sets.
func DefaultKeywords() KeywordConfig {
	return KeywordConfig{
		// Empty by default: everything routes to the report path unless
		// operators configure exclusions.
		SQLExclusion: nil,
		Comparison: []string{
			"环比", "同比", "同期", "对比", "比较", "相比",
			"变化", "增长", "下降", "升降", "差异", "差别",
			"去年同期", "上年同期", "同期相比", "上期相比",
			"增加", "减少", "上升", "下滑", "波动",
			"幅度", "涨跌", "变动", "趋势对比",
			"与", "和", "跟", "较", "比起",
			"相对于", "对照", "对应",
		},
	}
}

// LoadKeywords reads a keyword config YAML, overlaying defaults for any
// empty section. An empty path returns the defaults.
func LoadKeywords(path string) (KeywordConfig, error) {
	cfg := DefaultKeywords()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "routing: read keywords %s", path)
	}
	var file KeywordConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, eris.Wrapf(err, "routing: parse keywords %s", path)
	}
	if file.SQLExclusion != nil {
		cfg.SQLExclusion = file.SQLExclusion
	}
	if len(file.Comparison) > 0 {
		cfg.Comparison = file.Comparison
	}
	return cfg, nil
}
