package classify

import (
	"context"
	"strings"
)

// KeywordOracle is a dependency-free oracle backed by keyword tables. It
// serves as the local stand-in when no remote classifier is configured.
type KeywordOracle struct {
	categories map[string][]string
}

// NewKeywordOracle builds the oracle with the default keyword tables.
func NewKeywordOracle() *KeywordOracle {
	return &KeywordOracle{
		categories: map[string][]string{
			"vpn":      {"vpn", "リモート接続", "remote access"},
			"accounts": {"password", "パスワード", "account", "アカウント", "login", "ログイン"},
			"expense":  {"経費", "expense", "精算", "reimburse"},
			"reports":  {"週報", "日報", "report", "レポート"},
			"hardware": {"pc", "laptop", "プリンタ", "printer", "モニタ", "monitor"},
			"hr":       {"有給", "休暇", "vacation", "leave", "労務"},
		},
	}
}

// Classify picks the first category whose keyword table matches the text.
func (o *KeywordOracle) Classify(ctx context.Context, text string) (Classification, error) {
	lowered := strings.ToLower(text)
	for _, category := range []string{"vpn", "accounts", "expense", "reports", "hardware", "hr"} {
		for _, kw := range o.categories[category] {
			if strings.Contains(lowered, kw) {
				return Classification{Category: category, Confidence: 0.6}, nil
			}
		}
	}
	return Classification{Category: "other", Confidence: 0.3}, nil
}

var (
	negativeMarkers = []string{"つらい", "しんどい", "疲れた", "無理", "不満", "最悪", "困って", "terrible", "awful", "frustrated", "exhausted", "hate", "stuck"}
	positiveMarkers = []string{"ありがとう", "助かりました", "嬉しい", "良い", "great", "thanks", "helpful", "awesome", "resolved"}
)

// Score estimates sentiment from marker words; neutral when nothing matches.
func (o *KeywordOracle) Score(ctx context.Context, text string) (SentimentResult, error) {
	lowered := strings.ToLower(text)
	score := 0.0
	for _, m := range negativeMarkers {
		if strings.Contains(lowered, m) {
			score -= 0.3
		}
	}
	for _, m := range positiveMarkers {
		if strings.Contains(lowered, m) {
			score += 0.3
		}
	}
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}

	label := "neutral"
	switch {
	case score <= -0.2:
		label = "negative"
	case score >= 0.2:
		label = "positive"
	}
	return SentimentResult{Score: score, Label: label, Confidence: 0.5}, nil
}
