package scoring

import (
	"regexp"
	"strings"

	"github.com/hitoshi/unstabling/internal/model"
)

// 単語境界で一致させる。cryptoを先に評価する。
var (
	cryptoPattern = regexp.MustCompile(`\b(bitcoin|crypto|blockchain|defi|nft|token|coin|trading|finance|investment|money|price|market|ethereum|btc|eth)\b`)
	techPattern   = regexp.MustCompile(`\b(software|app|web|mobile|api|database|cloud|server|programming|code|tech|startup|saas|ai|artificial intelligence|machine learning|ml|neural|gpt|chatbot|automation|algorithm)\b`)
)

// Categorize はタイトル・本文・タグのキーワードから分類を判定する。
func Categorize(title, content string, tags []string) model.Category {
	text := strings.ToLower(title + " " + content + " " + strings.Join(tags, " "))

	switch {
	case cryptoPattern.MatchString(text):
		return model.CategoryCrypto
	case techPattern.MatchString(text):
		return model.CategoryTech
	default:
		return model.CategoryGeneral
	}
}
