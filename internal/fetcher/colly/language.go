package collyfetcher

import (
	"fmt"

	"github.com/abadojack/whatlanggo"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
)

// detectLanguage returns the ISO 639-1 code of text. Low-confidence or
// unmapped detections fail with crawler.ErrLanguageDetect.
func detectLanguage(text string) (string, error) {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return "", fmt.Errorf("%w: confidence %.2f", crawler.ErrLanguageDetect, info.Confidence)
	}
	code := info.Lang.Iso6391()
	if code == "" {
		return "", fmt.Errorf("%w: no iso 639-1 code for %s", crawler.ErrLanguageDetect, info.Lang.String())
	}
	return code, nil
}
