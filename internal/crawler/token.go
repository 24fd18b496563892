package crawler

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aleister1102/kaismonitor/internal/common/errorwrapper"
)

// ExtractToken reads the value of the hidden input named field from the
// OpenData root page.
func ExtractToken(html []byte, field string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", errorwrapper.NewProtocolError("token", "failed to parse root page", err)
	}

	var token string
	doc.Find("input").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name, _ := s.Attr("name")
		if name != field {
			return true
		}
		value, _ := s.Attr("value")
		token = strings.TrimSpace(value)
		return token == ""
	})

	if token == "" {
		return "", errorwrapper.NewProtocolError("token", "could not locate verification token "+field+" on page", nil)
	}
	return token, nil
}
