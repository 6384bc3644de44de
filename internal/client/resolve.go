package client

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ResolveContractID finds the contract a page is about. Sources in order:
// the contract_id query parameter, the configured value, a hidden input
// named contract_id in the page, and a /contracts/{id} path segment.
func ResolveContractID(pageURL, configured, pageHTML string) (string, bool) {
	parsed, _ := url.Parse(pageURL)
	if parsed != nil {
		if id := strings.TrimSpace(parsed.Query().Get("contract_id")); id != "" {
			return id, true
		}
	}
	if id := strings.TrimSpace(configured); id != "" {
		return id, true
	}
	if id := hiddenInput(pageHTML, "contract_id"); id != "" {
		return id, true
	}
	if parsed != nil {
		segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		for i := 0; i+1 < len(segments); i++ {
			if segments[i] == "contracts" && segments[i+1] != "" {
				return segments[i+1], true
			}
		}
	}
	return "", false
}

func hiddenInput(page, name string) string {
	if strings.TrimSpace(page) == "" {
		return ""
	}
	tokens := html.NewTokenizer(strings.NewReader(page))
	for {
		switch tokens.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := tokens.Token()
			if tok.Data != "input" {
				continue
			}
			var inputName, value string
			for _, a := range tok.Attr {
				switch a.Key {
				case "name":
					inputName = a.Val
				case "value":
					value = a.Val
				}
			}
			if inputName == name && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		}
	}
}
