package crawler

import (
	"bytes"
	"net/http"
)

// BlockType describes the kind of anti-bot wall a page presented.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// DetectBlock checks a fetched page for signs of anti-bot protection. resp
// may be nil when the page came from the browser, in which case only the
// body is inspected.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp != nil && (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable) {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-cache-status") != "" ||
			resp.Header.Get("server") == "cloudflare" {
			return true, BlockCloudflare
		}
	}
	if len(body) == 0 {
		return false, BlockNone
	}

	lower := bytes.ToLower(body)
	has := func(s string) bool { return bytes.Contains(lower, []byte(s)) }

	if has("checking your browser") || has("cf-browser-verification") ||
		(has("cloudflare") && has("challenge")) {
		return true, BlockCloudflare
	}

	// Contact forms routinely embed reCAPTCHA, so only a page that is mostly
	// a captcha counts as blocked.
	if (has("g-recaptcha") || has("hcaptcha") || has("captcha")) && len(body) < 4000 {
		return true, BlockCaptcha
	}

	if len(body) < 2000 {
		if has("<noscript") && has("javascript") && !has("<a ") {
			return true, BlockJSShell
		}
		if has(`meta http-equiv="refresh"`) {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}
