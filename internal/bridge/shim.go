package bridge

import _ "embed"

// The page-side GM_* API rides along with the document-start injection
// payload, ahead of any userscript source.
//
//go:embed gm_api.js
var gmAPI string

// Shim returns the page-context JavaScript that installs the GM_* API
// and the delivery hook. It must be part of the page's init script,
// registered after the bridge binding is exposed and before navigation.
func Shim() string {
	return gmAPI
}
