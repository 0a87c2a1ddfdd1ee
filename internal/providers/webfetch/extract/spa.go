package extract

import (
	"strings"

	"github.com/antchfx/htmlquery"
)

// spaMarkers matches the mount points and attributes left by client-side
// rendering frameworks.
const spaMarkers = `//*[@id='__next' or @id='__nuxt' or @id='___gatsby' or @data-reactroot or @ng-version or @data-server-rendered]`

// HasSPAMarkers reports whether html looks like a client-rendered shell.
func HasSPAMarkers(html string) bool {
	doc, err := htmlquery.Parse(strings.NewReader(html))
	if err != nil {
		return false
	}
	node, err := htmlquery.Query(doc, spaMarkers)
	return err == nil && node != nil
}
