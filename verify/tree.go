package verify

import (
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/disiqueira/gotree/v3"
)

func tocTree(title string, ncx *xmlquery.Node) gotree.Tree {
	root := gotree.New(title)
	for _, np := range query(ncx, "//navMap/navPoint") {
		addNavPoint(root, np)
	}
	return root
}

func addNavPoint(parent gotree.Tree, np *xmlquery.Node) {
	var label string
	if text := queryOne(np, "navLabel/*[local-name()='text']"); text != nil {
		label = strings.TrimSpace(text.InnerText())
	}
	if content := queryOne(np, "content"); content != nil {
		label += " [" + content.SelectAttr("src") + "]"
	} else {
		label += " [no target]"
	}
	node := parent.Add(label)
	for _, child := range query(np, "navPoint") {
		addNavPoint(node, child)
	}
}
