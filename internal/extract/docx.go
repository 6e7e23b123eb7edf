package extract

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// documentXMLText flattens word/document.xml into plain text. Explicit page
// breaks (<w:br w:type="page"/> and <w:lastRenderedPageBreak/>) become
// form-feed markers so paginate can split on them; paragraph ends become
// newlines.
func documentXMLText(content []byte) string {
	decoder := xml.NewDecoder(bytes.NewReader(content))
	var sb strings.Builder
	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch tok := token.(type) {
		case xml.StartElement:
			switch tok.Name.Local {
			case "br":
				if brType(tok) == "page" {
					sb.WriteString(pageBreak)
				}
			case "lastRenderedPageBreak":
				sb.WriteString(pageBreak)
			case "t":
				var text string
				if err := decoder.DecodeElement(&text, &tok); err == nil {
					sb.WriteString(text)
				}
			}
		case xml.EndElement:
			if tok.Name.Local == "p" {
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

func brType(el xml.StartElement) string {
	for _, attr := range el.Attr {
		if attr.Name.Local == "type" {
			return attr.Value
		}
	}
	return ""
}
