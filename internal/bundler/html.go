package bundler

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// ClientTag loads the HMR client script.
const ClientTag = `<script type="module" src="` + ClientPath + `"></script>`

// TransformIndexHTML injects the HMR client and applies the registered
// transforms in order.
func (s *DevServer) TransformIndexHTML(ctx context.Context, url, doc string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if s.hmrEnabled {
		doc = InjectClient(doc)
	}

	for i, transform := range s.transforms {
		var err error
		doc, err = transform(ctx, url, doc)
		if err != nil {
			return "", fmt.Errorf("html transform %d: %w", i, err)
		}
	}

	return doc, nil
}

// InjectClient inserts ClientTag as the first child of <head>, after <html>
// when there is no head, or at the very start otherwise. Every other byte
// of doc is preserved. Documents that already load the client are returned
// unchanged.
func InjectClient(doc string) string {
	if strings.Contains(doc, `src="`+ClientPath+`"`) {
		return doc
	}

	at := injectionPoint(doc)
	return doc[:at] + ClientTag + doc[at:]
}

// injectionPoint returns the byte offset just past the <head> start tag, or
// past <html>, or 0.
func injectionPoint(doc string) int {
	z := html.NewTokenizer(strings.NewReader(doc))

	offset := 0
	afterHTML := -1

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		offset += len(z.Raw())

		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		name, _ := z.TagName()
		switch string(name) {
		case "head":
			return offset
		case "html":
			if afterHTML < 0 {
				afterHTML = offset
			}
		case "body":
			// A head cannot follow the body.
			if afterHTML >= 0 {
				return afterHTML
			}
			return 0
		}
	}

	if afterHTML >= 0 {
		return afterHTML
	}
	return 0
}
