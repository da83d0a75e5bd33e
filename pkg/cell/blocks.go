package cell

import (
	"context"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/odvcencio/sagecell/pkg/markdown"
	"github.com/odvcencio/sagecell/pkg/render"
)

// Language is the fence language executed on the kernel.
const Language = "sage"

// BlockHandler executes each code block on c, streaming output into the
// block's wrapper. onRequest, if set, sees every submitted request.
func (c *Client) BlockHandler(onRequest func(*Request)) markdown.BlockHandler {
	return func(ctx context.Context, source string, target *goquery.Selection) error {
		var lock sync.Locker = &sync.Mutex{}
		if doc, ok := markdown.DocumentFrom(ctx); ok {
			lock = doc.Locker()
		}
		req, err := c.Execute(ctx, source, render.NewHTMLSink(target, c.SinkOptions(lock)))
		if err != nil {
			return err
		}
		if onRequest != nil {
			onRequest(req)
		}
		return nil
	}
}

// Register installs the sage block handler on p.
func (c *Client) Register(p *markdown.Processor, onRequest func(*Request)) {
	p.RegisterCodeBlock(Language, c.BlockHandler(onRequest))
}
