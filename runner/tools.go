package runner

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/voyagent/voyagent/provider"
)

// PageProvider hands out the shared browser page. Implemented by
// browser.Manager; tests substitute a fake.
type PageProvider interface {
	Page() (*rod.Page, error)
}

// Tool is a single browser action the model can invoke during a run.
type Tool interface {
	Name() string
	Definition() provider.ToolDef
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// BrowserTools builds the standard action set backed by the given page
// provider.
func BrowserTools(pages PageProvider) []Tool {
	return []Tool{
		&NavigateTool{Pages: pages},
		&ClickTool{Pages: pages},
		&FillTool{Pages: pages},
		&ExtractTool{Pages: pages},
		&ScreenshotTool{Pages: pages},
	}
}

// NavigateTool loads a URL and returns the page title and a text excerpt.
type NavigateTool struct {
	Pages PageProvider
}

func (t *NavigateTool) Name() string { return "navigate" }

func (t *NavigateTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: "Navigate the browser to a URL and return page title and text",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "URL to navigate to"},
			},
			"required": []string{"url"},
		},
	}
}

func (t *NavigateTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}

	page, err := t.Pages.Page()
	if err != nil {
		return nil, fmt.Errorf("get browser page: %w", err)
	}

	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}

	// Wait for load with timeout
	waitCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := page.Context(waitCtx).WaitLoad(); err != nil {
		// Non-fatal: page may have loaded enough even if WaitLoad times out
		_ = err
	}

	title := ""
	if res, err := page.Eval(`() => document.title`); err == nil && res != nil {
		title = res.Value.String()
	}

	text := ""
	if res, err := page.Eval(`() => document.body ? document.body.innerText : ""`); err == nil && res != nil {
		text = res.Value.String()
	}
	if len(text) > 2000 {
		text = text[:2000]
	}

	return map[string]any{
		"title": title,
		"text":  text,
	}, nil
}

// ClickTool clicks an element by CSS selector.
type ClickTool struct {
	Pages PageProvider
}

func (t *ClickTool) Name() string { return "click" }

func (t *ClickTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: "Click an element on the current page by CSS selector",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"selector": map[string]any{"type": "string", "description": "CSS selector of element to click"},
			},
			"required": []string{"selector"},
		},
	}
}

func (t *ClickTool) Execute(_ context.Context, args map[string]any) (any, error) {
	selector, _ := args["selector"].(string)
	if selector == "" {
		return nil, fmt.Errorf("selector is required")
	}

	page, err := t.Pages.Page()
	if err != nil {
		return nil, fmt.Errorf("get browser page: %w", err)
	}

	el, err := page.Element(selector)
	if err != nil {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("element not found: %v", err),
		}, nil
	}

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return map[string]any{
			"success": false,
			"error":   err.Error(),
		}, nil
	}

	return map[string]any{"success": true}, nil
}

// FillTool types a value into an input element.
type FillTool struct {
	Pages PageProvider
}

func (t *FillTool) Name() string { return "fill" }

func (t *FillTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: "Fill an input element on the current page",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"selector": map[string]any{"type": "string", "description": "CSS selector of the input element"},
				"value":    map[string]any{"type": "string", "description": "Value to fill in"},
			},
			"required": []string{"selector", "value"},
		},
	}
}

func (t *FillTool) Execute(_ context.Context, args map[string]any) (any, error) {
	selector, _ := args["selector"].(string)
	value, _ := args["value"].(string)
	if selector == "" {
		return nil, fmt.Errorf("selector is required")
	}

	page, err := t.Pages.Page()
	if err != nil {
		return nil, fmt.Errorf("get browser page: %w", err)
	}

	el, err := page.Element(selector)
	if err != nil {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("element not found: %v", err),
		}, nil
	}

	if err := el.Input(value); err != nil {
		return map[string]any{
			"success": false,
			"error":   err.Error(),
		}, nil
	}

	return map[string]any{"success": true}, nil
}

// ExtractTool pulls text and HTML from elements matching a selector.
type ExtractTool struct {
	Pages PageProvider
}

func (t *ExtractTool) Name() string { return "extract" }

func (t *ExtractTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: "Extract text and HTML from elements matching a CSS selector",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"selector": map[string]any{"type": "string", "description": "CSS selector to extract elements from"},
			},
			"required": []string{"selector"},
		},
	}
}

func (t *ExtractTool) Execute(_ context.Context, args map[string]any) (any, error) {
	selector, _ := args["selector"].(string)
	if selector == "" {
		return nil, fmt.Errorf("selector is required")
	}

	page, err := t.Pages.Page()
	if err != nil {
		return nil, fmt.Errorf("get browser page: %w", err)
	}

	els, err := page.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query elements: %w", err)
	}

	var elements []map[string]any
	for _, el := range els {
		text, _ := el.Text()
		html, _ := el.HTML()
		elements = append(elements, map[string]any{
			"text": strings.TrimSpace(text),
			"html": html,
		})
	}

	if elements == nil {
		elements = []map[string]any{}
	}

	return map[string]any{"elements": elements}, nil
}

// ScreenshotTool captures the current page as PNG.
type ScreenshotTool struct {
	Pages PageProvider
}

func (t *ScreenshotTool) Name() string { return "screenshot" }

func (t *ScreenshotTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: "Take a screenshot of the current page",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (t *ScreenshotTool) Execute(_ context.Context, _ map[string]any) (any, error) {
	page, err := t.Pages.Page()
	if err != nil {
		return nil, fmt.Errorf("get browser page: %w", err)
	}

	png, err := page.Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}

	return map[string]any{
		"image_base64": base64.StdEncoding.EncodeToString(png),
	}, nil
}
