package approval

import (
	"fmt"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/yanmxa/kimi/internal/message"
)

// DiffDisplay builds a unified-diff preview for an approval request,
// e.g. a file edit awaiting confirmation.
func DiffDisplay(path, oldContent, newContent string) *message.Display {
	edits := myers.ComputeEdits(span.URIFromPath(path), oldContent, newContent)
	unified := fmt.Sprint(gotextdiff.ToUnified(path, path, oldContent, edits))
	return &message.Display{Kind: "diff", Text: unified, Path: path}
}

// PreviewDisplay builds a plain-text preview for an approval request.
func PreviewDisplay(text string) *message.Display {
	return &message.Display{Kind: "preview", Text: text}
}
