package tool

import (
	"context"
	"fmt"

	"github.com/yanmxa/kimi/internal/dmail"
	"github.com/yanmxa/kimi/internal/message"
)

// SendDMailID is the registry identifier of the SendDMail tool.
const SendDMailID = "kimi.tools.dmail:SendDMail"

// SendDMail lets the model fold its own context: after the current step
// finishes, the conversation rewinds to the named checkpoint and the
// message is delivered to the model's past self.
type SendDMail struct{}

func (t *SendDMail) Name() string { return "SendDMail" }

func (t *SendDMail) Description() string {
	return "Send a message to your past self at a prior checkpoint. " +
		"The conversation rewinds to that checkpoint, discarding everything after it, " +
		"and your past self receives the message. Use this to drop bulky intermediate " +
		"context (large file contents, experiment transcripts) once you have distilled " +
		"what matters. The message must carry everything your past self needs to " +
		"continue without repeating the work. Filesystem changes are NOT rewound."
}

func (t *SendDMail) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "What your past self needs to know: findings, decisions, distilled file contents.",
			},
			"checkpoint_id": map[string]any{
				"type":        "integer",
				"minimum":     0,
				"description": "The checkpoint to rewind to.",
			},
		},
		"required": []any{"message", "checkpoint_id"},
	}
}

func (t *SendDMail) Invoke(_ context.Context, args map[string]any, tc *Context) (message.ToolReturn, error) {
	body, _ := args["message"].(string)
	idNum, ok := args["checkpoint_id"].(float64)
	if !ok || idNum < 0 {
		return message.Error("checkpoint_id must be a non-negative integer", ""), nil
	}
	id := uint32(idNum)

	n := tc.NCheckpoints()
	if id >= n {
		return message.Error(
			fmt.Sprintf("checkpoint %d does not exist (valid range 0..%d)", id, n-1), ""), nil
	}

	if err := tc.Denwa.Put(dmail.DMail{Message: body, CheckpointID: id}); err != nil {
		return message.Error(err.Error(), ""), nil
	}

	return message.Ok(fmt.Sprintf("D-Mail queued; the world line shifts to checkpoint %d after this step", id)), nil
}
