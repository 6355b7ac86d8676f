package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/automaker/automaker/internal/llm"
)

// anthropicMessage is the non-streamed Messages API response shape.
type anthropicMessage struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string            `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

func (m anthropicMessage) toResponse() llm.Response {
	r := llm.Response{
		StopReason: m.StopReason,
		Usage:      llm.Usage{InputTokens: m.Usage.InputTokens, OutputTokens: m.Usage.OutputTokens},
	}
	for _, b := range m.Content {
		switch b.Type {
		case "text":
			r.Content = append(r.Content, llm.ContentBlock{Type: llm.BlockText, Text: b.Text})
		case "tool_use":
			r.Content = append(r.Content, llm.ContentBlock{
				Type:      llm.BlockToolUse,
				ToolUseID: b.ID,
				ToolName:  b.Name,
				ToolInput: b.Input,
			})
		}
	}
	return r
}

// blockState tracks one in-flight content block across content_block_start/
// delta/stop SSE frames.
type blockState struct {
	typ      string
	text     []byte
	toolID   string
	toolName string
	toolArgs []byte
}

// accumulator replays Anthropic's streaming SSE frames into llm.StreamEvent
// deltas and assembles the final llm.Response on message_stop.
type accumulator struct {
	blocks     map[int]*blockState
	order      []int
	stopReason string
	usage      llm.Usage
}

func newAccumulator() *accumulator {
	return &accumulator{blocks: map[int]*blockState{}}
}

func (a *accumulator) block(idx int) *blockState {
	st, ok := a.blocks[idx]
	if !ok {
		st = &blockState{}
		a.blocks[idx] = st
		a.order = append(a.order, idx)
	}
	return st
}

// apply processes one SSE frame (event name + JSON data) and returns an
// optional incremental content delta, whether the stream is now complete,
// and any decode error.
func (a *accumulator) apply(event, data string) (*llm.ContentBlock, bool, error) {
	if data == "" {
		return nil, false, nil
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, false, fmt.Errorf("decode sse frame %q: %w", event, err)
	}

	switch event {
	case "message_start":
		var wrap struct {
			Message struct {
				Usage struct {
					InputTokens int `json:"input_tokens"`
				} `json:"usage"`
			} `json:"message"`
		}
		_ = json.Unmarshal([]byte(data), &wrap)
		a.usage.InputTokens = wrap.Message.Usage.InputTokens
		return nil, false, nil

	case "content_block_start":
		var frame struct {
			Index        int            `json:"index"`
			ContentBlock anthropicBlock `json:"content_block"`
		}
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return nil, false, err
		}
		st := a.block(frame.Index)
		st.typ = frame.ContentBlock.Type
		st.toolID = frame.ContentBlock.ID
		st.toolName = frame.ContentBlock.Name
		return nil, false, nil

	case "content_block_delta":
		var frame struct {
			Index int `json:"index"`
			Delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				PartialJSON string `json:"partial_json"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return nil, false, err
		}
		st := a.block(frame.Index)
		switch frame.Delta.Type {
		case "text_delta":
			st.text = append(st.text, frame.Delta.Text...)
			return &llm.ContentBlock{Type: llm.BlockText, Text: frame.Delta.Text}, false, nil
		case "input_json_delta":
			st.toolArgs = append(st.toolArgs, frame.Delta.PartialJSON...)
			return &llm.ContentBlock{Type: llm.BlockToolUse, ToolUseID: st.toolID, ToolName: st.toolName}, false, nil
		}
		return nil, false, nil

	case "message_delta":
		var frame struct {
			Delta struct {
				StopReason string `json:"stop_reason"`
			} `json:"delta"`
			Usage struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return nil, false, err
		}
		if frame.Delta.StopReason != "" {
			a.stopReason = frame.Delta.StopReason
		}
		a.usage.OutputTokens = frame.Usage.OutputTokens
		return nil, false, nil

	case "message_stop":
		return nil, true, nil

	default:
		return nil, false, nil
	}
}

func (a *accumulator) response() llm.Response {
	r := llm.Response{StopReason: a.stopReason, Usage: a.usage}
	for _, idx := range a.order {
		st := a.blocks[idx]
		switch st.typ {
		case "text":
			if len(st.text) > 0 {
				r.Content = append(r.Content, llm.ContentBlock{Type: llm.BlockText, Text: string(st.text)})
			}
		case "tool_use":
			var input map[string]any
			if len(st.toolArgs) > 0 {
				_ = json.Unmarshal(st.toolArgs, &input)
			}
			r.Content = append(r.Content, llm.ContentBlock{
				Type:      llm.BlockToolUse,
				ToolUseID: st.toolID,
				ToolName:  st.toolName,
				ToolInput: input,
			})
		}
	}
	return r
}
