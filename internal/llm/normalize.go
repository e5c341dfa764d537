package llm

import (
	"encoding/json"
	"strings"
)

// Normalize converts an upstream response body into a Response. It
// accepts the chat-completion shape ({choices:[{message:...}]}) and the
// generative shape ({candidates:[{content:{parts:[{text}]}}]}); anything
// else degrades to a textual dump of the body so the loop always has
// content to display. Normalize is a pure function: the same body always
// yields the same Response.
func Normalize(body []byte) Response {
	var envelope struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}

	if err := json.Unmarshal(body, &envelope); err == nil {
		if len(envelope.Choices) > 0 {
			msg := envelope.Choices[0].Message
			resp := Response{Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				resp.ToolCalls = append(resp.ToolCalls, ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			return resp
		}

		if len(envelope.Candidates) > 0 {
			var sb strings.Builder
			for _, part := range envelope.Candidates[0].Content.Parts {
				sb.WriteString(part.Text)
			}
			return Response{Content: sb.String()}
		}
	}

	// Unrecognized shape: show the raw body rather than failing.
	return Response{Content: strings.TrimSpace(string(body))}
}
