package llmclient

import (
	"context"
	"fmt"
	"strings"
)

// FakeClient is a deterministic test double: it returns a canned
// response for the first registered prompt substring match, driving the
// end-to-end scenarios of spec.md §8 without network access.
type FakeClient struct {
	Responses []FakeResponse
	Calls     []Request
}

// FakeResponse pairs a substring matcher (checked against req.User)
// with the text and token counts to return.
type FakeResponse struct {
	WhenContains string
	Text         string
	InputTokens  int
	OutputTokens int
	Err          error
}

func (f *FakeClient) Complete(_ context.Context, req Request) (Response, error) {
	f.Calls = append(f.Calls, req)
	for _, r := range f.Responses {
		if r.WhenContains == "" || strings.Contains(req.User, r.WhenContains) {
			if r.Err != nil {
				return Response{}, r.Err
			}
			return Response{
				Text:         r.Text,
				InputTokens:  r.InputTokens,
				OutputTokens: r.OutputTokens,
				Model:        req.Model,
			}, nil
		}
	}
	return Response{}, fmt.Errorf("FakeClient: no response registered matching %q", req.User)
}
