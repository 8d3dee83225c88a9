// Package llm provides the provider-neutral types shared by the streaming chat layer.
//
// This package defines conversation turns, the inbound event model of a streaming
// completion, usage records, and the error taxonomy, so that cache selection,
// retry and stream reduction can be written without depending on a provider SDK.
//
// # Core Concepts
//
//  1. Turns: a Turn has a role (system, user, assistant) and Content, which is either
//     PlainText or a PartList of ContentPart values (text, image, or pass-through).
//     The shape is resolved once when the Content is built.
//
//  2. Requests: Request is the annotated outbound request. ApplyThinking enables
//     extended thinking and adjusts temperature and max tokens to match.
//
//  3. Streams: Provider.Stream establishes a response and returns an EventStream,
//     an iterator of StreamEvent values (message start, block start/delta/stop,
//     message delta, other).
//
//  4. Usage: token counts are handed to a UsageSink as UsageRecord values.
//
//  5. Errors: Error carries a type, a retryable flag and the original provider error.
//     ClassifyStatus maps HTTP statuses onto the taxonomy.
//
// Usage Example
//
//	req := &llm.Request{
//	    Model:     "claude-3-7-sonnet-latest",
//	    System:    llm.PlainText("You are terse."),
//	    Turns:     []llm.Turn{llm.NewTextTurn(llm.RoleUser, "Hello!")},
//	    MaxTokens: 4000,
//	}
//	req.ApplyThinking(llm.ThinkingFor("low"))
//
//	events, err := provider.Stream(ctx, req)
//	if err != nil {
//	    return err
//	}
//	defer events.Close()
//	for events.Next() {
//	    ev := events.Event()
//	    ...
//	}
//	return events.Err()
package llm
