// Package agentloop implements the agentic loop engine: given a user
// message, it repeatedly asks a language model which registered tools to
// invoke, executes them, feeds results back, and terminates when the model
// stops requesting tools or an iteration/time budget is exhausted.
//
// The engine is stateless across requests. Conversation history is supplied
// by the caller and returned in the result; nothing is persisted internally.
//
// # Architecture
//
//   - Engine: orchestrates one request end to end, pairing an llm.Provider
//     with a plugin.Registry, an optional knowledge.Store for retrieval, an
//     optional audit.Recorder, and a contextbuilder.Builder for
//     token-budgeted prompts.
//   - StreamEvent: typed narration of the run, delivered to a caller
//     supplied sink.
//   - RunResponse: tagged union of a terminal LoopResult or a non-terminal
//     ConfirmationRequest for risk-gated tools.
//
// # Quick Start
//
//	registry := plugin.NewRegistry(plugin.Options{AutoNamespace: true})
//	_ = registry.Load(ctx, myPlugin)
//
//	engine := agentloop.NewEngine(provider, registry, agentloop.DefaultConfig())
//	resp, err := engine.Run(ctx, "Summarize the open incidents", agentloop.RunOptions{
//	    OnEvent: func(ev agentloop.StreamEvent) { fmt.Println(ev.Kind) },
//	})
package agentloop
