// Package conversation implements the synchronization core of the support
// chat platform.
//
// # Overview
//
// The conversation package sits between the HTTP gateway and the storage
// layer. Every message, state transition, and assignment flows through its
// Service, which decides whether the AI responder or a human agent answers
// a customer.
//
// # Lifecycle
//
// A conversation moves through three states:
//
//	waiting   -> no agent assigned, the AI responder answers
//	connected -> a human agent owns the conversation, the AI stays silent
//	ended     -> terminal; further writes are logged and ignored
//
// The assignment invariant holds at all times: a conversation has an
// assigned agent if and only if its status is connected.
//
// # Race closure
//
// Two races are closed here rather than with locks around the stores:
//
//   - ConnectAgent is the single mutual-exclusion point. When two agents
//     race for the same waiting conversation, exactly one wins; the loser
//     gets an AlreadyAssignedError naming the winner.
//   - SendCustomerMessage re-reads conversation status after AI generation
//     completes. If an agent connected mid-generation, the AI reply is
//     discarded so the AI never talks over a live agent.
//
// # Key operations
//
//   - Create(ctx, req): start a conversation, emit the join message
//   - SendCustomerMessage(ctx, req): persist, then answer or stay silent
//   - ConnectAgent(ctx, id, agentID, agentName): claim a conversation
//   - SendAgentMessage(ctx, req): connect if needed, then persist
//   - RequestAgent(ctx, id, text): escalate to the least-loaded agent
//   - End(ctx, id): terminal transition, releases the agent
package conversation
