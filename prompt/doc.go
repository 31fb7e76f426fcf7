// Package prompt renders the system and user prompts handed to an agent
// runtime. The system prompt describes the agent's environment and the
// conventions of the multi-agent system; the user prompt carries the live
// context (memory, peers, channels, prior conversation) and the trigger.
package prompt
