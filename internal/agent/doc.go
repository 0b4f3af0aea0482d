// Package agent contains the core orchestrator responsible for translating
// natural-language staking requests into executable on-chain workflows. It
// resolves intents through the LLM layer, validates them against the chain
// and token registries, and drives the atomic staking pipeline.
package agent
