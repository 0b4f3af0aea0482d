// Package llm contains adapters for invoking large language models to turn
// natural-language staking requests into structured intents. It abstracts
// away provider-specific APIs so the agent runtime only sees one interface.
package llm
