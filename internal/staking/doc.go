// Package staking implements the transaction-batch construction and execution
// pipeline: it turns a structured stake request into an ordered approve+supply
// call batch and submits it atomically through a pre-deployed smart-contract
// wallet. Parameter resolution, chat presentation and persistence live in the
// surrounding agent layers; this package only builds, orders and executes the
// on-chain calls.
package staking
