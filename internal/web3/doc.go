// Package web3 houses blockchain connectivity utilities: chain endpoint
// definitions loaded from YAML and the smart-contract wallet session types
// built on top of them. Concrete EVM connectivity lives in the ethereum
// subpackage; per-chain wiring lives in the provider subpackage.
package web3
