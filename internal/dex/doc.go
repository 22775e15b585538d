// Package dex discovers liquidity on a Ref-style exchange contract, estimates
// and builds single-hop swaps, and executes them as a sequence of signed
// transactions with finality polling between dependent steps.
package dex
