/*
Core implements the order reconciliation engine.

# Module
  - algorithm: diffs the strategy's logical orders against the physical orders
    in the order store and emits create/change/cancel commands
  - compare scheduler: collapses compare requests raised while a pass runs into
    one more pass
  - runner: single goroutine per symbol applying strategy updates and broker
    callbacks in arrival order

# Source
 1. position change details from the strategy layer
 2. confirms, rejects and fills from the broker adapter

# Produce
  - broker commands through PhysicalOrderHandler
  - logical fills through FillListener

# Sharded
  - symbol
*/
package core
