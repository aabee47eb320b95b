/*
Package domain contains the core domain models for the Espalier pipeline.

It defines the fundamental entities of the Plan/Executor state machine: Tasks,
Classifications, AgentKinds, the Plan, the mutable RunState, decision payloads,
and the ledger record types. This package is kept pure and free of external
dependencies like I/O or persistence, following Hexagonal Architecture principles.

# Key Entities

  - Task: a unit of work fetched from the external source, immutable once fetched.
  - Plan: ordered map of steps, each naming an agent kind and an action.
  - RunState: the single mutable snapshot of one orchestration run.
  - RouteDecision / StepDecision: validated payloads parsed from decision-service text.
  - RoutingDecision / ExecutionEvent / ModelCall: append-only ledger entries.
*/
package domain
