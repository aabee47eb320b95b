/*
Package espalier is a plan-and-execute orchestration engine for daily task
processing: it fetches the tasks due today, classifies them, routes each one
to a specialist processor, and writes a markdown report of everything it did.

It implements a supervised state machine in which every model answer is
treated as untrusted input: decisions are parsed defensively, failures fall
back to deterministic routes, and hard caps keep every run finite no matter
what the decision service returns.

# Concept

A run starts with a single planning call that produces a numbered step plan
(or the static fetch/classify/loop/report fallback when that call fails).
A linear sequencer walks the plan and a task loop routes each task through
processors until it is complete, recording every choice in a decision ledger.
The engine core is decoupled from its collaborators through ports, so task
sources (Todoist, fixtures), model clients (Anthropic, OpenAI, Ollama), and
archives (memory, file, Redis) are all swappable adapters. This Hexagonal
Architecture allows espalier to be embedded in any interface: CLI, HTTP
server, or AI agent infrastructure.

# Key Features

  - Bounded Execution: invocation, step, visit, and replan caps guarantee
    termination even against an adversarial or broken model.
  - Deterministic Fallbacks: every model failure has a scripted recovery
    route; a run never aborts because an answer did not parse.
  - Decision Ledger: every routing choice, model call, and timing event is
    recorded and archived for post-hoc inspection.
  - Hexagonal Architecture: core logic is decoupled from adapters (task
    sources, models, storage, surfaces).

# Usage

Initialize the engine with a model client and a task source, then run a goal.

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/espalier"
		"github.com/aretw0/espalier/pkg/adapters/llm"
		"github.com/aretw0/espalier/pkg/adapters/memory"
	)

	func main() {
		model, err := llm.New(llm.Config{Provider: "ollama", Model: "llama3.2"})
		if err != nil {
			log.Fatal(err)
		}

		source, err := memory.NewSourceFromFile("./tasks.json")
		if err != nil {
			log.Fatal(err)
		}

		eng, err := espalier.New(
			espalier.WithModel(model),
			espalier.WithTaskSource(source),
		)
		if err != nil {
			log.Fatal(err)
		}

		record, err := eng.Run(context.Background(), "Process today's tasks")
		if err != nil {
			log.Fatal(err)
		}

		fmt.Printf("%d/%d tasks completed, report at %s\n",
			record.CompletedCount, record.TaskCount, record.ReportLocation)
	}
*/
package espalier
